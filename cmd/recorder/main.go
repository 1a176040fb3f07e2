// recorder connects to the Upstox market-data feed and persists ticks
// and depth snapshots to TimescaleDB.
// Usage: go run ./cmd/recorder --config configs/recorder.local.yaml
//
// Required environment variables:
//
//	UPSTOX_ACCESS_TOKEN - OAuth access token from the Upstox dashboard
//	TIMESCALE_PASSWORD  - Database password
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/upstox-data/internal/api"
	"github.com/rickgao/upstox-data/internal/config"
	"github.com/rickgao/upstox-data/internal/database"
	"github.com/rickgao/upstox-data/internal/decode"
	"github.com/rickgao/upstox-data/internal/feed"
	"github.com/rickgao/upstox-data/internal/version"
	"github.com/rickgao/upstox-data/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/recorder.example.yaml", "path to config file")
	healthAddr := flag.String("health", ":8080", "health endpoint listen address (empty to disable)")
	flag.Parse()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.RequireDatabase(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting recorder",
		"version", version.String(),
		"instance", cfg.Instance.ID,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	// Connect to TimescaleDB
	logger.Info("connecting to database",
		"host", cfg.Database.Timescale.Host,
		"port", cfg.Database.Timescale.Port,
		"name", cfg.Database.Timescale.Name,
	)
	pool, err := database.Connect(ctx, cfg.Database.Timescale)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Buffers decouple the feed reader goroutine from the writers.
	tickBuf := writer.NewGrowableBuffer[writer.TickMsg](cfg.Writers.BufferSize)
	depthBuf := writer.NewGrowableBuffer[writer.DepthMsg](cfg.Writers.BufferSize)

	writerCfg := writer.WriterConfig{
		BatchSize:     cfg.Writers.BatchSize,
		FlushInterval: cfg.Writers.FlushInterval,
	}
	tickWriter := writer.NewTickWriter(writerCfg, tickBuf, pool, logger)
	depthWriter := writer.NewDepthWriter(writerCfg, depthBuf, pool, logger)

	if err := tickWriter.Start(ctx); err != nil {
		logger.Error("failed to start tick writer", "error", err)
		os.Exit(1)
	}
	if err := depthWriter.Start(ctx); err != nil {
		logger.Error("failed to start depth writer", "error", err)
		os.Exit(1)
	}

	// Create API client for feed authorization
	apiClient := api.NewClient(cfg.API.BaseURL, cfg.API.AccessToken,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
	)

	streamer := feed.NewStreamer(apiClient, feed.Config{
		ReconnectBaseDelay: cfg.Feed.ReconnectBaseDelay,
		ReconnectMaxDelay:  cfg.Feed.ReconnectMaxDelay,
		ReadTimeout:        cfg.Feed.ReadTimeout,
		WriteTimeout:       cfg.Feed.WriteTimeout,
		BufferSize:         cfg.Feed.BufferSize,
		JoinTimeout:        cfg.Feed.JoinTimeout,
	}, logger)

	streamer.OnConnect(func() {
		logger.Info("feed connected")
	})
	streamer.OnDisconnect(func(code int, reason string) {
		logger.Info("feed disconnected", "code", code, "reason", reason)
	})
	streamer.OnError(func(err error) {
		logger.Error("feed error", "error", err)
	})
	streamer.OnMarketData(func(key string, f *decode.InstrumentFeed) {
		now := time.Now().UTC()
		if tick, ok := writer.TickFromFeed(key, f, now); ok {
			tickBuf.Send(tick)
		}
		if depth, ok := writer.DepthFromFeed(key, f, now); ok {
			depthBuf.Send(depth)
		}
	})

	if err := streamer.Connect(ctx); err != nil {
		logger.Error("failed to connect to feed", "error", err)
		os.Exit(1)
	}
	defer streamer.Disconnect()

	// Apply configured subscriptions
	for _, sub := range cfg.Subscriptions {
		if err := streamer.Subscribe(sub.InstrumentKeys, feed.Mode(sub.Mode)); err != nil {
			logger.Error("subscribe failed", "mode", sub.Mode, "error", err)
			os.Exit(1)
		}
		logger.Info("subscribed", "mode", sub.Mode, "instruments", len(sub.InstrumentKeys))
	}

	g, gctx := errgroup.WithContext(ctx)

	// Health endpoint
	var healthServer *http.Server
	if *healthAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			status := map[string]any{
				"status":   "ok",
				"state":    streamer.State().String(),
				"instance": cfg.Instance.ID,
			}
			pingCtx, pingCancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer pingCancel()
			if err := pool.Ping(pingCtx); err != nil {
				status["status"] = "degraded"
				status["database"] = err.Error()
				w.WriteHeader(http.StatusServiceUnavailable)
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(status)
		})
		healthServer = &http.Server{Addr: *healthAddr, Handler: mux}
		g.Go(func() error {
			logger.Info("health endpoint listening", "addr", *healthAddr)
			if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("health server: %w", err)
			}
			return nil
		})
	}

	// Stats printer
	g.Go(func() error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				tickStats := tickWriter.Stats()
				depthStats := depthWriter.Stats()
				logger.Info("stats",
					"state", streamer.State().String(),
					"tick_inserts", tickStats.Inserts,
					"tick_conflicts", tickStats.Conflicts,
					"tick_errors", tickStats.Errors,
					"depth_inserts", depthStats.Inserts,
					"depth_errors", depthStats.Errors,
					"tick_buf", tickBuf.Len(),
					"depth_buf", depthBuf.Len(),
				)
			}
		}
	})

	logger.Info("recording started - press Ctrl+C to stop")

	// Wait for shutdown or component failure
	<-gctx.Done()
	cancel()

	// Graceful shutdown: stop the feed first so no new messages arrive,
	// then flush the writers.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	if err := streamer.Disconnect(); err != nil {
		logger.Warn("disconnect", "error", err)
	}
	if healthServer != nil {
		healthServer.Shutdown(shutdownCtx)
	}
	if err := tickWriter.Stop(shutdownCtx); err != nil {
		logger.Warn("tick writer stop", "error", err)
	}
	if err := depthWriter.Stop(shutdownCtx); err != nil {
		logger.Warn("depth writer stop", "error", err)
	}
	if err := g.Wait(); err != nil {
		logger.Error("component failed", "error", err)
	}

	logger.Info("shutdown complete")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
