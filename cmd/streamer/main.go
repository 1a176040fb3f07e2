// streamer connects to the Upstox market-data feed and streams decoded
// ticks to the console.
// Usage: go run ./cmd/streamer --config configs/streamer.local.yaml
//
// Required environment variables:
//
//	UPSTOX_ACCESS_TOKEN - OAuth access token from the Upstox dashboard
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/upstox-data/internal/api"
	"github.com/rickgao/upstox-data/internal/config"
	"github.com/rickgao/upstox-data/internal/decode"
	"github.com/rickgao/upstox-data/internal/feed"
	"github.com/rickgao/upstox-data/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/streamer.example.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print full depth ladders and extras")
	flag.Parse()

	// Load config
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting streamer",
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

	// Create API client for feed authorization
	apiClient := api.NewClient(cfg.API.BaseURL, cfg.API.AccessToken,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
	)

	// Create the streamer
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
	streamer.OnMarketStatus(func(status map[string]decode.SegmentStatus) {
		for segment, st := range status {
			fmt.Printf("[MARKET] segment=%s status=%d\n", segment, st)
		}
	})
	streamer.OnMarketData(func(key string, f *decode.InstrumentFeed) {
		printFeed(key, f, *verbose)
	})

	if err := streamer.Connect(ctx); err != nil {
		logger.Error("failed to connect", "error", err)
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

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				status := streamer.SubscriptionStatus()
				logger.Info("stats",
					"state", status.State.String(),
					"subscribed", len(status.Subscriptions),
					"reconnect_attempts", streamer.ReconnectAttempts(),
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")
	if err := streamer.Disconnect(); err != nil {
		logger.Warn("disconnect", "error", err)
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

func printFeed(key string, f *decode.InstrumentFeed, verbose bool) {
	if f.LTPC != nil {
		fmt.Printf("[TICK] key=%s ltp=%.2f ltq=%d cp=%.2f ltt=%d\n",
			key, f.LTPC.LTP, f.LTPC.LTQ, f.LTPC.CP, f.LTPC.LTT)
	}
	if f.OptionGreeks != nil {
		fmt.Printf("[GREEKS] key=%s delta=%.4f theta=%.4f gamma=%.4f vega=%.4f rho=%.4f\n",
			key, f.OptionGreeks.Delta, f.OptionGreeks.Theta, f.OptionGreeks.Gamma,
			f.OptionGreeks.Vega, f.OptionGreeks.Rho)
	}
	if f.MarketLevel != nil && len(f.MarketLevel.BidAskQuote) > 0 {
		top := f.MarketLevel.BidAskQuote[0]
		fmt.Printf("[DEPTH] key=%s levels=%d bid=%.2fx%d ask=%.2fx%d\n",
			key, len(f.MarketLevel.BidAskQuote), top.BidP, top.BidQ, top.AskP, top.AskQ)
		if verbose {
			for i, q := range f.MarketLevel.BidAskQuote {
				fmt.Printf("  L%02d bid=%.2fx%d ask=%.2fx%d\n", i+1, q.BidP, q.BidQ, q.AskP, q.AskQ)
			}
		}
	}
	if verbose && f.Extras != nil {
		fmt.Printf("[EXTRAS] key=%s atp=%.2f vtt=%d oi=%.0f iv=%.4f tbq=%.0f tsq=%.0f\n",
			key, f.Extras.ATP, f.Extras.VTT, f.Extras.OI, f.Extras.IV, f.Extras.TBQ, f.Extras.TSQ)
	}
}
