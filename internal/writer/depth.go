package writer

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/upstox-data/internal/decode"
)

// DepthWriter consumes DepthMsg from its buffer and writes order-book
// ladders to the depth_snapshots table.
type DepthWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	input *GrowableBuffer[DepthMsg]
	db    BatchSender

	batch       []depthRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics WriterMetrics
}

// NewDepthWriter creates a new DepthWriter.
func NewDepthWriter(
	cfg WriterConfig,
	input *GrowableBuffer[DepthMsg],
	db BatchSender,
	logger *slog.Logger,
) *DepthWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &DepthWriter{
		cfg:    cfg,
		input:  input,
		db:     db,
		logger: logger,
		batch:  make([]depthRow, 0, cfg.BatchSize),
	}
}

// Start begins consuming messages and writing to the database.
func (w *DepthWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("depth writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer.
func (w *DepthWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping depth writer")

	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("depth writer stopped")
	case <-ctx.Done():
		w.logger.Warn("depth writer stop timed out")
	}

	// Drain whatever is still queued, then flush the final batch on the
	// caller's context — the writer's own context is already cancelled.
	for {
		msg, ok := w.input.TryReceive()
		if !ok {
			break
		}
		w.handleMessage(ctx, msg)
	}
	w.flush(ctx)
	return nil
}

// Stats returns current metrics.
func (w *DepthWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

func (w *DepthWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
			msg, ok := w.input.TryReceive()
			if !ok {
				select {
				case <-w.ctx.Done():
					return
				case <-time.After(10 * time.Millisecond):
					continue
				}
			}

			w.handleMessage(w.ctx, msg)
		}
	}
}

func (w *DepthWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

func (w *DepthWriter) handleMessage(ctx context.Context, msg DepthMsg) {
	row := w.transform(msg)

	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(ctx)
	}
}

// priceLevel is the JSONB shape of one side of one rung.
type priceLevel struct {
	Price float64 `json:"price"`
	Qty   int64   `json:"qty"`
}

// transform converts a DepthMsg to a depthRow. Level zero is the top
// of the book.
func (w *DepthWriter) transform(msg DepthMsg) depthRow {
	bids := make([]priceLevel, 0, len(msg.Levels))
	asks := make([]priceLevel, 0, len(msg.Levels))
	for _, q := range msg.Levels {
		bids = append(bids, priceLevel{Price: q.BidP, Qty: q.BidQ})
		asks = append(asks, priceLevel{Price: q.AskP, Qty: q.AskQ})
	}

	bidsJSON, err := json.Marshal(bids)
	if err != nil {
		w.logger.Error("marshal bids", "error", err)
	}
	asksJSON, err := json.Marshal(asks)
	if err != nil {
		w.logger.Error("marshal asks", "error", err)
	}

	row := depthRow{
		ReceivedAt:    msg.ReceivedAt.UnixMicro(),
		InstrumentKey: msg.InstrumentKey,
		Bids:          bidsJSON,
		Asks:          asksJSON,
		Levels:        len(msg.Levels),
	}
	if len(msg.Levels) > 0 {
		row.BestBid = msg.Levels[0].BidP
		row.BestAsk = msg.Levels[0].AskP
	}
	return row
}

func (w *DepthWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	batch := w.batch
	w.batch = make([]depthRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed depth snapshots",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

func (w *DepthWriter) batchInsert(ctx context.Context, rows []depthRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO depth_snapshots (received_at, instrument_key, bids, asks, best_bid, best_ask, levels)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (instrument_key, received_at) DO NOTHING
		`, r.ReceivedAt, r.InstrumentKey, r.Bids, r.Asks, r.BestBid, r.BestAsk, r.Levels)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}

// TickFromFeed builds a TickMsg from one instrument payload. Returns
// false when the payload carries no LTPC record.
func TickFromFeed(instrumentKey string, feed *decode.InstrumentFeed, receivedAt time.Time) (TickMsg, bool) {
	if feed == nil || feed.LTPC == nil {
		return TickMsg{}, false
	}
	return TickMsg{
		InstrumentKey: instrumentKey,
		ReceivedAt:    receivedAt,
		LTPC:          *feed.LTPC,
		Extras:        feed.Extras,
	}, true
}

// DepthFromFeed builds a DepthMsg from one instrument payload. Full
// modes carry a ladder; option_greeks carries a single top-of-book
// quote. Returns false when neither is present.
func DepthFromFeed(instrumentKey string, feed *decode.InstrumentFeed, receivedAt time.Time) (DepthMsg, bool) {
	if feed == nil {
		return DepthMsg{}, false
	}

	var levels []decode.Quote
	switch {
	case feed.MarketLevel != nil && len(feed.MarketLevel.BidAskQuote) > 0:
		levels = feed.MarketLevel.BidAskQuote
	case feed.FirstDepth != nil:
		levels = []decode.Quote{*feed.FirstDepth}
	default:
		return DepthMsg{}, false
	}

	return DepthMsg{
		InstrumentKey: instrumentKey,
		ReceivedAt:    receivedAt,
		Levels:        levels,
	}, true
}
