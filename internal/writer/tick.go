package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
)

// TickWriter consumes TickMsg from its buffer and writes to the
// ltpc_ticks table.
type TickWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	// Input from the recording handler
	input *GrowableBuffer[TickMsg]

	// Database
	db BatchSender

	// Batching
	batch       []tickRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics WriterMetrics
}

// NewTickWriter creates a new TickWriter.
func NewTickWriter(
	cfg WriterConfig,
	input *GrowableBuffer[TickMsg],
	db BatchSender,
	logger *slog.Logger,
) *TickWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &TickWriter{
		cfg:    cfg,
		input:  input,
		db:     db,
		logger: logger,
		batch:  make([]tickRow, 0, cfg.BatchSize),
	}
}

// Start begins consuming messages and writing to the database.
func (w *TickWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	// Consumer goroutine
	w.wg.Add(1)
	go w.consumeLoop()

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("tick writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer.
func (w *TickWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping tick writer")

	if w.cancel != nil {
		w.cancel()
	}

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("tick writer stopped")
	case <-ctx.Done():
		w.logger.Warn("tick writer stop timed out")
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
func (w *TickWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads from the input buffer and accumulates batches.
func (w *TickWriter) consumeLoop() {
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

// flushLoop periodically flushes the batch.
func (w *TickWriter) flushLoop() {
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

// handleMessage transforms and adds a message to the batch.
func (w *TickWriter) handleMessage(ctx context.Context, msg TickMsg) {
	row := w.transform(msg)

	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(ctx)
	}
}

// transform converts a TickMsg to a tickRow.
func (w *TickWriter) transform(msg TickMsg) tickRow {
	row := tickRow{
		LTT:           msg.LTPC.LTT,
		ReceivedAt:    msg.ReceivedAt.UnixMicro(),
		InstrumentKey: msg.InstrumentKey,
		LTP:           msg.LTPC.LTP,
		LTQ:           msg.LTPC.LTQ,
		CP:            msg.LTPC.CP,
	}

	if e := msg.Extras; e != nil {
		row.ATP = &e.ATP
		row.VTT = &e.VTT
		row.OI = &e.OI
		row.IV = &e.IV
		row.TBQ = &e.TBQ
		row.TSQ = &e.TSQ
	}

	return row
}

// flush writes the current batch to the database.
func (w *TickWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]tickRow, 0, w.cfg.BatchSize)
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

	w.logger.Debug("flushed ticks",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
// The (instrument_key, ltt) key deduplicates ticks re-delivered after a
// reconnect replay.
func (w *TickWriter) batchInsert(ctx context.Context, rows []tickRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO ltpc_ticks (ltt, received_at, instrument_key, ltp, ltq, cp, atp, vtt, oi, iv, tbq, tsq)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (instrument_key, ltt) DO NOTHING
		`, r.LTT, r.ReceivedAt, r.InstrumentKey, r.LTP, r.LTQ, r.CP, r.ATP, r.VTT, r.OI, r.IV, r.TBQ, r.TSQ)
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
