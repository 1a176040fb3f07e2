package writer

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/upstox-data/internal/decode"
)

// BatchSender is the slice of the pgx pool the writers use. Tests
// substitute their own.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// WriterConfig contains configuration for batch writers.
type WriterConfig struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     1000,
		FlushInterval: 5 * time.Second,
	}
}

// TickMsg is one LTPC update headed for the ticks table.
type TickMsg struct {
	InstrumentKey string
	ReceivedAt    time.Time
	LTPC          decode.LTPC
	Extras        *decode.Extras // nil when the mode carries none
}

// tickRow represents a row to be inserted into the ltpc_ticks table.
// Extras are nullable: absence on the wire stays absence in the table.
type tickRow struct {
	LTT           int64 // Last trade time, ms since epoch
	ReceivedAt    int64 // Microseconds
	InstrumentKey string
	LTP           float64
	LTQ           int64
	CP            float64
	ATP           *float64
	VTT           *int64
	OI            *float64
	IV            *float64
	TBQ           *float64
	TSQ           *float64
}

// DepthMsg is one order-book ladder headed for the depth table.
type DepthMsg struct {
	InstrumentKey string
	ReceivedAt    time.Time
	Levels        []decode.Quote
}

// depthRow represents a row for the depth_snapshots table.
type depthRow struct {
	ReceivedAt    int64 // Microseconds
	InstrumentKey string
	Bids          []byte // JSONB: [{price, qty}, ...]
	Asks          []byte // JSONB
	BestBid       float64
	BestAsk       float64
	Levels        int
}

// WriterMetrics holds metrics for a writer.
type WriterMetrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
}
