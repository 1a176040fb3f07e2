package writer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rickgao/upstox-data/internal/decode"
)

func TestDepthWriter_Transform(t *testing.T) {
	cfg := DefaultWriterConfig()
	input := NewGrowableBuffer[DepthMsg](10)
	w := NewDepthWriter(cfg, input, nil, nil)

	receivedAt := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	msg := DepthMsg{
		InstrumentKey: "NSE_EQ|INE848E01016",
		ReceivedAt:    receivedAt,
		Levels: []decode.Quote{
			{BidQ: 500, BidP: 100.45, AskQ: 300, AskP: 100.55},
			{BidQ: 1200, BidP: 100.40, AskQ: 800, AskP: 100.60},
		},
	}

	row := w.transform(msg)

	if row.InstrumentKey != "NSE_EQ|INE848E01016" {
		t.Errorf("InstrumentKey = %s", row.InstrumentKey)
	}
	if row.ReceivedAt != receivedAt.UnixMicro() {
		t.Errorf("ReceivedAt = %d, want %d", row.ReceivedAt, receivedAt.UnixMicro())
	}
	if row.BestBid != 100.45 || row.BestAsk != 100.55 {
		t.Errorf("best bid/ask = %v/%v, want 100.45/100.55", row.BestBid, row.BestAsk)
	}
	if row.Levels != 2 {
		t.Errorf("Levels = %d, want 2", row.Levels)
	}

	var bids []priceLevel
	if err := json.Unmarshal(row.Bids, &bids); err != nil {
		t.Fatalf("unmarshal bids: %v", err)
	}
	if len(bids) != 2 || bids[0].Price != 100.45 || bids[0].Qty != 500 {
		t.Errorf("bids = %+v", bids)
	}

	var asks []priceLevel
	if err := json.Unmarshal(row.Asks, &asks); err != nil {
		t.Fatalf("unmarshal asks: %v", err)
	}
	if len(asks) != 2 || asks[1].Price != 100.60 || asks[1].Qty != 800 {
		t.Errorf("asks = %+v", asks)
	}
}

func TestDepthWriter_Transform_EmptyLadder(t *testing.T) {
	cfg := DefaultWriterConfig()
	input := NewGrowableBuffer[DepthMsg](10)
	w := NewDepthWriter(cfg, input, nil, nil)

	row := w.transform(DepthMsg{
		InstrumentKey: "NSE_EQ|INE848E01016",
		ReceivedAt:    time.Now(),
	})

	if row.BestBid != 0 || row.BestAsk != 0 {
		t.Errorf("best bid/ask = %v/%v, want 0/0", row.BestBid, row.BestAsk)
	}
	if row.Levels != 0 {
		t.Errorf("Levels = %d, want 0", row.Levels)
	}
}

func TestDepthFromFeed(t *testing.T) {
	receivedAt := time.Now()

	// Full mode: the ladder comes from the market level.
	ladder := &decode.InstrumentFeed{
		MarketLevel: &decode.MarketLevel{
			BidAskQuote: []decode.Quote{
				{BidP: 100.45, AskP: 100.55},
				{BidP: 100.40, AskP: 100.60},
			},
		},
	}
	msg, ok := DepthFromFeed("NSE_EQ|INE848E01016", ladder, receivedAt)
	if !ok {
		t.Fatal("DepthFromFeed() with ladder returned !ok")
	}
	if len(msg.Levels) != 2 {
		t.Errorf("len(Levels) = %d, want 2", len(msg.Levels))
	}

	// option_greeks mode: single top-of-book quote.
	topOnly := &decode.InstrumentFeed{
		FirstDepth: &decode.Quote{BidP: 45.10, AskP: 45.30},
	}
	msg, ok = DepthFromFeed("NSE_FO|53001", topOnly, receivedAt)
	if !ok {
		t.Fatal("DepthFromFeed() with first depth returned !ok")
	}
	if len(msg.Levels) != 1 || msg.Levels[0].AskP != 45.30 {
		t.Errorf("Levels = %+v", msg.Levels)
	}

	// ltpc mode: no depth at all.
	if _, ok := DepthFromFeed("NSE_EQ|INE848E01016", &decode.InstrumentFeed{}, receivedAt); ok {
		t.Error("DepthFromFeed() with no depth returned ok")
	}
	if _, ok := DepthFromFeed("NSE_EQ|INE848E01016", nil, receivedAt); ok {
		t.Error("DepthFromFeed(nil) returned ok")
	}
}

func TestDepthWriter_StopFlushesFinalBatch(t *testing.T) {
	cfg := WriterConfig{
		BatchSize:     100,
		FlushInterval: time.Hour,
	}
	input := NewGrowableBuffer[DepthMsg](10)
	db := &fakeBatchSender{}
	w := NewDepthWriter(cfg, input, db, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	input.Send(DepthMsg{
		InstrumentKey: "NSE_EQ|INE848E01016",
		ReceivedAt:    time.Now(),
		Levels:        []decode.Quote{{BidP: 100.45, AskP: 100.55}},
	})

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	batches, rows, ctxErrs := db.stats()
	if batches != 1 || rows != 1 {
		t.Errorf("final flush sent %d batches / %d rows, want 1/1", batches, rows)
	}
	for i, err := range ctxErrs {
		if err != nil {
			t.Errorf("batch %d sent on a dead context: %v", i, err)
		}
	}
	if stats := w.Stats(); stats.Inserts != 1 || stats.Errors != 0 {
		t.Errorf("Stats() = %+v, want 1 insert and no errors", stats)
	}
}

func TestDepthWriter_Lifecycle(t *testing.T) {
	cfg := WriterConfig{
		BatchSize:     10,
		FlushInterval: 100 * time.Millisecond,
	}
	input := NewGrowableBuffer[DepthMsg](10)

	w := NewDepthWriter(cfg, input, nil, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := w.Stop(stopCtx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}
