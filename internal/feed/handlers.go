package feed

import (
	"sort"
	"sync"

	"github.com/rickgao/upstox-data/internal/decode"
)

// Handler signatures for the six event kinds. At most one handler is
// registered per kind; unregistered kinds are silently skipped.
type (
	// ConnectHandler fires after each successful connect, including
	// reconnects, before any data is dispatched for that session.
	ConnectHandler func()

	// DisconnectHandler fires once when the client shuts down, with a
	// close status code and reason.
	DisconnectHandler func(code int, reason string)

	// ErrorHandler receives every error originating inside the reader
	// loop: decode failures, transport errors, handler panics.
	ErrorHandler func(err error)

	// MarketStatusHandler receives exchange segment status updates.
	MarketStatusHandler func(status map[string]decode.SegmentStatus)

	// MarketDataHandler receives one instrument payload per call.
	MarketDataHandler func(instrumentKey string, feed *decode.InstrumentFeed)

	// MessageHandler is the catch-all: it receives every decoded frame
	// after the specific handlers have run.
	MessageHandler func(msg *decode.FeedMessage)
)

// registry holds the registered handlers. Callers mutate it before or
// between connect/disconnect cycles; the reader loop only reads.
type registry struct {
	mu           sync.RWMutex
	connect      ConnectHandler
	disconnect   DisconnectHandler
	err          ErrorHandler
	marketStatus MarketStatusHandler
	marketData   MarketDataHandler
	message      MessageHandler
}

// OnConnect registers the connect handler.
func (s *Streamer) OnConnect(fn ConnectHandler) {
	s.handlers.mu.Lock()
	s.handlers.connect = fn
	s.handlers.mu.Unlock()
}

// OnDisconnect registers the disconnect handler.
func (s *Streamer) OnDisconnect(fn DisconnectHandler) {
	s.handlers.mu.Lock()
	s.handlers.disconnect = fn
	s.handlers.mu.Unlock()
}

// OnError registers the error handler.
func (s *Streamer) OnError(fn ErrorHandler) {
	s.handlers.mu.Lock()
	s.handlers.err = fn
	s.handlers.mu.Unlock()
}

// OnMarketStatus registers the market-status handler.
func (s *Streamer) OnMarketStatus(fn MarketStatusHandler) {
	s.handlers.mu.Lock()
	s.handlers.marketStatus = fn
	s.handlers.mu.Unlock()
}

// OnMarketData registers the per-instrument market-data handler.
func (s *Streamer) OnMarketData(fn MarketDataHandler) {
	s.handlers.mu.Lock()
	s.handlers.marketData = fn
	s.handlers.mu.Unlock()
}

// OnMessage registers the catch-all message handler.
func (s *Streamer) OnMessage(fn MessageHandler) {
	s.handlers.mu.Lock()
	s.handlers.message = fn
	s.handlers.mu.Unlock()
}

// dispatchMessage delivers one decoded frame to the registered
// handlers, in frame order, on the reader goroutine.
func (s *Streamer) dispatchMessage(msg *decode.FeedMessage) {
	switch msg.Kind {
	case decode.KindMarketInfo:
		s.dispatchMarketStatus(msg.MarketInfo.SegmentStatus)
	case decode.KindLiveFeed:
		// Deterministic per-frame instrument order.
		keys := make([]string, 0, len(msg.LiveFeed.Feeds))
		for key := range msg.LiveFeed.Feeds {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			s.dispatchMarketData(key, msg.LiveFeed.Feeds[key])
		}
	}

	s.handlers.mu.RLock()
	fn := s.handlers.message
	s.handlers.mu.RUnlock()
	if fn == nil {
		return
	}
	s.guard("message", func() { fn(msg) })
}

func (s *Streamer) dispatchConnect() {
	s.handlers.mu.RLock()
	fn := s.handlers.connect
	s.handlers.mu.RUnlock()
	if fn == nil {
		return
	}
	s.guard("connect", fn)
}

func (s *Streamer) dispatchDisconnect(code int, reason string) {
	s.handlers.mu.RLock()
	fn := s.handlers.disconnect
	s.handlers.mu.RUnlock()
	if fn == nil {
		return
	}
	s.guard("disconnect", func() { fn(code, reason) })
}

func (s *Streamer) dispatchMarketStatus(status map[string]decode.SegmentStatus) {
	s.handlers.mu.RLock()
	fn := s.handlers.marketStatus
	s.handlers.mu.RUnlock()
	if fn == nil {
		return
	}
	s.guard("market_status", func() { fn(status) })
}

func (s *Streamer) dispatchMarketData(key string, feed *decode.InstrumentFeed) {
	s.handlers.mu.RLock()
	fn := s.handlers.marketData
	s.handlers.mu.RUnlock()
	if fn == nil {
		return
	}
	s.guard("market_data", func() { fn(key, feed) })
}

// dispatchError reports an error through the error handler. A panic in
// the error handler itself is logged and swallowed; there is nowhere
// further to report it.
func (s *Streamer) dispatchError(err error) {
	s.handlers.mu.RLock()
	fn := s.handlers.err
	s.handlers.mu.RUnlock()
	if fn == nil {
		s.logger.Warn("unhandled feed error", "error", err)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("error handler panicked", "recovered", r)
		}
	}()
	fn(err)
}

// guard invokes a handler and converts a panic into a DispatchError so
// one misbehaving consumer cannot stall ingestion.
func (s *Streamer) guard(event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.dispatchError(&DispatchError{Event: event, Recovered: r})
		}
	}()
	fn()
}
