package feed

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/upstox-data/internal/decode"
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// Authorizer obtains a time-limited, signed feed URL. The Streamer
// treats the URL as opaque and re-runs the handshake on every
// reconnect rather than interpreting its expiry.
type Authorizer interface {
	AuthorizeFeed(ctx context.Context) (string, error)
}

// Config configures a Streamer. Zero fields take defaults.
type Config struct {
	ReconnectBaseDelay time.Duration // Initial backoff between reconnect attempts
	ReconnectMaxDelay  time.Duration // Backoff cap
	ReadTimeout        time.Duration // Max silence before the connection is stale
	WriteTimeout       time.Duration // Write deadline for control frames
	BufferSize         int           // Inbound frame channel capacity
	JoinTimeout        time.Duration // Bound on Disconnect waiting for the reader loop
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ReconnectBaseDelay: 1 * time.Second,
		ReconnectMaxDelay:  60 * time.Second,
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       5 * time.Second,
		BufferSize:         1000,
		JoinTimeout:        10 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = def.ReconnectMaxDelay
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.BufferSize == 0 {
		c.BufferSize = def.BufferSize
	}
	if c.JoinTimeout == 0 {
		c.JoinTimeout = def.JoinTimeout
	}
}

type dialFunc func(ctx context.Context, wsURL string, cfg ClientConfig, logger *slog.Logger) (Client, error)

// Streamer is a self-contained streaming market-data client. One
// instance owns one socket, one subscription table, and one reader
// loop; nothing is shared across instances.
type Streamer struct {
	cfg    Config
	auth   Authorizer
	logger *slog.Logger

	handlers registry
	subs     *subTable
	dial     dialFunc

	mu         sync.Mutex
	state      State
	client     Client
	cancel     context.CancelFunc
	readerDone chan struct{}

	// Goroutine id of the running reader loop, 0 when none. Used to
	// detect Disconnect called from inside a handler.
	readerGID atomic.Uint64

	// Reconnect attempts in the current outage, 0 when healthy.
	attempts atomic.Int64
}

// NewStreamer creates a Streamer using auth for the feed-URL
// handshake. A nil logger falls back to slog.Default().
func NewStreamer(auth Authorizer, cfg Config, logger *slog.Logger) *Streamer {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	return &Streamer{
		cfg:    cfg,
		auth:   auth,
		logger: logger,
		subs:   newSubTable(),
		dial:   dialFeed,
		state:  StateDisconnected,
	}
}

// State returns the current connection state.
func (s *Streamer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ReconnectAttempts returns the number of reconnect attempts made in
// the current outage, 0 when the connection is healthy.
func (s *Streamer) ReconnectAttempts() int64 {
	return s.attempts.Load()
}

// Connect runs the feed-URL handshake, opens the socket, and starts
// the reader loop. It blocks only for the handshake and socket open.
// Valid from Disconnected or Closed; any other state is an error.
func (s *Streamer) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateDisconnected && s.state != StateClosed {
		state := s.state
		s.mu.Unlock()
		return &ConnectionError{Op: "connect", Err: errors.New("connect called in state " + state.String())}
	}
	s.state = StateConnecting
	s.mu.Unlock()

	client, err := s.establish(ctx)
	if err != nil {
		s.mu.Lock()
		if s.state == StateConnecting {
			s.state = StateDisconnected
		}
		s.mu.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	if s.state != StateConnecting {
		// Disconnect raced the handshake; abandon the attempt.
		s.mu.Unlock()
		cancel()
		client.Close()
		return &ConnectionError{Op: "connect", Err: ErrAlreadyClosed}
	}
	s.client = client
	s.cancel = cancel
	s.readerDone = done
	s.state = StateConnected
	s.mu.Unlock()

	go s.run(runCtx, client, done)

	s.logger.Info("feed connected")
	return nil
}

// Disconnect closes the socket, cancels any pending backoff, and moves
// the state to Closed. It is idempotent, interrupts an in-flight
// reconnect, and waits (bounded) for the reader loop to exit — unless
// called from a handler running on that loop, in which case the loop
// tears itself down after the handler returns.
func (s *Streamer) Disconnect() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	done := s.readerDone
	cancel := s.cancel
	client := s.client
	s.state = StateClosed
	s.cancel = nil
	s.client = nil
	s.readerDone = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if client != nil {
		client.Close()
	}

	if done == nil {
		// No reader loop was ever started in this cycle, so dispatch
		// the disconnect event from here.
		s.dispatchDisconnect(websocket.CloseNormalClosure, "client disconnect")
		return nil
	}

	if s.readerGID.Load() == goroutineID() {
		// Self-termination from a handler: the reader loop exits when
		// the handler returns. Joining here would deadlock.
		return nil
	}

	select {
	case <-done:
		return nil
	case <-time.After(s.cfg.JoinTimeout):
		return &ConnectionError{Op: "disconnect", Err: errors.New("reader loop did not exit within join timeout")}
	}
}

// WithSession connects, runs fn, and guarantees Disconnect on every
// exit path, including a panic inside fn.
func (s *Streamer) WithSession(ctx context.Context, fn func(*Streamer) error) error {
	if err := s.Connect(ctx); err != nil {
		return err
	}
	defer s.Disconnect()
	return fn(s)
}

// establish runs the handshake and opens a socket.
func (s *Streamer) establish(ctx context.Context) (Client, error) {
	wsURL, err := s.auth.AuthorizeFeed(ctx)
	if err != nil {
		return nil, &ConnectionError{Op: "handshake", Err: err}
	}

	client, err := s.dial(ctx, wsURL, ClientConfig{
		WriteTimeout: s.cfg.WriteTimeout,
		ReadTimeout:  s.cfg.ReadTimeout,
		BufferSize:   s.cfg.BufferSize,
	}, s.logger)
	if err != nil {
		return nil, &ConnectionError{Op: "connect", Err: err}
	}
	return client, nil
}

func (s *Streamer) currentClient() Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

func (s *Streamer) connectedForControl() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateConnected && s.client != nil
}

// run is the reader loop: the single goroutine that reads frames,
// decodes them, dispatches to handlers, and drives reconnection. Every
// error born here is converted to an error event, never raised.
func (s *Streamer) run(ctx context.Context, client Client, done chan struct{}) {
	s.readerGID.Store(goroutineID())
	defer s.readerGID.Store(0)
	defer close(done)

	s.dispatchConnect()
	if err := s.replaySubscriptions(); err != nil {
		s.dispatchError(err)
	}

	for {
		select {
		case <-ctx.Done():
			s.dispatchDisconnect(websocket.CloseNormalClosure, "client disconnect")
			return

		case err := <-client.Errors():
			if ctx.Err() != nil {
				s.dispatchDisconnect(websocket.CloseNormalClosure, "client disconnect")
				return
			}
			s.dispatchError(&ConnectionError{Op: "read", Err: err})

			next := s.reconnect(ctx)
			if next == nil {
				s.dispatchDisconnect(websocket.CloseAbnormalClosure, "reconnect abandoned")
				return
			}
			client = next

		case frame, ok := <-client.Messages():
			if !ok {
				if ctx.Err() != nil {
					s.dispatchDisconnect(websocket.CloseNormalClosure, "client disconnect")
					return
				}
				next := s.reconnect(ctx)
				if next == nil {
					s.dispatchDisconnect(websocket.CloseAbnormalClosure, "reconnect abandoned")
					return
				}
				client = next
				continue
			}

			msg, err := decode.Decode(frame.Data)
			if err != nil {
				// Malformed frame: report and keep decoding. No frame
				// is ever dropped without signal.
				s.dispatchError(err)
				continue
			}
			s.dispatchMessage(msg)
		}
	}
}

// reconnect runs the backoff loop until a new connection is live or a
// concurrent Disconnect abandons the attempt (nil return). On success
// the connect event fires again and the subscription table is
// replayed.
func (s *Streamer) reconnect(ctx context.Context) Client {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return nil
	}
	s.state = StateReconnecting
	old := s.client
	s.client = nil
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}

	delay := s.cfg.ReconnectBaseDelay
	for attempt := 1; ; attempt++ {
		s.attempts.Store(int64(attempt))

		// Jitter: delay/2 to 3*delay/2, interruptible by Disconnect.
		wait := delay/2 + time.Duration(rand.Int63n(int64(delay)))
		s.logger.Info("reconnecting", "attempt", attempt, "backoff", wait)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}

		client, err := s.establish(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.dispatchError(err)

			delay *= 2
			if delay > s.cfg.ReconnectMaxDelay {
				delay = s.cfg.ReconnectMaxDelay
			}
			continue
		}

		s.mu.Lock()
		if s.state != StateReconnecting {
			s.mu.Unlock()
			client.Close()
			return nil
		}
		s.client = client
		s.state = StateConnected
		s.mu.Unlock()

		s.attempts.Store(0)
		s.logger.Info("reconnected", "attempts", attempt)

		s.dispatchConnect()
		if err := s.replaySubscriptions(); err != nil {
			s.dispatchError(err)
		}
		return client
	}
}

// goroutineID parses the current goroutine's id from its stack header
// ("goroutine N [running]:"). Only used to recognize Disconnect calls
// made from a handler on the reader goroutine.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	header := strings.TrimPrefix(string(buf[:n]), "goroutine ")
	end := strings.IndexByte(header, ' ')
	if end < 0 {
		return 0
	}
	id, err := strconv.ParseUint(header[:end], 10, 64)
	if err != nil {
		return 0
	}
	return id
}
