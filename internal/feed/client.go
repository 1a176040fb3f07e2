package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// RawFrame is one binary frame read from the feed socket, stamped with
// the local receive time.
type RawFrame struct {
	Data       []byte
	ReceivedAt time.Time
}

// Client is a single socket connection to the feed server. The Streamer
// owns exactly one at a time; tests substitute their own.
type Client interface {
	// Send writes one control frame to the connection.
	Send(data []byte) error

	// Messages returns the channel of inbound frames.
	Messages() <-chan RawFrame

	// Errors returns the channel of connection errors, including
	// staleness detected by the inactivity watchdog.
	Errors() <-chan error

	// Close shuts the socket down and stops the read loop. Idempotent.
	Close() error
}

// ClientConfig configures a single feed connection.
type ClientConfig struct {
	WriteTimeout time.Duration // Write deadline for control frames
	ReadTimeout  time.Duration // Max silence before the connection is stale
	BufferSize   int           // Inbound frame channel capacity
}

type wsClient struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn *websocket.Conn

	messages chan RawFrame
	errors   chan error
	done     chan struct{}

	// Write serialization
	writeMu sync.Mutex

	mu          sync.Mutex
	lastFrameAt time.Time
	closed      bool
}

// dialFeed opens a socket to the signed feed URL and starts the read
// and watchdog loops.
func dialFeed(ctx context.Context, wsURL string, cfg ClientConfig, logger *slog.Logger) (Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, err
	}

	c := &wsClient{
		cfg:      cfg,
		logger:   logger,
		conn:     conn,
		messages: make(chan RawFrame, cfg.BufferSize),
		errors:   make(chan error, 1),
		done:     make(chan struct{}),
	}
	c.lastFrameAt = time.Now()

	// Server pings count as liveness: reset the inactivity clock and
	// answer with a pong.
	conn.SetPingHandler(func(data string) error {
		c.touch()
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})
	conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	go c.readLoop()
	go c.watchdogLoop()

	logger.Debug("feed socket connected")
	return c, nil
}

func (c *wsClient) touch() {
	c.mu.Lock()
	c.lastFrameAt = time.Now()
	c.mu.Unlock()
}

// Send writes one control frame, serialized against concurrent senders.
func (c *wsClient) Send(data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *wsClient) Messages() <-chan RawFrame {
	return c.messages
}

func (c *wsClient) Errors() <-chan error {
	return c.errors
}

// Close unblocks a parked read by closing the underlying socket.
func (c *wsClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)

	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return c.conn.Close()
}

// readLoop reads frames until the socket errors or Close is called.
func (c *wsClient) readLoop() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			// Errors after Close are expected and dropped.
			select {
			case <-c.done:
			default:
				select {
				case c.errors <- err:
				default:
				}
			}
			return
		}

		c.touch()

		// Block when the channel is full: a slow consumer backs up into
		// the socket rather than losing frames without signal.
		select {
		case c.messages <- RawFrame{Data: data, ReceivedAt: receivedAt}:
		case <-c.done:
			return
		}
	}
}

// watchdogLoop declares the connection stale when no frame or ping has
// arrived within the read timeout.
func (c *wsClient) watchdogLoop() {
	interval := c.cfg.ReadTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			last := c.lastFrameAt
			c.mu.Unlock()

			if time.Since(last) > c.cfg.ReadTimeout {
				c.logger.Warn("no frames received, connection stale",
					"last_frame", last,
					"timeout", c.cfg.ReadTimeout,
				)
				select {
				case c.errors <- ErrStaleConnection:
				default:
				}
				return
			}
		}
	}
}
