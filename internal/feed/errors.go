package feed

import (
	"errors"
	"fmt"
)

// Sentinel errors for caller input validation and transport state.
var (
	ErrInvalidMode     = errors.New("invalid subscription mode")
	ErrInvalidKey      = errors.New("invalid instrument key")
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no frames within read timeout)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// ConnectionError wraps handshake, dial, and state-machine failures.
// It is never fatal to the Streamer itself; a new Connect may follow.
type ConnectionError struct {
	Op  string // "connect", "disconnect", "handshake", "read", "send"
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("feed %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// DispatchError reports a panic recovered from a registered handler.
// It is delivered through the error handler and never propagates to
// the reader loop.
type DispatchError struct {
	Event     string // Handler that panicked ("market_data", "message", ...)
	Recovered any    // Value recovered from the panic
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("handler %s panicked: %v", e.Event, e.Recovered)
}
