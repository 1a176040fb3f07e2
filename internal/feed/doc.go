// Package feed implements the streaming market-data client: connection
// lifecycle with reconnect and backoff, per-instrument subscription
// bookkeeping that survives reconnects, and synchronous dispatch of
// decoded feed messages to registered handlers.
//
// A single reader goroutine drives the whole pipeline (read frame →
// decode → dispatch) and is the only goroutine that invokes handlers.
// All exported operations are safe to call concurrently with it.
package feed
