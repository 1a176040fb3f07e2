// Package writer persists decoded feed data to TimescaleDB.
//
// Writers consume from a GrowableBuffer so the feed's reader goroutine
// never blocks on the database: the recording handler converts a
// payload to a message, drops it in the buffer, and returns. Rows are
// batched and flushed by size or interval, with ON CONFLICT DO NOTHING
// making replays after a reconnect idempotent.
package writer
