// Package decode turns raw binary feed frames into typed feed messages.
//
// The feed server emits proto3 wire-format frames with two top-level
// shapes: a market-info frame (exchange segment → status) and a live-feed
// frame (instrument key → per-instrument payload). Decoding is a pure
// function of the frame bytes: it never consults subscription state and
// has no side effects.
//
// Presence is first class. Sub-records that were not part of the
// requested mode are nil pointers, never zero-valued structs. A frame
// carrying a field number outside the supported schema fails with a
// *DecodeError instead of being skipped, so a schema bump upstream
// surfaces as an error rather than silently mis-parsed data.
package decode
