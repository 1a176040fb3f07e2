// Package api provides the Upstox REST client used alongside the
// streaming feed.
//
// REST endpoints:
//   - Production: https://api.upstox.com/v2
//   - Sandbox: https://api-sandbox.upstox.com/v2
//
// The feed handshake (GET /feed/market-data-feed/authorize) returns a
// short-lived signed WebSocket URL; everything else is quotes, candles,
// portfolio, and order management.
package api
