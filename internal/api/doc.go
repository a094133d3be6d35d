// Package api implements the read-only telemetry relay for probebench.
//
// The relay exposes:
//   - GET /api/v1/health for liveness and broker counters
//   - GET /api/v1/streams for the channel table
//   - GET /api/v1/drivers and GET /api/v1/devices for inventory
//   - a WebSocket endpoint that pushes stream envelopes to subscribers
//
// No lifecycle operation is reachable through this package. Scanning,
// connecting and commanding devices stay with the console.
//
// # WebSocket protocol
//
// Clients send {"type":"subscribe","payload":{"channels":["can0"]}} and
// receive envelopes for those channels as they are broadcast. Subscribing
// registers interest with the stream broker so drivers can see that the
// channel has a listener; unsubscribing or disconnecting releases it. The
// channel "*" receives every envelope without registering interest.
package api
