// Package timesync backs the GET /time endpoint: a monotonic
// server-now reading clients use to estimate clock offset alongside
// the WebSocket PONG timestamps.
package timesync

import "github.com/synckairos/synckairos/internal/clock"

// Response is the JSON body of GET /time.
type Response struct {
	TimestampMs int64 `json:"timestamp_ms"`
}

// Now builds the response from clk (clock.Default in production, a
// clock.Frozen in tests).
func Now(clk clock.Clock) Response {
	return Response{TimestampMs: clk.Now().UnixMilli()}
}
