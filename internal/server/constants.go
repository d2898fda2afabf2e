// Package server exposes the local control API over HTTP and WebSocket
package server

import "time"

// Server configuration constants
const (
	// Per-connection websocket rate limiting
	RateLimitMessages = 20          // Max inbound messages per window
	RateLimitWindow   = time.Second // Sliding window duration

	// Deadline for a single push to a websocket client
	PushTimeout = 5 * time.Second
)
