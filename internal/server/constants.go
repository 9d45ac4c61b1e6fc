// Package server provides HTTP and WebSocket handlers
package server

import "time"

// Server configuration constants
const (
	// Per-connection sliding window for text messages
	RateLimitMessages = 20
	RateLimitWindow   = time.Second

	// Largest websocket message accepted (about 32s of PCM16 at 16kHz)
	MaxMessageBytes = 1 << 20

	// Outbound messages queued per client before new ones are dropped
	ClientSendBuffer = 64

	// Write deadline for one websocket message
	WriteTimeout = 5 * time.Second

	// Default and maximum row counts for onset listings
	DefaultOnsetLimit = 50
	MaxOnsetLimit     = 1000
)
