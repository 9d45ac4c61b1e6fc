// Package orchestrator wires capture, detection, history and the onset log
package orchestrator

import "time"

// Orchestrator configuration constants
const (
	// Source label for audio pushed over the network
	SourceRemote = "remote"

	// Buffered detector events awaiting broadcast
	EventBuffer = 256

	// Onset log batching
	OnsetLogMaxSize    = 50
	OnsetLogFlushDelay = 2 * time.Second

	// Stale stream cleanup interval
	StreamCleanupInterval = time.Minute
)
