// Package onset runs speech onset detection over per-stream audio
package onset

import (
	"time"

	"github.com/GriffinCanCode/good-listener/backend/sod/pkg/sod"
)

// Onset processing constants
const (
	// Audio kept ahead of an onset so segments include the speech start
	DefaultPreRoll = sod.MaxHitLateDelay

	// Trailing non-speech frames that close a segment
	DefaultMaxSilenceFrames = 50

	// Segments are cut at this length even while speech continues
	DefaultMaxSegment = 30 * time.Second

	// Stale stream cleanup timeout
	StaleStreamTimeout = 5 * time.Minute
)
