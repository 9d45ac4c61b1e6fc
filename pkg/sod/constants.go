// Package sod detects the onset of speech in a 16 kHz mono PCM stream
package sod

import "time"

// Sensitivity bounds
const (
	MinSensitivity     = 0
	MaxSensitivity     = 32767 // most sensitive
	NominalSensitivity = 16384 // recommended for wake-word front ends
)

// Supported onset gap settings. A talker usually pauses 200-500ms before
// addressing a device; the gap is the minimum quiet run that must precede a
// burst of speech for it to count as an onset.
const (
	OnsetGap1000ms = 1000 * time.Millisecond
	OnsetGap500ms  = 500 * time.Millisecond
	OnsetGap400ms  = 400 * time.Millisecond
	OnsetGap300ms  = 300 * time.Millisecond
	OnsetGap200ms  = 200 * time.Millisecond
	OnsetGap100ms  = 100 * time.Millisecond
	OnsetGap0ms    = 0 * time.Millisecond
)

// Hit delay bounds
const (
	// MaxHitLateDelay is the worst-case lag between the true start of speech
	// and its detection. Look back this far to recover the start.
	MaxHitLateDelay = 500 * time.Millisecond

	// MaxHitEarlyDelay is how far ahead of the true start a detection may
	// fire. Lower SNR moves detection earlier.
	MaxHitEarlyDelay = 350 * time.Millisecond
)

// Frame contract
const (
	SampleRate    = 16000
	FrameSamples  = 160 // 10ms
	FrameBytes    = FrameSamples * 2
	FrameDuration = time.Second * FrameSamples / SampleRate
)

// Detector tuning
const (
	maxThresholdDB   = 24.0 // threshold at sensitivity 0
	minThresholdDB   = 3.0  // threshold at MaxSensitivity
	minSpeechLevelDB = -55.0
	floorLimitDB     = -100.0
	floorFallRate    = 0.5
	floorRiseRate    = 0.05
	confirmFrames    = 5
	fullScale        = 32768.0
	levelEpsilon     = 1e-10
)

// OnsetGaps lists the supported gap settings, longest first.
var OnsetGaps = []time.Duration{
	OnsetGap1000ms,
	OnsetGap500ms,
	OnsetGap400ms,
	OnsetGap300ms,
	OnsetGap200ms,
	OnsetGap100ms,
	OnsetGap0ms,
}

// frames converts a duration to a whole number of frames.
func frames(d time.Duration) int {
	return int(d / FrameDuration)
}
