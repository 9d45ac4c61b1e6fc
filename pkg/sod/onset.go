package sod

import "time"

// Onset describes a confirmed speech onset. Frame indices count from the
// first frame fed after creation or the last Reset.
type Onset struct {
	Frame      int64   `json:"frame"`       // frame that confirmed the onset
	StartFrame int64   `json:"start_frame"` // first speech frame of the burst
	Level      float64 `json:"level_db"`    // confirming frame level, dBFS
	Floor      float64 `json:"floor_db"`    // noise floor at confirmation, dBFS
}

// At returns the stream offset of the confirming frame.
func (o Onset) At() time.Duration {
	return time.Duration(o.Frame) * FrameDuration
}

// StartAt returns the stream offset of the first speech frame.
func (o Onset) StartAt() time.Duration {
	return time.Duration(o.StartFrame) * FrameDuration
}

// SearchWindow bounds where the true start of speech lies given the hit
// delay limits.
func (o Onset) SearchWindow() (from, to time.Duration) {
	at := o.At()
	from = max(at-MaxHitLateDelay, 0)
	return from, at + MaxHitEarlyDelay
}

// FrameStats describes the most recent frame.
type FrameStats struct {
	Level  float64 `json:"level_db"`
	Floor  float64 `json:"floor_db"`
	SNR    float64 `json:"snr_db"`
	Speech bool    `json:"speech"`
}
