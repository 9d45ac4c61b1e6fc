package sod

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"
)

// Option configures a Detector.
type Option func(*Detector)

// WithProfiler attaches a profiler driven by Process.
func WithProfiler(p *Profiler) Option {
	return func(d *Detector) { d.profiler = p }
}

// WithClock sets the time source the attached profiler measures with.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.clock = now }
}

// Detector is a streaming speech onset detector. Instances are independent
// and safe for concurrent use, though frames of one stream must be fed in
// order.
type Detector struct {
	mu        sync.Mutex
	cfg       Config
	threshold float64
	gapFrames int
	profiler  *Profiler
	clock     func() time.Time
	closed    bool
	scratch   [FrameSamples]int16
	stream
}

// stream is the per-feed state cleared by Reset.
type stream struct {
	frame     int64
	floor     float64
	floorSet  bool
	quietRun  int
	speechRun int
	armed     bool
	fired     bool
	pending   bool
	pendingAt int64
	last      FrameStats
	onset     Onset
	hasOnset  bool
}

// New creates a detector for cfg.
func New(cfg Config, opts ...Option) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Detector{}
	d.apply(cfg)
	for _, opt := range opts {
		opt(d)
	}
	if d.clock != nil && d.profiler != nil {
		d.profiler.setClock(d.clock)
	}
	return d, nil
}

func (d *Detector) apply(cfg Config) {
	d.cfg = cfg
	d.threshold = cfg.threshold()
	d.gapFrames = frames(cfg.OnsetGap)
}

// Config returns the active configuration.
func (d *Detector) Config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// Reconfigure swaps tuning without clearing stream state.
func (d *Detector) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ResultInvalidHandle
	}
	d.apply(cfg)
	return nil
}

// Profiler returns the attached profiler, or nil.
func (d *Detector) Profiler() *Profiler { return d.profiler }

// Process consumes one frame of FrameSamples samples. With triggerCheck
// false the frame only feeds internal state and the status is always
// StatusInputDataProcessed. With triggerCheck true a pending onset is
// reported as StatusDetected.
func (d *Detector) Process(triggerCheck bool, frame []int16) (Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.process(triggerCheck, frame)
}

// ProcessBytes is Process for little-endian 16-bit PCM.
func (d *Detector) ProcessBytes(triggerCheck bool, pcm []byte) (Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return StatusInvalid, ResultInvalidHandle
	}
	if len(pcm) != FrameBytes {
		return StatusInvalid, fmt.Errorf("got %d bytes: %w", len(pcm), ResultBadFrame)
	}
	for i := range d.scratch {
		d.scratch[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return d.process(triggerCheck, d.scratch[:])
}

func (d *Detector) process(triggerCheck bool, frame []int16) (Status, error) {
	if d.closed {
		return StatusInvalid, ResultInvalidHandle
	}
	if len(frame) != FrameSamples {
		return StatusInvalid, fmt.Errorf("got %d samples: %w", len(frame), ResultBadFrame)
	}
	if d.profiler != nil {
		d.profiler.Start()
		defer d.profiler.Stop()
	}

	level := frameLevel(frame)
	if !d.floorSet {
		d.floor = max(level, floorLimitDB)
		d.floorSet = true
	}
	snr := level - d.floor
	speech := level >= minSpeechLevelDB && snr >= d.threshold
	d.last = FrameStats{Level: level, Floor: d.floor, SNR: snr, Speech: speech}

	if speech {
		if d.speechRun == 0 {
			d.armed = d.quietRun >= d.gapFrames
			d.fired = false
		}
		d.speechRun++
		d.quietRun = 0
		if d.armed && !d.fired && d.speechRun >= confirmFrames {
			d.fired = true
			d.pending = true
			d.pendingAt = d.frame
			d.onset = Onset{
				Frame:      d.frame,
				StartFrame: d.frame - int64(d.speechRun) + 1,
				Level:      level,
				Floor:      d.floor,
			}
			d.hasOnset = true
		}
	} else {
		d.speechRun = 0
		if d.quietRun < math.MaxInt32 {
			d.quietRun++
		}
		d.trackFloor(level)
	}

	if d.pending && d.frame-d.pendingAt >= int64(frames(MaxHitLateDelay)) {
		d.pending = false
	}
	d.frame++

	if triggerCheck && d.pending {
		d.pending = false
		return StatusDetected, nil
	}
	return StatusInputDataProcessed, nil
}

// trackFloor follows dips quickly and rises slowly. Speech frames never
// reach it, which freezes the floor during speech.
func (d *Detector) trackFloor(level float64) {
	if level < d.floor {
		d.floor += (level - d.floor) * floorFallRate
	} else {
		d.floor += (level - d.floor) * floorRiseRate
	}
	d.floor = max(d.floor, floorLimitDB)
}

// Reset discards stream state, as after a discontinuity in the feed.
func (d *Detector) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ResultInvalidHandle
	}
	d.stream = stream{}
	return nil
}

// Close releases the detector. Later calls fail with ResultInvalidHandle.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ResultAlreadyClosed
	}
	d.closed = true
	return nil
}

// LastOnset returns the most recent confirmed onset.
func (d *Detector) LastOnset() (Onset, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.onset, d.hasOnset
}

// LastFrame returns statistics for the most recent frame.
func (d *Detector) LastFrame() FrameStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// Frames returns the number of frames consumed since creation or Reset.
func (d *Detector) Frames() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frame
}

// frameLevel returns the mean power of a frame in dBFS.
func frameLevel(frame []int16) float64 {
	var sum float64
	for _, s := range frame {
		v := float64(s)
		sum += v * v
	}
	ms := sum / float64(len(frame)) / (fullScale * fullScale)
	return 10 * math.Log10(ms+levelEpsilon)
}
