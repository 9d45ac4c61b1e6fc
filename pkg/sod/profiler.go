package sod

import (
	"log/slog"
	"sync"
	"time"
)

// ProfileData is a snapshot of profiler counters.
type ProfileData struct {
	Frames  uint64        `json:"frames"`
	Elapsed time.Duration `json:"elapsed"`
}

// PerFrame returns the mean processing time per frame.
func (d ProfileData) PerFrame() time.Duration {
	if d.Frames == 0 {
		return 0
	}
	return d.Elapsed / time.Duration(d.Frames)
}

// Profiler accumulates frame counts and processing time while enabled.
// Start and Stop are driven by Detector.Process; the rest is for callers.
type Profiler struct {
	mu      sync.Mutex
	on      bool
	data    ProfileData
	started time.Time
	now     func() time.Time
}

// NewProfiler returns a disabled profiler.
func NewProfiler() *Profiler {
	return &Profiler{now: time.Now}
}

func (p *Profiler) setClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// Enable clears counters and starts collecting.
func (p *Profiler) Enable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data = ProfileData{}
	p.on = true
}

// Disable stops collecting; counters are kept.
func (p *Profiler) Disable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.on = false
}

// Enabled reports whether the profiler is collecting.
func (p *Profiler) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.on
}

// Start marks the beginning of one frame.
func (p *Profiler) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.on {
		return
	}
	p.data.Frames++
	p.started = p.now()
}

// Stop adds the time since Start.
func (p *Profiler) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.on || p.started.IsZero() {
		return
	}
	p.data.Elapsed += p.now().Sub(p.started)
	p.started = time.Time{}
}

// Data returns the counters. A disabled profiler reports zero values.
func (p *Profiler) Data() ProfileData {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.on {
		return ProfileData{}
	}
	return p.data
}

// Reset clears counters while enabled.
func (p *Profiler) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.on {
		p.data = ProfileData{}
	}
}

// PrintStats logs the counters regardless of state.
func (p *Profiler) PrintStats(log *slog.Logger) {
	p.mu.Lock()
	data := p.data
	p.mu.Unlock()
	if log == nil {
		log = slog.Default()
	}
	log.Info("sod profile", "frames", data.Frames, "elapsed", data.Elapsed, "per_frame", data.PerFrame())
}
