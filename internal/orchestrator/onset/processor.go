package onset

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	apperrors "github.com/GriffinCanCode/good-listener/backend/sod/internal/errors"
	"github.com/GriffinCanCode/good-listener/backend/sod/internal/syncx"
	"github.com/GriffinCanCode/good-listener/backend/sod/internal/trace"
	"github.com/GriffinCanCode/good-listener/backend/sod/pkg/sod"
)

// Event is a confirmed onset on one stream.
type Event struct {
	StreamID   string     `json:"stream"`
	Source     string     `json:"source"`
	Onset      sod.Onset  `json:"onset"`
	Config     sod.Config `json:"config"`
	DetectedAt time.Time  `json:"detected_at"`
}

// Window returns the look-back and look-ahead bounds for the true start
// of speech.
func (e Event) Window() (from, to time.Duration) { return e.Onset.SearchWindow() }

// Segment is the audio from shortly before an onset until speech stops.
type Segment struct {
	StreamID   string
	Source     string
	StartFrame int64
	EndFrame   int64 // exclusive
	Samples    []int16
	Truncated  bool // cut at the length limit while speech continued
	EndedAt    time.Time
}

// Duration returns the segment length.
func (s Segment) Duration() time.Duration {
	return time.Duration(len(s.Samples)) * time.Second / sod.SampleRate
}

// Start returns the stream offset of the first sample.
func (s Segment) Start() time.Duration {
	return time.Duration(s.StartFrame) * sod.FrameDuration
}

// Output collects what one call to Process produced.
type Output struct {
	Frames   int
	Onsets   []Event
	Segments []Segment
}

// Config for the onset processor
type Config struct {
	MaxSilenceFrames int
	PreRoll          time.Duration
	MaxSegment       time.Duration
	StaleTimeout     time.Duration
	Profile          bool
}

func (c Config) withDefaults() Config {
	if c.MaxSilenceFrames <= 0 {
		c.MaxSilenceFrames = DefaultMaxSilenceFrames
	}
	if c.PreRoll <= 0 {
		c.PreRoll = DefaultPreRoll
	}
	if c.MaxSegment <= 0 {
		c.MaxSegment = DefaultMaxSegment
	}
	if c.StaleTimeout <= 0 {
		c.StaleTimeout = StaleStreamTimeout
	}
	return c
}

// streamState tracks detection state per stream
type streamState struct {
	mu        sync.Mutex
	source    string
	det       *sod.Detector
	framer    sod.Framer
	version   uint64
	preroll   []int16
	segment   []int16
	segStart  int64
	inSegment bool
	closed    bool
	silence   int
	onsets    int64
	lastSeen  time.Time
}

// StreamStatus describes one live stream.
type StreamStatus struct {
	ID        string         `json:"id"`
	Source    string         `json:"source"`
	Frames    int64          `json:"frames"`
	Onsets    int64          `json:"onsets"`
	InSegment bool           `json:"in_segment"`
	Last      sod.FrameStats `json:"last_frame"`
	LastOnset *sod.Onset     `json:"last_onset,omitempty"`
	LastSeen  time.Time      `json:"last_seen"`
}

// Processor runs one detector per stream. Streams are independent; frames
// of a single stream must arrive in order.
type Processor struct {
	cfg       Config
	live      *syncx.Versioned[sod.Config]
	now       func() time.Time
	mu        sync.Mutex
	streams   map[string]*streamState
	profiling bool
}

// NewProcessor creates a processor that tunes its detectors from live.
// Changes to live reach each stream on its next Process call.
func NewProcessor(live *syncx.Versioned[sod.Config], cfg Config) *Processor {
	cfg = cfg.withDefaults()
	return &Processor{
		cfg:       cfg,
		live:      live,
		now:       time.Now,
		streams:   make(map[string]*streamState),
		profiling: cfg.Profile,
	}
}

// Process feeds samples of any length into the stream's detector.
func (p *Processor) Process(ctx context.Context, streamID, source string, samples []int16) (Output, error) {
	st, err := p.stream(streamID, source)
	if err != nil {
		return Output{}, err
	}
	return p.feed(ctx, st, streamID, source, samples)
}

// feed runs samples through st. A stream closed by Remove, Reset or
// CleanupStale after it was looked up is replaced by a fresh one.
func (p *Processor) feed(ctx context.Context, st *streamState, streamID, source string, samples []int16) (Output, error) {
	st.mu.Lock()
	for st.closed {
		st.mu.Unlock()
		var err error
		if st, err = p.stream(streamID, source); err != nil {
			return Output{}, err
		}
		st.mu.Lock()
	}
	defer st.mu.Unlock()

	if err := p.syncConfig(st); err != nil {
		return Output{}, err
	}

	var out Output
	err := st.framer.Write(samples, func(frame []int16) error {
		return p.frame(st, streamID, frame, &out)
	})
	if err != nil {
		return out, apperrors.FromSOD(err).WithMetadata("stream", streamID)
	}

	if len(out.Onsets) > 0 {
		log := trace.Logger(trace.WithStream(ctx, streamID))
		for _, ev := range out.Onsets {
			log.Debug("speech onset", "frame", ev.Onset.Frame, "at", ev.Onset.At())
		}
	}
	return out, nil
}

// stream returns the state for id, creating its detector on first use.
func (p *Processor) stream(id, source string) (*streamState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if st, ok := p.streams[id]; ok {
		st.lastSeen = now
		return st, nil
	}

	cfg, version := p.live.Load()
	prof := sod.NewProfiler()
	if p.profiling {
		prof.Enable()
	}
	det, err := sod.New(cfg, sod.WithProfiler(prof))
	if err != nil {
		return nil, apperrors.FromSOD(err)
	}
	st := &streamState{source: source, det: det, version: version, lastSeen: now}
	p.streams[id] = st
	slog.Debug("created onset stream", "stream", id, "source", source)
	return st, nil
}

func (p *Processor) syncConfig(st *streamState) error {
	cfg, version := p.live.Load()
	if version == st.version {
		return nil
	}
	if err := st.det.Reconfigure(cfg); err != nil {
		return apperrors.FromSOD(err)
	}
	st.version = version
	return nil
}

func (p *Processor) frame(st *streamState, id string, frame []int16, out *Output) error {
	status, err := st.det.Process(true, frame)
	if err != nil {
		return err
	}
	out.Frames++
	index := st.det.Frames() - 1
	speech := st.det.LastFrame().Speech

	if !st.inSegment {
		st.pushPreRoll(frame, p.cfg.PreRoll)
	} else {
		st.segment = append(st.segment, frame...)
	}

	if status == sod.StatusDetected {
		o, _ := st.det.LastOnset()
		st.onsets++
		out.Onsets = append(out.Onsets, Event{
			StreamID:   id,
			Source:     st.source,
			Onset:      o,
			Config:     st.det.Config(),
			DetectedAt: p.now(),
		})
		if !st.inSegment {
			st.inSegment = true
			st.segment = append([]int16(nil), st.preroll...)
			st.segStart = index + 1 - int64(len(st.preroll)/sod.FrameSamples)
			st.preroll = st.preroll[:0]
		}
		st.silence = 0
		return nil
	}

	if !st.inSegment {
		return nil
	}
	if speech {
		st.silence = 0
	} else {
		st.silence++
	}
	maxSamples := int(p.cfg.MaxSegment / sod.FrameDuration * sod.FrameSamples)
	truncated := len(st.segment) >= maxSamples
	if st.silence >= p.cfg.MaxSilenceFrames || truncated {
		out.Segments = append(out.Segments, Segment{
			StreamID:   id,
			Source:     st.source,
			StartFrame: st.segStart,
			EndFrame:   index + 1,
			Samples:    st.segment,
			Truncated:  truncated && st.silence < p.cfg.MaxSilenceFrames,
			EndedAt:    p.now(),
		})
		st.segment = nil
		st.inSegment = false
		st.silence = 0
	}
	return nil
}

// pushPreRoll keeps the most recent limit of audio.
func (st *streamState) pushPreRoll(frame []int16, limit time.Duration) {
	keep := int(limit/sod.FrameDuration) * sod.FrameSamples
	st.preroll = append(st.preroll, frame...)
	if over := len(st.preroll) - keep; over > 0 {
		st.preroll = append(st.preroll[:0], st.preroll[over:]...)
	}
}

// Streams reports live streams sorted by ID.
func (p *Processor) Streams() []StreamStatus {
	p.mu.Lock()
	states := make(map[string]*streamState, len(p.streams))
	for id, st := range p.streams {
		states[id] = st
	}
	p.mu.Unlock()

	out := make([]StreamStatus, 0, len(states))
	for id, st := range states {
		st.mu.Lock()
		s := StreamStatus{
			ID:        id,
			Source:    st.source,
			Frames:    st.det.Frames(),
			Onsets:    st.onsets,
			InSegment: st.inSegment,
			Last:      st.det.LastFrame(),
			LastSeen:  st.lastSeen,
		}
		if o, ok := st.det.LastOnset(); ok {
			s.LastOnset = &o
		}
		st.mu.Unlock()
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of live streams.
func (p *Processor) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.streams)
}

// Remove closes and forgets a stream.
func (p *Processor) Remove(id string) bool {
	p.mu.Lock()
	st, ok := p.streams[id]
	delete(p.streams, id)
	p.mu.Unlock()
	if ok {
		st.close()
	}
	return ok
}

// CleanupStale removes streams idle for longer than the stale timeout and
// returns their IDs.
func (p *Processor) CleanupStale() []string {
	p.mu.Lock()
	threshold := p.now().Add(-p.cfg.StaleTimeout)
	var stale []*streamState
	var ids []string
	for id, st := range p.streams {
		if st.lastSeen.Before(threshold) {
			delete(p.streams, id)
			stale = append(stale, st)
			ids = append(ids, id)
		}
	}
	p.mu.Unlock()

	for i, st := range stale {
		st.close()
		slog.Debug("cleaned up stale onset stream", "stream", ids[i])
	}
	sort.Strings(ids)
	return ids
}

// Reset closes every stream. Streams start fresh on their next chunk.
func (p *Processor) Reset() {
	p.mu.Lock()
	streams := p.streams
	p.streams = make(map[string]*streamState)
	p.mu.Unlock()

	for _, st := range streams {
		st.close()
	}
}

func (st *streamState) close() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.closed = true
	_ = st.det.Close()
}

// SetProfiling turns profiling on or off for current and future streams.
// Enabling clears collected data.
func (p *Processor) SetProfiling(on bool) {
	p.mu.Lock()
	p.profiling = on
	streams := make([]*streamState, 0, len(p.streams))
	for _, st := range p.streams {
		streams = append(streams, st)
	}
	p.mu.Unlock()

	for _, st := range streams {
		if on {
			st.det.Profiler().Enable()
		} else {
			st.det.Profiler().Disable()
		}
	}
}

// Profiling reports whether profiling is on.
func (p *Processor) Profiling() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.profiling
}

// Profiles returns profiler data per stream.
func (p *Processor) Profiles() map[string]sod.ProfileData {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]sod.ProfileData, len(p.streams))
	for id, st := range p.streams {
		out[id] = st.det.Profiler().Data()
	}
	return out
}

// ResetProfiles clears profiler data on every stream.
func (p *Processor) ResetProfiles() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, st := range p.streams {
		st.det.Profiler().Reset()
	}
}

// LogProfiles writes each stream's profile to log.
func (p *Processor) LogProfiles(log *slog.Logger) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, st := range p.streams {
		st.det.Profiler().PrintStats(log.With("stream", id))
	}
}
