package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/GriffinCanCode/good-listener/backend/sod/internal/audio"
	"github.com/GriffinCanCode/good-listener/backend/sod/internal/config"
	apperrors "github.com/GriffinCanCode/good-listener/backend/sod/internal/errors"
	"github.com/GriffinCanCode/good-listener/backend/sod/internal/metrics"
	"github.com/GriffinCanCode/good-listener/backend/sod/internal/orchestrator/events"
	"github.com/GriffinCanCode/good-listener/backend/sod/internal/orchestrator/onset"
	"github.com/GriffinCanCode/good-listener/backend/sod/internal/orchestrator/onsetlog"
	"github.com/GriffinCanCode/good-listener/backend/sod/internal/storage"
	"github.com/GriffinCanCode/good-listener/backend/sod/internal/syncx"
	"github.com/GriffinCanCode/good-listener/backend/sod/internal/trace"
	"github.com/GriffinCanCode/good-listener/backend/sod/pkg/sod"
)

// Event re-exported for the transport layer
type Event = events.Event

// CaptureSource produces audio chunks from local devices.
type CaptureSource interface {
	Start(ctx context.Context) error
	Output() <-chan audio.Chunk
	Stop()
	Devices() []audio.DeviceStatus
}

// Manager coordinates capture, per-stream detection, the in-memory history
// and the persistent onset log.
type Manager struct {
	cfg     *config.Config
	live    *syncx.Versioned[sod.Config]
	proc    *onset.Processor
	history *events.Store
	db      *storage.DB
	onsets  *onsetlog.Batcher
	metrics *metrics.Metrics
	capture CaptureSource
	started time.Time

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithStorage persists onsets to db.
func WithStorage(db *storage.DB) Option {
	return func(m *Manager) { m.db = db }
}

// WithMetrics records detector activity.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithCapture feeds local device audio into the detectors.
func WithCapture(c CaptureSource) Option {
	return func(m *Manager) { m.capture = c }
}

// New creates a manager from validated configuration.
func New(cfg *config.Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:     cfg,
		live:    syncx.NewVersioned(cfg.Detector),
		history: events.NewStore(cfg.OnsetHistory, EventBuffer),
		started: time.Now(),
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.proc = onset.NewProcessor(m.live, onset.Config{
		MaxSilenceFrames: cfg.MaxSilenceFrames,
		Profile:          cfg.Profile,
	})
	if m.db != nil {
		m.onsets = onsetlog.NewBatcher(m.db, OnsetLogMaxSize, OnsetLogFlushDelay,
			onsetlog.WithFlushHook(m.metrics.Flush))
	}
	return m
}

// Start begins device capture (when configured) and stream cleanup.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.stopCh:
		return apperrors.New(apperrors.CodeUnavailable, "orchestrator stopped")
	default:
	}
	if m.running {
		return nil
	}
	m.running = true
	log := trace.Logger(ctx)

	if m.capture != nil {
		if err := m.capture.Start(ctx); err != nil {
			log.Warn("audio capture start failed", "error", err)
		} else {
			m.wg.Add(1)
			go m.captureLoop(ctx)
		}
	}

	m.wg.Add(1)
	go m.cleanupLoop(ctx)

	log.Info("orchestrator started", "capture", m.capture != nil, "onset_log", m.db != nil)
	return nil
}

func (m *Manager) captureLoop(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case chunk := <-m.capture.Output():
			if err := m.ingest(ctx, chunk.DeviceID, chunk.Source, chunk.PCM16()); err != nil {
				trace.Logger(ctx).Warn("capture chunk rejected", "device", chunk.DeviceID, "error", err)
			}
		}
	}
}

func (m *Manager) cleanupLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(StreamCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			if ids := m.proc.CleanupStale(); len(ids) > 0 {
				trace.Logger(ctx).Debug("removed stale streams", "streams", ids)
				m.metrics.SetActiveStreams(m.proc.Len())
			}
		}
	}
}

// Stop halts capture, flushes the onset log and closes every detector.
// A stopped manager cannot be restarted.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.running = false
		close(m.stopCh)
		m.mu.Unlock()

		if m.capture != nil {
			m.capture.Stop()
		}
		m.wg.Wait()
		if m.onsets != nil {
			m.onsets.Stop()
		}
		if m.proc.Profiling() {
			m.proc.LogProfiles(trace.Logger(context.Background()))
		}
		m.proc.Reset()
		m.metrics.SetActiveStreams(0)
	})
}

// IngestPCM feeds little-endian 16-bit PCM pushed by a remote client.
func (m *Manager) IngestPCM(ctx context.Context, streamID string, pcm []byte) error {
	switch {
	case len(pcm) == 0:
		return apperrors.New(apperrors.CodeAudioEmptyInput, "empty audio chunk")
	case len(pcm)%2 != 0:
		return apperrors.Newf(apperrors.CodeAudioInvalidFormat, "odd PCM16 chunk length %d", len(pcm))
	}
	return m.ingest(ctx, streamID, SourceRemote, sod.DecodePCM16(pcm))
}

// IngestSamples feeds decoded samples for a stream.
func (m *Manager) IngestSamples(ctx context.Context, streamID, source string, samples []int16) error {
	return m.ingest(ctx, streamID, source, samples)
}

func (m *Manager) ingest(ctx context.Context, streamID, source string, samples []int16) error {
	start := time.Now()
	out, err := m.proc.Process(ctx, streamID, source, samples)
	m.metrics.ObserveProcess(time.Since(start))
	m.metrics.Frames(source, out.Frames)
	m.metrics.SetActiveStreams(m.proc.Len())

	for i := range out.Onsets {
		ev := out.Onsets[i]
		m.history.Add(ev)
		m.history.Emit(Event{Kind: events.KindOnset, Onset: &ev})
		m.metrics.Onset(source)
		if m.onsets != nil {
			m.onsets.Add(onsetlog.Record(ev))
		}
		trace.Logger(ctx).Info("speech onset",
			"stream", streamID, "source", source, "frame", ev.Onset.Frame,
			"level_db", ev.Onset.Level, "floor_db", ev.Onset.Floor)
	}
	for _, seg := range out.Segments {
		info := events.Summarize(seg)
		m.history.Emit(Event{Kind: events.KindSegment, Segment: &info})
		m.metrics.Segment(source)
	}
	return err
}

// Events returns the channel of onset and segment events.
func (m *Manager) Events() <-chan Event { return m.history.Events() }

// Recent returns up to n onsets from memory, newest first.
func (m *Manager) Recent(n int) []onset.Event { return m.history.Recent(n) }

// Since returns in-memory onsets detected within d, oldest first.
func (m *Manager) Since(d time.Duration) []onset.Event { return m.history.Since(d) }

// History reads the persistent onset log, newest first.
func (m *Manager) History(ctx context.Context, device string, limit int) ([]storage.Onset, error) {
	if m.db == nil {
		return nil, apperrors.New(apperrors.CodeUnavailable, "onset log disabled")
	}
	return m.db.ListOnsets(ctx, device, limit)
}

// RemoveStream closes one stream's detector.
func (m *Manager) RemoveStream(id string) bool {
	ok := m.proc.Remove(id)
	m.metrics.SetActiveStreams(m.proc.Len())
	return ok
}

// Reset closes every stream; each restarts on its next chunk.
func (m *Manager) Reset() {
	m.proc.Reset()
	m.metrics.SetActiveStreams(0)
}

// Config returns the live detector tuning and its version.
func (m *Manager) Config() (sod.Config, uint64) { return m.live.Load() }

// UpdateConfig edits a copy of the live tuning with fn and publishes it
// when it validates. Concurrent updates apply one after another. Streams
// pick up the result on their next chunk.
func (m *Manager) UpdateConfig(ctx context.Context, fn func(*sod.Config) error) (sod.Config, uint64, error) {
	var next sod.Config
	version, err := m.live.Update(func(c *sod.Config) error {
		if err := fn(c); err != nil {
			return err
		}
		if err := c.Validate(); err != nil {
			return apperrors.FromSOD(err)
		}
		next = *c
		return nil
	})
	if err != nil {
		return sod.Config{}, version, err
	}
	trace.Logger(ctx).Info("detector reconfigured",
		"sensitivity", next.Sensitivity, "onset_gap", next.OnsetGap, "version", version)
	return next, version, nil
}

// Preset looks up a built-in or file preset by name.
func (m *Manager) Preset(name string) (sod.Config, bool) { return m.cfg.LookupPreset(name) }

// Status is a point-in-time view of the service.
type Status struct {
	Uptime        string               `json:"uptime"`
	Config        sod.Config           `json:"config"`
	ConfigVersion uint64               `json:"config_version"`
	Streams       []onset.StreamStatus `json:"streams"`
	Devices       []audio.DeviceStatus `json:"devices,omitempty"`
	TotalOnsets   uint64               `json:"total_onsets"`
	DroppedEvents uint64               `json:"dropped_events"`
	Profiling     bool                 `json:"profiling"`
	OnsetLog      bool                 `json:"onset_log"`
	PendingLog    int                  `json:"pending_log"`
}

// Status reports streams, devices and counters.
func (m *Manager) Status() Status {
	cfg, version := m.live.Load()
	s := Status{
		Uptime:        time.Since(m.started).Round(time.Second).String(),
		Config:        cfg,
		ConfigVersion: version,
		Streams:       m.proc.Streams(),
		TotalOnsets:   m.history.Total(),
		DroppedEvents: m.history.Dropped(),
		Profiling:     m.proc.Profiling(),
		OnsetLog:      m.db != nil,
	}
	if m.capture != nil {
		s.Devices = m.capture.Devices()
	}
	if m.onsets != nil {
		s.PendingLog = m.onsets.Pending()
	}
	return s
}

// ProfileReport holds per-stream profiler data.
type ProfileReport struct {
	Enabled bool                       `json:"enabled"`
	Streams map[string]sod.ProfileData `json:"streams"`
}

// Profile returns profiler data for every stream.
func (m *Manager) Profile() ProfileReport {
	return ProfileReport{Enabled: m.proc.Profiling(), Streams: m.proc.Profiles()}
}

// SetProfiling turns per-stream profiling on or off.
func (m *Manager) SetProfiling(on bool) { m.proc.SetProfiling(on) }

// ResetProfile clears profiler counters.
func (m *Manager) ResetProfile() { m.proc.ResetProfiles() }
