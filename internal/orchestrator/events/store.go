// Package events keeps recent onsets and fans detector events out to listeners
package events

import (
	"sync"
	"time"

	"github.com/GriffinCanCode/good-listener/backend/sod/internal/orchestrator/onset"
)

// Event kinds
const (
	KindOnset   = "onset"
	KindSegment = "segment"
)

// SegmentInfo summarizes a closed speech segment without its audio.
type SegmentInfo struct {
	StreamID   string    `json:"stream"`
	Source     string    `json:"source"`
	StartFrame int64     `json:"start_frame"`
	EndFrame   int64     `json:"end_frame"`
	StartMS    int64     `json:"start_ms"`
	DurationMS int64     `json:"duration_ms"`
	Samples    int       `json:"samples"`
	Truncated  bool      `json:"truncated"`
	EndedAt    time.Time `json:"ended_at"`
}

// Summarize drops the samples of a segment.
func Summarize(s onset.Segment) SegmentInfo {
	return SegmentInfo{
		StreamID:   s.StreamID,
		Source:     s.Source,
		StartFrame: s.StartFrame,
		EndFrame:   s.EndFrame,
		StartMS:    s.Start().Milliseconds(),
		DurationMS: s.Duration().Milliseconds(),
		Samples:    len(s.Samples),
		Truncated:  s.Truncated,
		EndedAt:    s.EndedAt,
	}
}

// Event is one pushed notification.
type Event struct {
	Kind    string
	Onset   *onset.Event
	Segment *SegmentInfo
}

// Store holds a bounded onset history and a non-blocking event channel.
type Store struct {
	mu       sync.RWMutex
	entries  []onset.Event
	maxSize  int
	total    uint64
	eventsCh chan Event
	dropped  uint64
}

// NewStore creates a store keeping maxEntries onsets.
func NewStore(maxEntries, eventBuffer int) *Store {
	return &Store{
		entries:  make([]onset.Event, 0, maxEntries),
		maxSize:  maxEntries,
		eventsCh: make(chan Event, eventBuffer),
	}
}

// Add records an onset.
func (s *Store) Add(ev onset.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, ev)
	s.total++
	if len(s.entries) > s.maxSize {
		s.entries = s.entries[len(s.entries)-s.maxSize:]
	}
}

// Recent returns up to n onsets, newest first. n <= 0 returns all.
func (s *Store) Recent(n int) []onset.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || n > len(s.entries) {
		n = len(s.entries)
	}
	out := make([]onset.Event, 0, n)
	for i := len(s.entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.entries[i])
	}
	return out
}

// Since returns onsets detected within d of now, oldest first.
func (s *Store) Since(d time.Duration) []onset.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-d)
	var out []onset.Event
	for _, e := range s.entries {
		if !e.DetectedAt.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// Total returns the number of onsets ever added.
func (s *Store) Total() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

// Events returns the channel for detector events.
func (s *Store) Events() <-chan Event {
	return s.eventsCh
}

// Emit sends an event (non-blocking). Events are dropped when no one keeps up.
func (s *Store) Emit(event Event) {
	select {
	case s.eventsCh <- event:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	}
}

// Dropped returns how many events Emit discarded.
func (s *Store) Dropped() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}
