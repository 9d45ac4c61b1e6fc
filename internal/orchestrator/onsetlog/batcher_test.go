package onsetlog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/GriffinCanCode/good-listener/backend/sod/internal/errors"
	"github.com/GriffinCanCode/good-listener/backend/sod/internal/orchestrator/onset"
	"github.com/GriffinCanCode/good-listener/backend/sod/internal/resilience"
	"github.com/GriffinCanCode/good-listener/backend/sod/internal/storage"
	"github.com/GriffinCanCode/good-listener/backend/sod/pkg/sod"
)

type mockWriter struct {
	mu    sync.Mutex
	calls [][]storage.Onset
	errs  []error
}

func (m *mockWriter) InsertOnsets(_ context.Context, onsets []storage.Onset) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, onsets)
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return 0, err
		}
	}
	return len(onsets), nil
}

func (m *mockWriter) getCalls() [][]storage.Onset {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]storage.Onset(nil), m.calls...)
}

func rec(frame int64) storage.Onset {
	return storage.Onset{Device: "mic", Source: "user", Frame: frame}
}

var fastRetry = resilience.RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

func TestBatcher_FlushOnMaxSize(t *testing.T) {
	w := &mockWriter{}
	b := NewBatcher(w, 3, time.Hour)

	b.Add(rec(1))
	b.Add(rec(2))
	if b.Pending() != 2 {
		t.Errorf("Pending() = %d, want 2", b.Pending())
	}
	b.Add(rec(3))
	b.Stop()

	calls := w.getCalls()
	if len(calls) != 1 || len(calls[0]) != 3 {
		t.Fatalf("calls = %v, want one batch of 3", calls)
	}
	if calls[0][2].Frame != 3 {
		t.Errorf("batch order lost: %+v", calls[0])
	}
}

func TestBatcher_FlushOnDelay(t *testing.T) {
	w := &mockWriter{}
	b := NewBatcher(w, 100, 10*time.Millisecond)
	defer b.Stop()

	b.Add(rec(1))

	deadline := time.Now().Add(time.Second)
	for len(w.getCalls()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(w.getCalls()) != 1 {
		t.Fatal("timer flush never happened")
	}
	if b.Pending() != 0 {
		t.Errorf("Pending() = %d after flush", b.Pending())
	}
}

func TestBatcher_StopFlushesAndIgnoresLaterAdds(t *testing.T) {
	w := &mockWriter{}
	b := NewBatcher(w, 100, time.Hour)

	b.Add(rec(1))
	b.Stop()
	b.Add(rec(2))

	calls := w.getCalls()
	if len(calls) != 1 || len(calls[0]) != 1 {
		t.Fatalf("calls = %v", calls)
	}
	if b.Pending() != 0 {
		t.Error("add after stop was queued")
	}
}

func TestBatcher_RetriesBusyStorage(t *testing.T) {
	busy := apperrors.New(apperrors.CodeStorageBusy, "database is locked")
	w := &mockWriter{errs: []error{busy, busy, nil}}
	var outcomes []bool
	var mu sync.Mutex
	b := NewBatcher(w, 1, time.Hour, WithRetry(fastRetry), WithFlushHook(func(ok bool) {
		mu.Lock()
		outcomes = append(outcomes, ok)
		mu.Unlock()
	}))

	b.Add(rec(1))
	b.Stop()

	if n := len(w.getCalls()); n != 3 {
		t.Errorf("writer called %d times, want 3", n)
	}
	if len(outcomes) != 1 || !outcomes[0] {
		t.Errorf("outcomes = %v, want [true]", outcomes)
	}
}

func TestBatcher_PermanentFailureNotRetried(t *testing.T) {
	w := &mockWriter{errs: []error{errors.New("disk full")}}
	var failed atomic.Int32
	b := NewBatcher(w, 1, time.Hour, WithRetry(fastRetry), WithFlushHook(func(ok bool) {
		if !ok {
			failed.Add(1)
		}
	}))

	b.Add(rec(1))
	b.Stop()

	if n := len(w.getCalls()); n != 1 {
		t.Errorf("writer called %d times, want 1", n)
	}
	if failed.Load() != 1 {
		t.Errorf("failed flushes = %d, want 1", failed.Load())
	}
}

func TestRecord(t *testing.T) {
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	r := Record(onset.Event{
		StreamID:   "BlackHole 2ch",
		Source:     "system",
		Onset:      sod.Onset{Frame: 104, StartFrame: 100, Level: -15.3, Floor: -100},
		Config:     sod.Config{Sensitivity: 20000, OnsetGap: sod.OnsetGap200ms},
		DetectedAt: at,
	})

	want := storage.Onset{
		Device: "BlackHole 2ch", Source: "system", Frame: 104, StartFrame: 100,
		LevelDB: -15.3, FloorDB: -100, Sensitivity: 20000, OnsetGapMS: 200, DetectedAt: at,
	}
	if r != want {
		t.Errorf("Record() = %+v, want %+v", r, want)
	}
}

func TestBatcher_WithSQLite(t *testing.T) {
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	b := NewBatcher(db, 2, time.Hour)
	b.Add(rec(1))
	b.Add(rec(2))
	b.Add(rec(3))
	b.Stop()

	n, err := db.Count(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("stored %d onsets, want 3", n)
	}
}
