// Package onsetlog batches onset records into the persistent onset log
package onsetlog

import (
	"context"
	"sync"
	"time"

	"github.com/GriffinCanCode/good-listener/backend/sod/internal/orchestrator/onset"
	"github.com/GriffinCanCode/good-listener/backend/sod/internal/resilience"
	"github.com/GriffinCanCode/good-listener/backend/sod/internal/storage"
	"github.com/GriffinCanCode/good-listener/backend/sod/internal/trace"
)

// Batcher defaults
const (
	DefaultMaxSize    = 50
	DefaultFlushDelay = 2 * time.Second
	flushTimeout      = 10 * time.Second
)

// Writer persists onset records.
type Writer interface {
	InsertOnsets(ctx context.Context, onsets []storage.Onset) (int, error)
}

// Record converts a detector event into a log row.
func Record(ev onset.Event) storage.Onset {
	return storage.Onset{
		Device:      ev.StreamID,
		Source:      ev.Source,
		Frame:       ev.Onset.Frame,
		StartFrame:  ev.Onset.StartFrame,
		LevelDB:     ev.Onset.Level,
		FloorDB:     ev.Onset.Floor,
		Sensitivity: ev.Config.Sensitivity,
		OnsetGapMS:  ev.Config.OnsetGap.Milliseconds(),
		DetectedAt:  ev.DetectedAt,
	}
}

// Batcher accumulates onset records and flushes them in batches.
type Batcher struct {
	writer     Writer
	maxSize    int
	flushDelay time.Duration
	retry      resilience.RetryConfig
	breaker    *resilience.Breaker
	onFlush    func(ok bool)
	mu         sync.Mutex
	items      []storage.Onset
	timer      *time.Timer
	stopped    bool
	wg         sync.WaitGroup
}

// Option configures a Batcher.
type Option func(*Batcher)

// WithFlushHook observes each flush outcome (for metrics).
func WithFlushHook(fn func(ok bool)) Option {
	return func(b *Batcher) { b.onFlush = fn }
}

// WithRetry overrides the write retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(b *Batcher) { b.retry = cfg }
}

// NewBatcher creates an onset log batcher.
func NewBatcher(w Writer, maxSize int, flushDelay time.Duration, opts ...Option) *Batcher {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if flushDelay <= 0 {
		flushDelay = DefaultFlushDelay
	}
	b := &Batcher{
		writer:     w,
		maxSize:    maxSize,
		flushDelay: flushDelay,
		retry:      resilience.StorageRetryConfig(),
		breaker:    resilience.New("onset_log", resilience.StorageConfig()),
		items:      make([]storage.Onset, 0, maxSize),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Add queues an onset for batched storage.
func (b *Batcher) Add(rec storage.Onset) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}

	b.items = append(b.items, rec)

	if len(b.items) >= b.maxSize {
		b.flushLocked()
		return
	}

	// Start or reset timer for delayed flush
	if b.timer == nil {
		b.timer = time.AfterFunc(b.flushDelay, b.timerFlush)
	} else {
		b.timer.Reset(b.flushDelay)
	}
}

// Pending returns the number of queued records.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

func (b *Batcher) timerFlush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

func (b *Batcher) flushLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.items) == 0 {
		return
	}
	items := b.items
	b.items = make([]storage.Onset, 0, b.maxSize)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.write(items)
	}()
}

func (b *Batcher) write(items []storage.Onset) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	ctx, span := trace.StartSpan(ctx, "onset_log_flush")
	defer span.End()
	span.SetAttr("count", len(items))
	log := trace.Logger(ctx)

	var stored int
	err := b.breaker.Execute(func() error {
		return resilience.Retry(ctx, b.retry, func() error {
			n, err := b.writer.InsertOnsets(ctx, items)
			stored = n
			return err
		})
	})
	if b.onFlush != nil {
		b.onFlush(err == nil)
	}
	if err != nil {
		span.RecordError(err)
		log.Warn("onset log flush failed", "error", err, "count", len(items), "breaker", b.breaker.State(), "failures", b.breaker.Failures())
		return
	}
	log.Debug("onset log flushed", "stored", stored, "submitted", len(items))
}

// Flush forces immediate flush of pending items.
func (b *Batcher) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

// Stop flushes remaining items and waits for in-flight writes. Later adds
// are ignored.
func (b *Batcher) Stop() {
	b.mu.Lock()
	b.stopped = true
	b.flushLocked()
	b.mu.Unlock()
	b.wg.Wait()
}
