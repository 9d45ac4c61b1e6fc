// Package resilience provides fault tolerance patterns
package resilience

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// State is where a breaker sits in its closed, open, half-open cycle.
type State uint32

const (
	Closed   State = iota // calls pass
	Open                  // calls fail fast until the reset timeout
	HalfOpen              // trial calls decide whether to close again
)

func (s State) String() string {
	return [...]string{"closed", "open", "half-open"}[s]
}

// ErrOpen is returned by Allow while the breaker is failing fast.
var ErrOpen = errors.New("circuit breaker open")

// Breaker guards one named resource, such as a capture device or the
// onset log. State is kept in atomics so hot paths never block.
type Breaker struct {
	name          string
	cfg           Config
	now           func() time.Time
	state         atomic.Uint32
	failures      atomic.Int32
	successes     atomic.Int32
	lastFailure   atomic.Int64 // unix nano
	onStateChange func(name string, from, to State)
}

// New creates a closed breaker for the resource called name.
func New(name string, cfg Config) *Breaker {
	b := &Breaker{name: name, cfg: cfg.withDefaults(), now: time.Now}
	b.state.Store(uint32(Closed))
	return b
}

// Name returns the guarded resource's name.
func (b *Breaker) Name() string { return b.name }

// WithHook observes state transitions.
func (b *Breaker) WithHook(fn func(name string, from, to State)) *Breaker {
	b.onStateChange = fn
	return b
}

// Allow reports whether a call may proceed. An open breaker lets one trial
// through once the reset timeout has passed since the last failure.
func (b *Breaker) Allow() error {
	if State(b.state.Load()) != Open {
		return nil
	}
	last := b.lastFailure.Load()
	if last != 0 && b.now().Sub(time.Unix(0, last)) <= b.cfg.ResetTimeout {
		return ErrOpen
	}
	b.transition(HalfOpen)
	return nil
}

// Success records a healthy call.
func (b *Breaker) Success() {
	switch State(b.state.Load()) {
	case HalfOpen:
		if b.successes.Add(1) >= int32(b.cfg.HalfOpenSuccesses) {
			b.transition(Closed)
		}
	case Closed:
		b.failures.Store(0)
	}
}

// Failure records a failed call.
func (b *Breaker) Failure() {
	b.lastFailure.Store(b.now().UnixNano())
	count := b.failures.Add(1)

	switch State(b.state.Load()) {
	case HalfOpen:
		b.transition(Open)
	case Closed:
		if count >= int32(b.cfg.Threshold) {
			b.transition(Open)
		}
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	return State(b.state.Load())
}

// Failures returns consecutive failures since the breaker last closed.
func (b *Breaker) Failures() int {
	return int(b.failures.Load())
}

// ResetTimeout returns how long the breaker stays open.
func (b *Breaker) ResetTimeout() time.Duration {
	return b.cfg.ResetTimeout
}

func (b *Breaker) transition(to State) {
	from := State(b.state.Swap(uint32(to)))
	if from == to {
		return
	}

	log := slog.With("breaker", b.name)
	switch to {
	case Closed:
		b.failures.Store(0)
		b.successes.Store(0)
		log.Info("circuit breaker closed")
	case Open:
		b.successes.Store(0)
		log.Warn("circuit breaker opened", "failures", b.failures.Load(), "reset_timeout", b.cfg.ResetTimeout)
	case HalfOpen:
		b.successes.Store(0)
		log.Info("circuit breaker half-open")
	}

	if b.onStateChange != nil {
		b.onStateChange(b.name, from, to)
	}
}

// Execute runs fn unless the breaker is open and records the outcome.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		b.Failure()
		return err
	}
	b.Success()
	return nil
}
