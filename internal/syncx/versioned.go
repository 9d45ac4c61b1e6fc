// Package syncx provides extended synchronization primitives
package syncx

import "sync"

// Versioned guards a value and counts replacements, so holders of a cached
// copy can tell when it went stale without taking the lock on every use.
type Versioned[T any] struct {
	mu      sync.RWMutex
	value   T
	version uint64
}

// NewVersioned creates a guarded value at version 1.
func NewVersioned[T any](initial T) *Versioned[T] {
	return &Versioned[T]{value: initial, version: 1}
}

// Load returns a copy of the value and its version.
func (g *Versioned[T]) Load() (T, uint64) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.value, g.version
}

// Update applies fn to a copy of the value. The copy replaces the value
// only when fn succeeds; on error the value and version are unchanged.
func (g *Versioned[T]) Update(fn func(*T) error) (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	next := g.value
	if err := fn(&next); err != nil {
		return g.version, err
	}
	g.value = next
	g.version++
	return g.version, nil
}
