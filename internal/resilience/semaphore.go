package resilience

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Semaphore bounds concurrent in-flight calls. A zero capacity means
// unbounded: every acquire succeeds immediately.
type Semaphore struct {
	sem      *semaphore.Weighted
	capacity int
}

// NewSemaphore creates a semaphore with the given capacity; 0 disables
// the bound.
func NewSemaphore(capacity int) *Semaphore {
	s := &Semaphore{capacity: capacity}
	if capacity > 0 {
		s.sem = semaphore.NewWeighted(int64(capacity))
	}
	return s
}

// Acquire takes one permit, waiting until one frees up or the context
// is cancelled.
func (s *Semaphore) Acquire(ctx context.Context) error {
	if s.sem == nil {
		return ctx.Err()
	}
	return s.sem.Acquire(ctx, 1)
}

// TryAcquire takes a permit without blocking.
func (s *Semaphore) TryAcquire() bool {
	if s.sem == nil {
		return true
	}
	return s.sem.TryAcquire(1)
}

// Release returns one permit.
func (s *Semaphore) Release() {
	if s.sem == nil {
		return
	}
	s.sem.Release(1)
}

// Capacity returns the configured bound; 0 means unbounded.
func (s *Semaphore) Capacity() int {
	return s.capacity
}
