// Package relay moves values from the detection loop to slower consumers
// without ever blocking the loop.
package relay

import (
	"context"
	"sync"
	"sync/atomic"
)

// Slot is a single-slot mailbox: Publish overwrites whatever has not been
// consumed yet, Next hands out the latest value.
type Slot[T any] struct {
	mu     sync.Mutex
	value  T
	full   bool
	closed bool
	notify chan struct{}

	published atomic.Uint64
	dropped   atomic.Uint64
}

func NewSlot[T any]() *Slot[T] {
	return &Slot[T]{notify: make(chan struct{}, 1)}
}

// Publish never blocks. A value still sitting in the slot is counted as
// dropped and replaced.
func (s *Slot[T]) Publish(v T) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.full {
		s.dropped.Add(1)
	}
	s.value = v
	s.full = true
	s.mu.Unlock()
	s.published.Add(1)

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next blocks until a value is available, the slot is closed or ctx ends.
// ok is false in the last two cases.
func (s *Slot[T]) Next(ctx context.Context) (v T, ok bool) {
	for {
		s.mu.Lock()
		if s.full {
			v = s.value
			var zero T
			s.value = zero
			s.full = false
			s.mu.Unlock()
			return v, true
		}
		if s.closed {
			s.mu.Unlock()
			return v, false
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return v, false
		case <-s.notify:
		}
	}
}

// Close wakes a blocked Next. Later publishes are ignored.
func (s *Slot[T]) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Slot[T]) Published() uint64 { return s.published.Load() }
func (s *Slot[T]) Dropped() uint64   { return s.dropped.Load() }
