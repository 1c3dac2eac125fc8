// Package serialize throttles calls so that at most a fixed number are in flight at once.
//
// Some automation backends cope badly with many parallel requests; a FindAll followed by a
// per-element lookup can easily fire dozens at once and get connections reset. A Serializer
// admits calls in the order they were made and keeps the rest queued.
package serialize

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidLimit is returned by New for a non-positive limit.
var ErrInvalidLimit = errors.New("serialize: max pending calls must be positive")

// Stats is a snapshot of a Serializer's bookkeeping.
type Stats struct {
	Running int // admitted, not yet completed
	Queued  int // waiting for admission
}

type waiter struct {
	ready    chan struct{}
	admitted bool
}

// Serializer caps concurrent calls at a fixed maximum. Admission is FIFO.
type Serializer struct {
	max int

	mu      sync.Mutex
	running int
	queue   []*waiter
}

// New returns a Serializer admitting at most max concurrent calls.
func New(max int) (*Serializer, error) {
	if max <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLimit, max)
	}
	return &Serializer{max: max}, nil
}

// Max returns the configured limit.
func (s *Serializer) Max() int { return s.max }

// Stats returns the current running and queued counts.
func (s *Serializer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Running: s.running, Queued: len(s.queue)}
}

// Do waits for admission and runs fn. fn's error is returned unchanged; a failing call does
// not affect others. If ctx ends while the call is still queued, it leaves the queue and
// ctx.Err() is returned. Once fn starts it runs to completion.
func (s *Serializer) Do(ctx context.Context, fn func() error) error {
	w := &waiter{ready: make(chan struct{})}

	s.mu.Lock()
	s.queue = append(s.queue, w)
	s.drainLocked()
	s.mu.Unlock()

	select {
	case <-w.ready:
	case <-ctx.Done():
		s.mu.Lock()
		if w.admitted {
			// Admitted concurrently with cancellation; give the slot back.
			s.running--
			s.drainLocked()
		} else {
			s.removeLocked(w)
		}
		s.mu.Unlock()
		return ctx.Err()
	}

	defer s.release()
	return fn()
}

func (s *Serializer) release() {
	s.mu.Lock()
	s.running--
	s.drainLocked()
	s.mu.Unlock()
}

func (s *Serializer) drainLocked() {
	for s.running < s.max && len(s.queue) > 0 {
		next := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.running++
		next.admitted = true
		close(next.ready)
	}
}

func (s *Serializer) removeLocked(w *waiter) {
	for i, q := range s.queue {
		if q == w {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

// Call runs fn through s and returns its result.
func Call[R any](ctx context.Context, s *Serializer, fn func() (R, error)) (R, error) {
	var out R
	err := s.Do(ctx, func() error {
		var err error
		out, err = fn()
		return err
	})
	return out, err
}

// Wrap returns a function with fn's contract whose concurrency is capped at max.
func Wrap[A, R any](fn func(context.Context, A) (R, error), max int) (func(context.Context, A) (R, error), error) {
	s, err := New(max)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, arg A) (R, error) {
		return Call(ctx, s, func() (R, error) { return fn(ctx, arg) })
	}, nil
}
