// Package future provides a minimal typed future: the result of work running on its own
// goroutine, awaited later with a context.
package future

import (
	"context"
	"fmt"
)

// Future holds the eventual result of an operation.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Go runs fn on a new goroutine and returns its future. A panic in fn becomes an error.
func Go[T any](fn func() (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				f.err = fmt.Errorf("future: panic: %v", r)
			}
		}()
		f.val, f.err = fn()
	}()
	return f
}

// Resolve returns an already settled, successful future.
func Resolve[T any](v T) *Future[T] {
	f := &Future[T]{done: make(chan struct{}), val: v}
	close(f.done)
	return f
}

// Reject returns an already settled, failed future.
func Reject[T any](err error) *Future[T] {
	f := &Future[T]{done: make(chan struct{}), err: err}
	close(f.done)
	return f
}

// Done is closed once the future settles.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Await blocks until the future settles or ctx ends. Ending ctx does not stop the
// underlying work.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// AwaitAny is Await with the value boxed, for callers that handle futures generically.
func (f *Future[T]) AwaitAny(ctx context.Context) (any, error) {
	v, err := f.Await(ctx)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Catch returns a future that settles like f, except that a failure is passed through h.
func (f *Future[T]) Catch(h func(error) error) *Future[T] {
	out := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(out.done)
		<-f.done
		out.val, out.err = f.val, f.err
		if out.err != nil {
			out.err = h(out.err)
		}
	}()
	return out
}

// WithRepair lets stack-trace repair rewrite the failure of f. It returns a *Future[T].
func (f *Future[T]) WithRepair(fix func(error) error) any {
	return f.Catch(fix)
}

// Then chains fn after f succeeds. A failure of f skips fn.
func Then[T, U any](f *Future[T], fn func(T) (U, error)) *Future[U] {
	return Go(func() (U, error) {
		<-f.done
		if f.err != nil {
			var zero U
			return zero, f.err
		}
		return fn(f.val)
	})
}
