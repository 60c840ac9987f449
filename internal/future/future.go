// Package future provides a set-once deferred result holder. The write and
// read coordinators hand these back so callers can fire off a batch and
// observe its aggregate outcome later.
package future

import (
	"context"
	"sync"
)

// Future holds a value or an error that will be set exactly once. The zero
// value is not usable; construct with New.
type Future[T any] struct {
	done chan struct{}
	once sync.Once
	val  T
	err  error
}

// New returns an unresolved Future.
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a Future already resolved with val.
func Resolved[T any](val T) *Future[T] {
	f := New[T]()
	f.Resolve(val)
	return f
}

// Failed returns a Future already failed with err.
func Failed[T any](err error) *Future[T] {
	f := New[T]()
	f.Fail(err)
	return f
}

// Resolve sets the result. Only the first Resolve or Fail takes effect.
func (f *Future[T]) Resolve(val T) {
	f.once.Do(func() {
		f.val = val
		close(f.done)
	})
}

// Fail sets the error. Only the first Resolve or Fail takes effect.
func (f *Future[T]) Fail(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done returns a channel closed once the future settles.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future settles or ctx is cancelled. Cancellation is
// advisory: it stops the wait, not the in-flight work behind the future.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// All returns a Future that resolves with every constituent's value, in
// order, once all of them resolve. It fails with the first constituent
// failure encountered.
func All[T any](futures []*Future[T]) *Future[[]T] {
	agg := New[[]T]()

	go func() {
		vals := make([]T, len(futures))
		for i, f := range futures {
			<-f.done
			if f.err != nil {
				agg.Fail(f.err)
				return
			}
			vals[i] = f.val
		}
		agg.Resolve(vals)
	}()

	return agg
}
