// Package async provides the futures and the bounded worker pool that carry
// non-blocking repository and manager operations.
package async

import (
	"context"
	"sync"
)

// Future is the eventual result of an asynchronous operation. It resolves
// exactly once; callers that no longer need the result simply drop it.
type Future[T any] struct {
	done chan struct{}
	once sync.Once
	val  T
	err  error
}

// NewFuture returns an unresolved future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a future that is already complete.
func Resolved[T any](val T, err error) *Future[T] {
	f := NewFuture[T]()
	f.Resolve(val, err)
	return f
}

// Resolve completes the future. Only the first call has an effect.
func (f *Future[T]) Resolve(val T, err error) {
	f.once.Do(func() {
		f.val = val
		f.err = err
		close(f.done)
	})
}

// Done is closed once the future resolves.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future resolves or ctx is done. A cancelled wait does
// not cancel the underlying operation.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Get blocks until the future resolves.
func (f *Future[T]) Get() (T, error) {
	<-f.done
	return f.val, f.err
}

// Then returns a future resolved with fn applied to this future's result.
// fn runs on its own goroutine once f resolves, not on a pool worker.
func Then[T, U any](f *Future[T], fn func(T, error) (U, error)) *Future[U] {
	out := NewFuture[U]()
	go func() {
		val, err := f.Get()
		out.Resolve(fn(val, err))
	}()
	return out
}

// Go runs fn on a new goroutine and returns its future. Use a Pool when the
// number of concurrent jobs must be bounded.
func Go[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Future[T] {
	f := NewFuture[T]()
	go func() {
		f.Resolve(fn(ctx))
	}()
	return f
}
