package async

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

var (
	// ErrSaturated resolves jobs submitted while the queue is full.
	ErrSaturated = errors.New("async pool saturated")
	// ErrClosed resolves jobs submitted after Close.
	ErrClosed = errors.New("async pool closed")
)

// Pool runs submitted jobs on a fixed set of workers fed by a bounded queue.
// Submission never blocks: a full queue or a closed pool resolves the job's
// future with ErrSaturated or ErrClosed instead.
type Pool struct {
	jobs   chan func()
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithLogger sets the logger used to report recovered panics.
func WithLogger(logger *slog.Logger) PoolOption {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPool starts workers goroutines draining a queue of the given size.
func NewPool(workers, queue int, opts ...PoolOption) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queue <= 0 {
		queue = 1024
	}
	p := &Pool{
		jobs:   make(chan func(), queue),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	for range workers {
		p.wg.Go(p.work)
	}
	return p
}

func (p *Pool) work() {
	for job := range p.jobs {
		job()
	}
}

// Submit schedules fn and returns its future. The job runs with ctx; a ctx
// that is already done when the job starts resolves with ctx.Err().
func Submit[T any](p *Pool, ctx context.Context, fn func(ctx context.Context) (T, error)) *Future[T] {
	f := NewFuture[T]()
	job := func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.ErrorContext(ctx, "async job panicked", "panic", r)
				var zero T
				f.Resolve(zero, fmt.Errorf("async job panicked: %v", r))
			}
		}()
		if err := ctx.Err(); err != nil {
			var zero T
			f.Resolve(zero, err)
			return
		}
		f.Resolve(fn(ctx))
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		var zero T
		f.Resolve(zero, ErrClosed)
		return f
	}
	select {
	case p.jobs <- job:
	default:
		var zero T
		f.Resolve(zero, ErrSaturated)
	}
	return f
}

// Pending returns the number of queued, not yet started jobs.
func (p *Pool) Pending() int {
	return len(p.jobs)
}

// Close stops accepting jobs and waits for queued jobs to finish or ctx to end.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
