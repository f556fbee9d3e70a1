package service

import (
	"context"
	"log/slog"
	"time"

	"warden/internal/platform/metrics"
	"warden/internal/punishment/models"
	"warden/pkg/platform/circuit"
	"warden/pkg/platform/ringbuffer"
)

// Retry outcomes reported to metrics.
const (
	outcomePersisted = "persisted"
	outcomeFailed    = "failed"
	outcomeSkipped   = "skipped"
)

// Write is one durable write: the current state of a record plus the
// revisions it gained. done runs once the write is settled, either persisted
// or given up on.
type Write struct {
	Op        string
	Record    *models.Record
	Revisions []models.Revision
	Attempts  int

	done func()
}

func (w Write) settle() {
	if w.done != nil {
		w.done()
	}
}

// PersistFunc performs one durable write.
type PersistFunc func(ctx context.Context, w Write) error

// RetryConfig tunes the retry queue.
type RetryConfig struct {
	Capacity  int
	Interval  time.Duration
	Batch     int
	Threshold int
	Cooldown  time.Duration
	Clock     func() time.Time
}

// Retrier keeps durable writes that failed and replays them periodically.
// The queue is bounded and drops the oldest write when full. A circuit
// breaker stops replays while the store keeps failing.
type Retrier struct {
	buf      *ringbuffer.Buffer[Write]
	breaker  *circuit.Breaker
	persist  PersistFunc
	interval time.Duration
	batch    int

	logger  *slog.Logger
	metrics *metrics.Metrics
}

func newRetrier(persist PersistFunc, cfg RetryConfig, logger *slog.Logger, m *metrics.Metrics) *Retrier {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 64
	}
	return &Retrier{
		buf: ringbuffer.New[Write](cfg.Capacity),
		breaker: circuit.New("durable-writes",
			circuit.WithFailureThreshold(cfg.Threshold),
			circuit.WithCooldown(cfg.Cooldown),
			circuit.WithClock(cfg.Clock),
		),
		persist:  persist,
		interval: cfg.Interval,
		batch:    cfg.Batch,
		logger:   logger,
		metrics:  m,
	}
}

// Enqueue queues w for a later attempt.
func (r *Retrier) Enqueue(ctx context.Context, w Write) {
	dropped, ok := r.buf.Enqueue(w)
	if ok {
		r.logger.ErrorContext(ctx, "retry queue full, durable write dropped",
			"op", dropped.Op,
			"record_id", dropped.Record.ID(),
			"attempts", dropped.Attempts,
		)
		if r.metrics != nil {
			r.metrics.IncRetryDropped()
		}
		dropped.settle()
	}
	r.reportDepth()
}

// Len returns the number of queued writes.
func (r *Retrier) Len() int { return r.buf.Len() }

// Drain replays up to one batch of queued writes and returns how many were
// persisted. Writes that fail again go back on the queue.
func (r *Retrier) Drain(ctx context.Context) int {
	defer r.reportDepth()
	if r.buf.Len() == 0 {
		return 0
	}
	if !r.breaker.Allow() {
		if r.metrics != nil {
			r.metrics.IncRetryOutcome(outcomeSkipped)
		}
		return 0
	}

	writes := r.buf.DequeueBatch(r.batch)
	persisted := 0
	for i, w := range writes {
		w.Attempts++
		err := r.persist(ctx, w)
		if err == nil {
			persisted++
			_, change := r.breaker.RecordSuccess()
			r.onChange(ctx, change)
			r.outcome(outcomePersisted)
			w.settle()
			continue
		}

		r.logger.WarnContext(ctx, "durable write retry failed",
			"op", w.Op,
			"record_id", w.Record.ID(),
			"attempts", w.Attempts,
			"error", err,
		)
		r.outcome(outcomeFailed)
		r.Enqueue(ctx, w)
		open, change := r.breaker.RecordFailure()
		r.onChange(ctx, change)
		if open {
			for _, rest := range writes[i+1:] {
				r.Enqueue(ctx, rest)
			}
			break
		}
	}
	return persisted
}

// Run drains the queue every interval until ctx ends.
func (r *Retrier) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Drain(ctx)
		}
	}
}

func (r *Retrier) onChange(ctx context.Context, change circuit.StateChange) {
	switch {
	case change.Opened:
		r.logger.WarnContext(ctx, "durable write circuit opened", "breaker", r.breaker.Name())
	case change.Closed:
		r.logger.InfoContext(ctx, "durable write circuit closed", "breaker", r.breaker.Name())
	default:
		return
	}
	if r.metrics != nil {
		r.metrics.SetBreakerOpen(change.Opened)
	}
}

func (r *Retrier) outcome(o string) {
	if r.metrics != nil {
		r.metrics.IncRetryOutcome(o)
	}
}

func (r *Retrier) reportDepth() {
	if r.metrics != nil {
		r.metrics.SetRetryQueueDepth(r.buf.Len())
	}
}
