package repository

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"warden/internal/platform/metrics"
	"warden/internal/storage/codec"
	"warden/internal/storage/query"
	"warden/pkg/async"
	"warden/pkg/platform/sentinel"
)

const tracerName = "warden/storage/repository"

// Repository stores values of type T keyed by ID in a DocumentStore.
type Repository[ID ~string, T any] struct {
	name  string
	store DocumentStore
	codec *codec.Registry
	idOf  func(T) ID
	kinds map[string]codec.Kind

	pool    *async.Pool
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time

	mu        sync.RWMutex
	observers []Observer
}

type options struct {
	pool    *async.Pool
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// Option configures a Repository.
type Option func(*options)

// WithPool runs async variants on pool instead of fresh goroutines.
func WithPool(pool *async.Pool) Option {
	return func(o *options) { o.pool = pool }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracerProvider overrides the global OpenTelemetry provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracer = tp.Tracer(tracerName)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// New creates a repository named name. idOf extracts a value's identity.
func New[ID ~string, T any](name string, store DocumentStore, reg *codec.Registry, idOf func(T) ID, opts ...Option) *Repository[ID, T] {
	o := options{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Repository[ID, T]{
		name:    name,
		store:   store,
		codec:   reg,
		idOf:    idOf,
		kinds:   reg.FieldKinds(reflect.TypeFor[T]()),
		pool:    o.pool,
		logger:  o.logger,
		metrics: o.metrics,
		tracer:  o.tracer,
		now:     o.now,
	}
}

func (r *Repository[ID, T]) Name() string    { return r.name }
func (r *Repository[ID, T]) Backend() string { return r.store.Backend() }

// IdentityOf returns v's identity.
func (r *Repository[ID, T]) IdentityOf(v T) ID { return r.idOf(v) }

// Encode converts v to its document form. Failures are storage errors with
// Op "encode".
func (r *Repository[ID, T]) Encode(v T) (codec.Document, error) {
	doc, err := codec.Encode(r.codec, v)
	if err != nil {
		return nil, &StorageError{Repository: r.name, Backend: r.store.Backend(), Op: "encode", Err: err}
	}
	return doc, nil
}

// Subscribe registers an observer for storage events.
func (r *Repository[ID, T]) Subscribe(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

func (r *Repository[ID, T]) emit(ctx context.Context, kind EventKind, doc codec.Document, ids ...string) {
	r.mu.RLock()
	observers := r.observers
	r.mu.RUnlock()
	if len(observers) == 0 {
		return
	}
	e := Event{Kind: kind, Repository: r.name, Backend: r.store.Backend(), IDs: ids, Document: doc, At: r.now()}
	for _, o := range observers {
		o.OnStorageEvent(ctx, e)
	}
}

// do wraps a store call with a span, latency metrics and error wrapping.
// Not-found and conflict errors pass through unwrapped.
func (r *Repository[ID, T]) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, span := r.tracer.Start(ctx, "repository."+op,
		trace.WithAttributes(
			attribute.String("repository", r.name),
			attribute.String("backend", r.store.Backend()),
		),
	)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	if r.metrics != nil {
		r.metrics.ObserveStorage(r.name, r.store.Backend(), op, time.Since(start), backendFailure(err))
	}
	if err == nil || !isBackendFailure(err) {
		return err
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, op+" failed")
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Repository: r.name, Backend: r.store.Backend(), Op: op, Err: err}
}

func isBackendFailure(err error) bool {
	return !errors.Is(err, sentinel.ErrNotFound) &&
		!errors.Is(err, sentinel.ErrConflict) &&
		!errors.Is(err, query.ErrInvalidQuery) &&
		!errors.Is(err, context.Canceled)
}

func backendFailure(err error) error {
	if err != nil && isBackendFailure(err) {
		return err
	}
	return nil
}

func (r *Repository[ID, T]) decode(doc codec.Document) (T, error) {
	v, err := codec.Decode[T](r.codec, doc)
	if err != nil {
		var zero T
		return zero, &StorageError{Repository: r.name, Backend: r.store.Backend(), Op: "decode", Err: err}
	}
	return v, nil
}

// Save upserts v and returns it as stored.
func (r *Repository[ID, T]) Save(ctx context.Context, v T) (T, error) {
	id := string(r.idOf(v))
	if id == "" {
		var zero T
		return zero, errEmptyID
	}
	doc, err := r.Encode(v)
	if err != nil {
		var zero T
		return zero, err
	}
	if err := r.do(ctx, "save", func(ctx context.Context) error {
		return r.store.Upsert(ctx, id, doc)
	}); err != nil {
		var zero T
		return zero, err
	}
	r.emit(ctx, EventSaved, doc, id)
	return v, nil
}

// SaveAll upserts every value as one batch.
func (r *Repository[ID, T]) SaveAll(ctx context.Context, vs []T) ([]T, error) {
	b := r.Batch()
	for _, v := range vs {
		b.add(OpUpsert, v)
	}
	if err := b.Commit(ctx); err != nil {
		return nil, err
	}
	return vs, nil
}

// FindByID returns sentinel.ErrNotFound when id is unknown.
func (r *Repository[ID, T]) FindByID(ctx context.Context, id ID) (T, error) {
	var doc codec.Document
	err := r.do(ctx, "find_by_id", func(ctx context.Context) error {
		var err error
		doc, err = r.store.Get(ctx, string(id))
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return r.decode(doc)
}

// FindAll returns every stored value ordered by identity.
func (r *Repository[ID, T]) FindAll(ctx context.Context) ([]T, error) {
	return r.Find(ctx, query.All())
}

// Find runs a compiled query.
func (r *Repository[ID, T]) Find(ctx context.Context, spec query.Spec) ([]T, error) {
	if spec.Limit == 0 {
		return []T{}, nil
	}
	if spec.Kinds == nil {
		spec.Kinds = r.kinds
	}
	var items []query.Item
	err := r.do(ctx, "find", func(ctx context.Context) error {
		var err error
		items, err = r.store.Find(ctx, spec)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(items))
	for _, it := range items {
		v, err := r.decode(it.Doc)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// CountWhere counts the values matching spec's filter.
func (r *Repository[ID, T]) CountWhere(ctx context.Context, spec query.Spec) (int64, error) {
	var n int64
	err := r.do(ctx, "count", func(ctx context.Context) error {
		var err error
		n, err = r.store.Count(ctx, spec)
		return err
	})
	return n, err
}

// Count returns the number of stored values.
func (r *Repository[ID, T]) Count(ctx context.Context) (int64, error) {
	return r.CountWhere(ctx, query.All())
}

// DeleteByID removes id and reports whether it existed.
func (r *Repository[ID, T]) DeleteByID(ctx context.Context, id ID) (bool, error) {
	var existed bool
	err := r.do(ctx, "delete", func(ctx context.Context) error {
		var err error
		existed, err = r.store.Delete(ctx, string(id))
		return err
	})
	if err != nil {
		return false, err
	}
	if existed {
		r.emit(ctx, EventDeleted, nil, string(id))
	}
	return existed, nil
}

// Delete removes v by identity.
func (r *Repository[ID, T]) Delete(ctx context.Context, v T) (bool, error) {
	return r.DeleteByID(ctx, r.idOf(v))
}

func (r *Repository[ID, T]) ExistsByID(ctx context.Context, id ID) (bool, error) {
	var ok bool
	err := r.do(ctx, "exists", func(ctx context.Context) error {
		var err error
		ok, err = r.store.Exists(ctx, string(id))
		return err
	})
	return ok, err
}

// Query starts a query against this repository.
func (r *Repository[ID, T]) Query() *query.Builder[T] {
	return query.New[T](executor[ID, T]{r}, r.pool)
}

// executor adapts the repository to query.Executor.
type executor[ID ~string, T any] struct {
	r *Repository[ID, T]
}

func (e executor[ID, T]) Find(ctx context.Context, spec query.Spec) ([]T, error) {
	return e.r.Find(ctx, spec)
}

func (e executor[ID, T]) Count(ctx context.Context, spec query.Spec) (int64, error) {
	return e.r.CountWhere(ctx, spec)
}
