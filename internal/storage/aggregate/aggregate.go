// Package aggregate runs one query against every repository that may hold
// records of the requested type and merges the results under the query's
// ordering.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"warden/internal/platform/metrics"
	"warden/internal/storage/query"
	"warden/internal/storage/repository"
	"warden/pkg/platform/sentinel"
)

// AnyType matches every repository regardless of the types it declares.
const AnyType = ""

type source[ID ~string, T any] struct {
	repo  *repository.Repository[ID, T]
	types map[string]struct{} // nil holds every type
}

func (s source[ID, T]) holds(typeName string) bool {
	if typeName == AnyType || s.types == nil {
		return true
	}
	_, ok := s.types[strings.ToUpper(typeName)]
	return ok
}

// Aggregator fans queries out over registered repositories.
type Aggregator[ID ~string, T any] struct {
	mu      sync.RWMutex
	sources []source[ID, T]

	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*options)

type options struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
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

func New[ID ~string, T any](opts ...Option) *Aggregator[ID, T] {
	o := options{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}
	return &Aggregator[ID, T]{logger: o.logger, metrics: o.metrics}
}

// Register adds repo as a source for the named types. With no names the
// repository is consulted for every type.
func (a *Aggregator[ID, T]) Register(repo *repository.Repository[ID, T], types ...string) {
	s := source[ID, T]{repo: repo}
	if len(types) > 0 {
		s.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			s.types[strings.ToUpper(t)] = struct{}{}
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sources = append(a.sources, s)
}

// Repositories lists the repositories compatible with typeName in
// registration order.
func (a *Aggregator[ID, T]) Repositories(typeName string) []*repository.Repository[ID, T] {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []*repository.Repository[ID, T]
	for _, s := range a.sources {
		if s.holds(typeName) {
			out = append(out, s.repo)
		}
	}
	return out
}

type partial[T any] struct {
	items []T
	err   error
}

// fanOut runs spec's leading window on every compatible repository.
// In strict mode the first failure cancels the rest.
func (a *Aggregator[ID, T]) fanOut(ctx context.Context, typeName string, spec query.Spec, strict bool) ([]partial[T], []*repository.Repository[ID, T], error) {
	repos := a.Repositories(typeName)
	results := make([]partial[T], len(repos))

	window := spec
	window.Skip = 0
	window.Limit = spec.Window()

	g, gctx := &errgroup.Group{}, ctx
	if strict {
		g, gctx = errgroup.WithContext(ctx)
	}
	for i, repo := range repos {
		g.Go(func() error {
			items, err := repo.Find(gctx, window)
			results[i] = partial[T]{items: items, err: err}
			if err != nil && strict {
				return fmt.Errorf("query %s: %w", repo.Name(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return results, repos, nil
}

// Query runs spec against every repository holding typeName and returns one
// merged page. Any repository failure fails the call.
func (a *Aggregator[ID, T]) Query(ctx context.Context, typeName string, spec query.Spec) ([]T, error) {
	if spec.Limit == 0 {
		return []T{}, nil
	}
	results, repos, err := a.fanOut(ctx, typeName, spec, true)
	if err != nil {
		return nil, err
	}
	return a.merge(results, repos, spec)
}

// ScanAll is Query for whole-store scans: a failing repository is logged
// and skipped, so the result may be partial.
func (a *Aggregator[ID, T]) ScanAll(ctx context.Context, typeName string, spec query.Spec) ([]T, error) {
	if spec.Limit == 0 {
		return []T{}, nil
	}
	results, repos, err := a.fanOut(ctx, typeName, spec, false)
	if err != nil {
		return nil, err
	}
	for i, r := range results {
		if r.err == nil {
			continue
		}
		a.logger.WarnContext(ctx, "partial scan: repository skipped",
			"repository", repos[i].Name(),
			"backend", repos[i].Backend(),
			"error", r.err,
		)
		if a.metrics != nil {
			a.metrics.IncPartialScan(repos[i].Name())
		}
		results[i] = partial[T]{}
	}
	return a.merge(results, repos, spec)
}

// merge orders the union by spec's sort keys and applies skip and limit.
func (a *Aggregator[ID, T]) merge(results []partial[T], repos []*repository.Repository[ID, T], spec query.Spec) ([]T, error) {
	type entry struct {
		item  query.Item
		value T
	}
	var entries []entry
	seen := map[string]struct{}{}
	for i, r := range results {
		for _, v := range r.items {
			id := string(repos[i].IdentityOf(v))
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			doc, err := repos[i].Encode(v)
			if err != nil {
				return nil, fmt.Errorf("merge %s: %w", repos[i].Name(), err)
			}
			entries = append(entries, entry{item: query.Item{ID: id, Doc: doc}, value: v})
		}
	}

	items := make([]query.Item, len(entries))
	byID := make(map[string]T, len(entries))
	for i, e := range entries {
		items[i] = e.item
		byID[e.item.ID] = e.value
	}
	query.SortItems(items, spec.Sorts)
	items = query.Page(items, spec.Skip, spec.Limit)

	out := make([]T, len(items))
	for i, it := range items {
		out[i] = byID[it.ID]
	}
	return out, nil
}

// FindByID returns the first hit among compatible repositories.
func (a *Aggregator[ID, T]) FindByID(ctx context.Context, typeName string, id ID) (T, error) {
	var zero T
	for _, repo := range a.Repositories(typeName) {
		v, err := repo.FindByID(ctx, id)
		if errors.Is(err, sentinel.ErrNotFound) {
			continue
		}
		if err != nil {
			return zero, err
		}
		return v, nil
	}
	return zero, sentinel.ErrNotFound
}

// Count sums matches over compatible repositories. Skip and limit are
// ignored.
func (a *Aggregator[ID, T]) Count(ctx context.Context, typeName string, spec query.Spec) (int64, error) {
	repos := a.Repositories(typeName)
	counts := make([]int64, len(repos))
	g, gctx := errgroup.WithContext(ctx)
	for i, repo := range repos {
		g.Go(func() error {
			n, err := repo.CountWhere(gctx, spec)
			if err != nil {
				return fmt.Errorf("count %s: %w", repo.Name(), err)
			}
			counts[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	var total int64
	for _, n := range counts {
		total += n
	}
	return total, nil
}

// Names lists registered repository names, sorted.
func (a *Aggregator[ID, T]) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, len(a.sources))
	for i, s := range a.sources {
		names[i] = s.repo.Name()
	}
	slices.Sort(names)
	return names
}
