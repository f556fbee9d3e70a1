package query

import (
	"context"
	"fmt"

	"warden/internal/storage/codec"
	"warden/pkg/async"
	"warden/pkg/platform/sentinel"
)

// Executor runs compiled specs. Repositories implement it.
type Executor[T any] interface {
	Find(ctx context.Context, spec Spec) ([]T, error)
	Count(ctx context.Context, spec Spec) (int64, error)
}

// Builder assembles a Spec fluently:
//
//	b.Where("type").Eq("BAN").And().Where("expiresAt").Gt(now).SortBy("issuedAt", query.Desc).Limit(10)
//
// Predicates fold left: a AND b OR c is (a AND b) OR c. Use Group for any
// other grouping. Misuse is recorded and reported by the terminal operation
// before any I/O happens.
type Builder[T any] struct {
	exec Executor[T]
	pool *async.Pool

	root    Node
	comb    Combinator
	negate  bool
	field   string
	focused bool

	sorts []Sort
	skip  int
	limit int
	err   error
}

// New returns a builder bound to exec. Async terminals run on pool when it
// is non-nil.
func New[T any](exec Executor[T], pool *async.Pool) *Builder[T] {
	return &Builder[T]{exec: exec, pool: pool, comb: And, limit: Unbounded}
}

func (b *Builder[T]) fail(format string, args ...any) *Builder[T] {
	if b.err == nil {
		b.err = fmt.Errorf("%w: "+format, append([]any{ErrInvalidQuery}, args...)...)
	}
	return b
}

// Where focuses the next comparator on a dotted field path.
func (b *Builder[T]) Where(field string) *Builder[T] {
	if b.focused {
		return b.fail("Where(%q) follows Where(%q) with no comparator", field, b.field)
	}
	if !ValidField(field) {
		return b.fail("invalid field %q", field)
	}
	b.field = field
	b.focused = true
	return b
}

// And joins the next predicate with AND. It is the default.
func (b *Builder[T]) And() *Builder[T] {
	b.comb = And
	return b
}

// Or joins the next predicate with OR.
func (b *Builder[T]) Or() *Builder[T] {
	b.comb = Or
	return b
}

// Not negates the next predicate.
func (b *Builder[T]) Not() *Builder[T] {
	b.negate = !b.negate
	return b
}

func (b *Builder[T]) Eq(v any) *Builder[T]  { return b.compare(OpEq, v) }
func (b *Builder[T]) Ne(v any) *Builder[T]  { return b.compare(OpNe, v) }
func (b *Builder[T]) Gt(v any) *Builder[T]  { return b.compare(OpGt, v) }
func (b *Builder[T]) Gte(v any) *Builder[T] { return b.compare(OpGte, v) }
func (b *Builder[T]) Lt(v any) *Builder[T]  { return b.compare(OpLt, v) }
func (b *Builder[T]) Lte(v any) *Builder[T] { return b.compare(OpLte, v) }

// In matches any of values. A single slice argument is expanded.
func (b *Builder[T]) In(values ...any) *Builder[T] {
	list := make([]any, 0, len(values))
	for _, v := range values {
		n, err := codec.NormalizeValue(v)
		if err != nil {
			return b.fail("In(%v): %v", v, err)
		}
		if nested, ok := n.([]any); ok && len(values) == 1 {
			list = append(list, nested...)
			continue
		}
		if _, ok := codec.KindOf(n); !ok && n != nil {
			return b.fail("In(%v): not a scalar", v)
		}
		list = append(list, n)
	}
	return b.add(OpIn, list)
}

// Like matches strings against a case-insensitive wildcard pattern: '%'
// matches any run, '_' one character and '\' escapes.
func (b *Builder[T]) Like(pattern string) *Builder[T] {
	return b.add(OpLike, pattern)
}

func (b *Builder[T]) compare(op Op, v any) *Builder[T] {
	n, err := codec.NormalizeValue(v)
	if err != nil {
		return b.fail("%s(%v): %v", op, v, err)
	}
	if _, ok := codec.KindOf(n); !ok && n != nil {
		return b.fail("%s(%v): not a scalar", op, v)
	}
	if n == nil && op != OpEq && op != OpNe {
		return b.fail("%s(nil): only Eq and Ne accept nil", op)
	}
	return b.add(op, n)
}

func (b *Builder[T]) add(op Op, v any) *Builder[T] {
	if b.err != nil {
		return b
	}
	if !b.focused {
		return b.fail("%s with no field; call Where first", op)
	}
	b.push(&Cond{Field: b.field, Op: op, Value: v})
	b.focused = false
	b.field = ""
	return b
}

func (b *Builder[T]) push(n Node) {
	if b.negate {
		n = &Not{Node: n}
	}
	if b.root == nil {
		b.root = n
	} else {
		b.root = &Logical{Op: b.comb, Left: b.root, Right: n}
	}
	b.comb = And
	b.negate = false
}

// Group adds the predicates built by fn as a single parenthesized predicate.
// An empty group adds nothing.
func (b *Builder[T]) Group(fn func(g *Builder[T])) *Builder[T] {
	if b.err != nil {
		return b
	}
	if b.focused {
		return b.fail("Group follows Where(%q) with no comparator", b.field)
	}
	g := &Builder[T]{comb: And, limit: Unbounded}
	fn(g)
	if g.err != nil {
		b.err = g.err
		return b
	}
	if g.focused {
		return b.fail("group ends with Where(%q) and no comparator", g.field)
	}
	if g.root != nil {
		b.push(g.root)
	}
	return b
}

// SortBy appends a sort key.
func (b *Builder[T]) SortBy(field string, dir Direction) *Builder[T] {
	if !ValidField(field) {
		return b.fail("invalid sort field %q", field)
	}
	b.sorts = append(b.sorts, Sort{Field: field, Dir: dir})
	return b
}

// Limit bounds the result size. -1 means unbounded and 0 yields nothing.
func (b *Builder[T]) Limit(n int) *Builder[T] {
	if n < Unbounded {
		return b.fail("limit %d is below -1", n)
	}
	b.limit = n
	return b
}

// Skip drops the first n results.
func (b *Builder[T]) Skip(n int) *Builder[T] {
	if n < 0 {
		return b.fail("skip %d is negative", n)
	}
	b.skip = n
	return b
}

// Spec returns the compiled query or the first recorded misuse.
func (b *Builder[T]) Spec() (Spec, error) {
	if b.err != nil {
		return Spec{}, b.err
	}
	if b.focused {
		return Spec{}, fmt.Errorf("%w: Where(%q) has no comparator", ErrInvalidQuery, b.field)
	}
	return Spec{
		Filter: b.root,
		Sorts:  append([]Sort(nil), b.sorts...),
		Skip:   b.skip,
		Limit:  b.limit,
	}, nil
}

// Execute runs the query.
func (b *Builder[T]) Execute(ctx context.Context) ([]T, error) {
	spec, err := b.Spec()
	if err != nil {
		return nil, err
	}
	if spec.Limit == 0 {
		return []T{}, nil
	}
	return b.exec.Find(ctx, spec)
}

// ExecuteAsync runs the query off the caller's goroutine.
func (b *Builder[T]) ExecuteAsync(ctx context.Context) *async.Future[[]T] {
	spec, err := b.Spec()
	if err != nil {
		return async.Resolved[[]T](nil, err)
	}
	run := func(ctx context.Context) ([]T, error) {
		if spec.Limit == 0 {
			return []T{}, nil
		}
		return b.exec.Find(ctx, spec)
	}
	if b.pool == nil {
		return async.Go(ctx, run)
	}
	return async.Submit(b.pool, ctx, run)
}

// FindFirst returns the first result, or sentinel.ErrNotFound.
func (b *Builder[T]) FindFirst(ctx context.Context) (T, error) {
	var zero T
	spec, err := b.Spec()
	if err != nil {
		return zero, err
	}
	if spec.Limit != 0 {
		spec.Limit = 1
	}
	var out []T
	if spec.Limit != 0 {
		out, err = b.exec.Find(ctx, spec)
		if err != nil {
			return zero, err
		}
	}
	if len(out) == 0 {
		return zero, sentinel.ErrNotFound
	}
	return out[0], nil
}

// Count returns how many documents match the filter. Sorting and paging
// are ignored.
func (b *Builder[T]) Count(ctx context.Context) (int64, error) {
	spec, err := b.Spec()
	if err != nil {
		return 0, err
	}
	return b.exec.Count(ctx, spec)
}
