package repository

import (
	"context"

	"warden/pkg/async"
)

func submit[ID ~string, T, R any](r *Repository[ID, T], ctx context.Context, fn func(context.Context) (R, error)) *async.Future[R] {
	if r.pool == nil {
		return async.Go(ctx, fn)
	}
	return async.Submit(r.pool, ctx, fn)
}

func (r *Repository[ID, T]) SaveAsync(ctx context.Context, v T) *async.Future[T] {
	return submit(r, ctx, func(ctx context.Context) (T, error) { return r.Save(ctx, v) })
}

func (r *Repository[ID, T]) SaveAllAsync(ctx context.Context, vs []T) *async.Future[[]T] {
	return submit(r, ctx, func(ctx context.Context) ([]T, error) { return r.SaveAll(ctx, vs) })
}

func (r *Repository[ID, T]) FindByIDAsync(ctx context.Context, id ID) *async.Future[T] {
	return submit(r, ctx, func(ctx context.Context) (T, error) { return r.FindByID(ctx, id) })
}

func (r *Repository[ID, T]) FindAllAsync(ctx context.Context) *async.Future[[]T] {
	return submit(r, ctx, r.FindAll)
}

func (r *Repository[ID, T]) DeleteByIDAsync(ctx context.Context, id ID) *async.Future[bool] {
	return submit(r, ctx, func(ctx context.Context) (bool, error) { return r.DeleteByID(ctx, id) })
}

func (r *Repository[ID, T]) CountAsync(ctx context.Context) *async.Future[int64] {
	return submit(r, ctx, r.Count)
}
