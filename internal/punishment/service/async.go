package service

import (
	"context"

	"github.com/google/uuid"

	"warden/internal/punishment/models"
	"warden/pkg/async"
)

// The async variants run on the worker pool. A saturated pool resolves the
// future with async.ErrSaturated.

func (m *Manager) GetActiveAsync(ctx context.Context, owner uuid.UUID, typ models.Type) *async.Future[*models.Record] {
	return async.Submit(m.pool, ctx, func(ctx context.Context) (*models.Record, error) {
		return m.GetActive(ctx, owner, typ)
	})
}

func (m *Manager) RevokeAsync(ctx context.Context, id string, revoker models.Issuer, reason string) *async.Future[bool] {
	return async.Submit(m.pool, ctx, func(ctx context.Context) (bool, error) {
		return m.Revoke(ctx, id, revoker, reason)
	})
}

func (m *Manager) RevokeAllAsync(ctx context.Context, owner uuid.UUID, typeName string, revoker models.Issuer, reason string) *async.Future[int] {
	return async.Submit(m.pool, ctx, func(ctx context.Context) (int, error) {
		return m.RevokeAll(ctx, owner, typeName, revoker, reason)
	})
}

// ScanAsync never resolves with an error; failures are reported in the
// ScanResult itself.
func (m *Manager) ScanAsync(ctx context.Context, identity, secondary uuid.UUID, typ models.Type) *async.Future[ScanResult] {
	f := async.Submit(m.pool, ctx, func(ctx context.Context) (ScanResult, error) {
		return m.Scan(ctx, identity, secondary, typ), nil
	})
	return async.Then(f, func(res ScanResult, err error) (ScanResult, error) {
		if err != nil {
			return ScanResult{Status: ScanError, Err: err}, nil
		}
		return res, nil
	})
}
