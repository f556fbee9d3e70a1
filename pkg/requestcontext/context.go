// Package requestcontext provides context accessors for request-scoped values
// that services read but never set themselves.
//
// Usage in services:
//
//	now := requestcontext.Now(ctx)
//	requestID := requestcontext.RequestID(ctx)
//
// Usage in tests:
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"
)

type (
	requestIDKey   struct{}
	requestTimeKey struct{}
	originKey      struct{}
)

var (
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
	ContextKeyOrigin      = originKey{}
)

// RequestID retrieves the correlation id from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a correlation id into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Origin retrieves the name of the subsystem that initiated the operation
// (for example "command", "gui", "sync").
func Origin(ctx context.Context) string {
	if origin, ok := ctx.Value(ContextKeyOrigin).(string); ok {
		return origin
	}
	return ""
}

// WithOrigin records which subsystem initiated the operation.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, ContextKeyOrigin, origin)
}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() when not set (workers, retry loop).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime pins the time observed by Now for the lifetime of ctx.
// Bulk operations use it so every record in the batch sees the same instant.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
