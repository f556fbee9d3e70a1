package repository

import (
	"context"
	"time"

	"warden/internal/storage/codec"
)

// EventKind names a storage change.
type EventKind string

const (
	EventSaved   EventKind = "saved"
	EventDeleted EventKind = "deleted"
	EventBatch   EventKind = "batch"
)

// Event describes a successful write. Document is set for saves.
type Event struct {
	Kind       EventKind
	Repository string
	Backend    string
	IDs        []string
	Document   codec.Document
	At         time.Time
}

// Observer receives storage events. It runs on the writer's goroutine after
// the write succeeded, so it must not block.
type Observer interface {
	OnStorageEvent(ctx context.Context, e Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, e Event)

func (f ObserverFunc) OnStorageEvent(ctx context.Context, e Event) { f(ctx, e) }
