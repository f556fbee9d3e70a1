// Package repository provides a generic, backend-neutral repository over
// document stores.
//
// A Repository converts domain values to documents through a codec registry
// and delegates persistence and query evaluation to a DocumentStore. Every
// backend (memory, SQL, MongoDB, Redis) implements the same DocumentStore
// contract, so one query vocabulary runs unchanged against all of them.
package repository

import (
	"context"
	"errors"
	"fmt"

	"warden/internal/storage/codec"
	"warden/internal/storage/query"
)

// DocumentStore is a single collection in a backend.
//
// Get returns sentinel.ErrNotFound for unknown ids. Find and Count evaluate
// a query.Spec with the semantics of query.Match and query.SortItems.
type DocumentStore interface {
	Backend() string
	Upsert(ctx context.Context, id string, doc codec.Document) error
	Get(ctx context.Context, id string) (codec.Document, error)
	Delete(ctx context.Context, id string) (bool, error)
	Exists(ctx context.Context, id string) (bool, error)
	Find(ctx context.Context, spec query.Spec) ([]query.Item, error)
	Count(ctx context.Context, spec query.Spec) (int64, error)
	// Apply runs a batch. Backends with transactions apply it atomically;
	// the others apply it in order and stop at the first failure.
	Apply(ctx context.Context, ops []Op) error
}

// OpKind is a batch operation kind.
type OpKind string

const (
	// OpInsert fails with sentinel.ErrConflict when the id exists.
	OpInsert OpKind = "insert"
	// OpUpdate fails with sentinel.ErrNotFound when the id is missing.
	OpUpdate OpKind = "update"
	OpUpsert OpKind = "upsert"
	// OpDelete ignores missing ids.
	OpDelete OpKind = "delete"
)

// Op is one batch operation. Doc is unused for deletes.
type Op struct {
	Kind OpKind
	ID   string
	Doc  codec.Document
}

// ErrStorage matches every backend failure wrapped by a repository.
var ErrStorage = errors.New("storage failure")

// StorageError is a backend failure with the operation that caused it.
type StorageError struct {
	Repository string
	Backend    string
	Op         string
	Err        error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s on %s: %v", e.Repository, e.Op, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }
