package repository

import (
	"context"

	dErrors "warden/pkg/domain-errors"
)

var errEmptyID = dErrors.New(dErrors.CodeValidation, "value has an empty identity")

// Batch groups inserts, updates and deletes into one store call.
type Batch[ID ~string, T any] struct {
	repo *Repository[ID, T]
	ops  []Op
	err  error
}

// Batch starts an empty batch.
func (r *Repository[ID, T]) Batch() *Batch[ID, T] {
	return &Batch[ID, T]{repo: r}
}

func (b *Batch[ID, T]) add(kind OpKind, v T) {
	if b.err != nil {
		return
	}
	id := string(b.repo.idOf(v))
	if id == "" {
		b.err = errEmptyID
		return
	}
	doc, err := b.repo.Encode(v)
	if err != nil {
		b.err = err
		return
	}
	b.ops = append(b.ops, Op{Kind: kind, ID: id, Doc: doc})
}

// Insert adds values that must not exist yet.
func (b *Batch[ID, T]) Insert(vs ...T) *Batch[ID, T] {
	for _, v := range vs {
		b.add(OpInsert, v)
	}
	return b
}

// Update adds values that must already exist.
func (b *Batch[ID, T]) Update(vs ...T) *Batch[ID, T] {
	for _, v := range vs {
		b.add(OpUpdate, v)
	}
	return b
}

// Upsert adds values written regardless of existence.
func (b *Batch[ID, T]) Upsert(vs ...T) *Batch[ID, T] {
	for _, v := range vs {
		b.add(OpUpsert, v)
	}
	return b
}

// Delete adds identities to remove.
func (b *Batch[ID, T]) Delete(ids ...ID) *Batch[ID, T] {
	for _, id := range ids {
		b.ops = append(b.ops, Op{Kind: OpDelete, ID: string(id)})
	}
	return b
}

// Len returns the number of queued operations.
func (b *Batch[ID, T]) Len() int { return len(b.ops) }

// Commit sends the batch to the store.
func (b *Batch[ID, T]) Commit(ctx context.Context) error {
	if b.err != nil {
		return b.err
	}
	if len(b.ops) == 0 {
		return nil
	}
	ops := b.ops
	if err := b.repo.do(ctx, "batch", func(ctx context.Context) error {
		return b.repo.store.Apply(ctx, ops)
	}); err != nil {
		return err
	}
	ids := make([]string, len(ops))
	for i, op := range ops {
		ids[i] = op.ID
	}
	b.repo.emit(ctx, EventBatch, nil, ids...)
	return nil
}
