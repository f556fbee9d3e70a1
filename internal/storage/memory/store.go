package memory

import (
	"context"
	"fmt"
	"sync"

	"warden/internal/storage/codec"
	"warden/internal/storage/query"
	"warden/internal/storage/repository"
	"warden/pkg/platform/sentinel"
)

// Store is an in-memory DocumentStore. Documents are deep-copied on the way
// in and out so callers never share state with the store. Batches are
// validated before any operation is applied, so they are atomic.
type Store struct {
	mu   sync.RWMutex
	docs map[string]codec.Document
}

// New creates an empty store.
func New() *Store {
	return &Store{docs: make(map[string]codec.Document)}
}

func (s *Store) Backend() string { return "memory" }

func (s *Store) Upsert(_ context.Context, id string, doc codec.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[id] = codec.Clone(doc)
	return nil
}

func (s *Store) Get(_ context.Context, id string) (codec.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return codec.Clone(doc), nil
}

func (s *Store) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.docs[id]
	delete(s.docs, id)
	return ok, nil
}

func (s *Store) Exists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.docs[id]
	return ok, nil
}

func (s *Store) Find(_ context.Context, spec query.Spec) ([]query.Item, error) {
	s.mu.RLock()
	items := make([]query.Item, 0, len(s.docs))
	for id, doc := range s.docs {
		if query.Match(doc, spec.Filter) {
			items = append(items, query.Item{ID: id, Doc: doc})
		}
	}
	s.mu.RUnlock()

	query.SortItems(items, spec.Sorts)
	items = query.Page(items, spec.Skip, spec.Limit)
	out := make([]query.Item, len(items))
	for i, it := range items {
		out[i] = query.Item{ID: it.ID, Doc: codec.Clone(it.Doc)}
	}
	return out, nil
}

func (s *Store) Count(_ context.Context, spec query.Spec) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, doc := range s.docs {
		if query.Match(doc, spec.Filter) {
			n++
		}
	}
	return n, nil
}

func (s *Store) Apply(_ context.Context, ops []repository.Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate against the state the batch itself produces.
	pending := make(map[string]bool)
	for _, op := range ops {
		present, touched := pending[op.ID]
		if !touched {
			_, present = s.docs[op.ID]
		}
		switch op.Kind {
		case repository.OpInsert:
			if present {
				return fmt.Errorf("insert %s: %w", op.ID, sentinel.ErrConflict)
			}
			pending[op.ID] = true
		case repository.OpUpdate:
			if !present {
				return fmt.Errorf("update %s: %w", op.ID, sentinel.ErrNotFound)
			}
		case repository.OpUpsert:
			pending[op.ID] = true
		case repository.OpDelete:
			pending[op.ID] = false
		default:
			return fmt.Errorf("unknown batch operation %q", op.Kind)
		}
	}

	for _, op := range ops {
		if op.Kind == repository.OpDelete {
			delete(s.docs, op.ID)
			continue
		}
		s.docs[op.ID] = codec.Clone(op.Doc)
	}
	return nil
}

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}
