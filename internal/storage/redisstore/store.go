// Package redisstore implements repository.DocumentStore on Redis. Each
// document is a JSON string under its own key and a set tracks the ids of
// the collection. Redis has no secondary query language, so Find and Count
// load the collection and evaluate the query in process.
package redisstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"warden/internal/storage/codec"
	"warden/internal/storage/query"
	"warden/internal/storage/repository"
	"warden/pkg/platform/sentinel"
)

const (
	mgetChunk  = 256
	maxRetries = 5
)

// Store keeps one collection under prefix:collection.
type Store struct {
	client redis.UniversalClient
	base   string
}

func New(client redis.UniversalClient, prefix, collection string) *Store {
	base := collection
	if prefix != "" {
		base = prefix + ":" + collection
	}
	return &Store{client: client, base: base}
}

func (s *Store) Backend() string { return "redis" }

func (s *Store) docKey(id string) string { return s.base + ":doc:" + id }

func (s *Store) idsKey() string { return s.base + ":ids" }

func (s *Store) Upsert(ctx context.Context, id string, doc codec.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", id, err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.docKey(id), data, 0)
		pipe.SAdd(ctx, s.idsKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert document %s: %w", id, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (codec.Document, error) {
	data, err := s.client.Get(ctx, s.docKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	return decode(data)
}

func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.docKey(id))
		pipe.SRem(ctx, s.idsKey(), id)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete document %s: %w", id, err)
	}
	return del.Val() > 0, nil
}

func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Exists(ctx, s.docKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("check document %s: %w", id, err)
	}
	return n > 0, nil
}

func (s *Store) Find(ctx context.Context, spec query.Spec) ([]query.Item, error) {
	if spec.Limit == 0 {
		return []query.Item{}, nil
	}
	items, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	return query.Apply(items, spec), nil
}

func (s *Store) Count(ctx context.Context, spec query.Spec) (int64, error) {
	items, err := s.loadAll(ctx)
	if err != nil {
		return 0, err
	}
	return query.CountMatches(items, spec), nil
}

// loadAll reads every document of the collection. Ids whose document has
// vanished since SMEMBERS are skipped.
func (s *Store) loadAll(ctx context.Context) ([]query.Item, error) {
	ids, err := s.client.SMembers(ctx, s.idsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	items := make([]query.Item, 0, len(ids))
	for start := 0; start < len(ids); start += mgetChunk {
		chunk := ids[start:min(start+mgetChunk, len(ids))]
		keys := make([]string, len(chunk))
		for i, id := range chunk {
			keys[i] = s.docKey(id)
		}
		values, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("load documents: %w", err)
		}
		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				continue
			}
			doc, err := decode([]byte(raw))
			if err != nil {
				return nil, fmt.Errorf("document %s: %w", chunk[i], err)
			}
			items = append(items, query.Item{ID: chunk[i], Doc: doc})
		}
	}
	return items, nil
}

// Apply validates the batch under WATCH and commits it in one MULTI/EXEC,
// retrying when a watched key changes underneath it.
func (s *Store) Apply(ctx context.Context, ops []repository.Op) error {
	if len(ops) == 0 {
		return nil
	}
	encoded := make([][]byte, len(ops))
	var watch []string
	for i, op := range ops {
		switch op.Kind {
		case repository.OpInsert, repository.OpUpdate, repository.OpUpsert:
			data, err := json.Marshal(op.Doc)
			if err != nil {
				return fmt.Errorf("encode document %s: %w", op.ID, err)
			}
			encoded[i] = data
		case repository.OpDelete:
		default:
			return fmt.Errorf("unknown batch operation %q", op.Kind)
		}
		watch = append(watch, s.docKey(op.ID))
	}

	txf := func(tx *redis.Tx) error {
		if err := s.validate(ctx, tx, ops); err != nil {
			return err
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, op := range ops {
				if op.Kind == repository.OpDelete {
					pipe.Del(ctx, s.docKey(op.ID))
					pipe.SRem(ctx, s.idsKey(), op.ID)
					continue
				}
				pipe.Set(ctx, s.docKey(op.ID), encoded[i], 0)
				pipe.SAdd(ctx, s.idsKey(), op.ID)
			}
			return nil
		})
		return err
	}

	for range maxRetries {
		err := s.client.Watch(ctx, txf, watch...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, sentinel.ErrConflict) || errors.Is(err, sentinel.ErrNotFound) {
				return err
			}
			return fmt.Errorf("apply batch: %w", err)
		}
		return nil
	}
	return fmt.Errorf("apply batch: %w", redis.TxFailedErr)
}

// validate checks inserts and updates against stored state plus the effect
// of earlier ops in the same batch.
func (s *Store) validate(ctx context.Context, tx *redis.Tx, ops []repository.Op) error {
	pending := map[string]bool{}
	for _, op := range ops {
		exists, seen := pending[op.ID]
		if !seen && (op.Kind == repository.OpInsert || op.Kind == repository.OpUpdate) {
			n, err := tx.Exists(ctx, s.docKey(op.ID)).Result()
			if err != nil {
				return err
			}
			exists = n > 0
		}
		switch op.Kind {
		case repository.OpInsert:
			if exists {
				return fmt.Errorf("insert document %s: %w", op.ID, sentinel.ErrConflict)
			}
			pending[op.ID] = true
		case repository.OpUpdate:
			if !exists {
				return fmt.Errorf("update document %s: %w", op.ID, sentinel.ErrNotFound)
			}
		case repository.OpUpsert:
			pending[op.ID] = true
		case repository.OpDelete:
			pending[op.ID] = false
		}
	}
	return nil
}

func decode(data []byte) (codec.Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return codec.Normalize(raw)
}
