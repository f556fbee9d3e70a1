// Package mongostore implements repository.DocumentStore on a MongoDB
// collection. The store id is the _id of each document.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"warden/internal/storage/codec"
	"warden/internal/storage/query"
	"warden/internal/storage/repository"
	"warden/pkg/platform/sentinel"
)

type Store struct {
	coll *mongo.Collection
}

func New(coll *mongo.Collection) *Store {
	return &Store{coll: coll}
}

func (s *Store) Backend() string { return "mongo" }

func byID(id string) bson.D { return bson.D{{Key: "_id", Value: id}} }

func (s *Store) Upsert(ctx context.Context, id string, doc codec.Document) error {
	_, err := s.coll.ReplaceOne(ctx, byID(id), toBSON(id, doc), options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert document %s: %w", id, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (codec.Document, error) {
	var raw bson.D
	if err := s.coll.FindOne(ctx, byID(id)).Decode(&raw); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	return fromBSON(raw)
}

func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.coll.DeleteOne(ctx, byID(id))
	if err != nil {
		return false, fmt.Errorf("delete document %s: %w", id, err)
	}
	return res.DeletedCount > 0, nil
}

func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	n, err := s.coll.CountDocuments(ctx, byID(id), options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("check document %s: %w", id, err)
	}
	return n > 0, nil
}

func (s *Store) Find(ctx context.Context, spec query.Spec) ([]query.Item, error) {
	if spec.Limit == 0 {
		return []query.Item{}, nil
	}
	filter, err := Filter(spec.Filter)
	if err != nil {
		return nil, err
	}
	opts := options.Find().SetSort(Sort(spec.Sorts))
	if spec.Skip > 0 {
		opts.SetSkip(int64(spec.Skip))
	}
	// Mongo reads a zero or negative limit as "no limit" or "single batch".
	if spec.Limit > 0 {
		opts.SetLimit(int64(spec.Limit))
	}
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find documents: %w", err)
	}
	defer cur.Close(ctx)

	out := []query.Item{}
	for cur.Next(ctx) {
		var raw bson.D
		if err := cur.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		id, _ := lookupID(raw)
		doc, err := fromBSON(raw)
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", id, err)
		}
		out = append(out, query.Item{ID: id, Doc: doc})
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context, spec query.Spec) (int64, error) {
	filter, err := Filter(spec.Filter)
	if err != nil {
		return 0, err
	}
	n, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// Apply runs ops in order. Without a replica set there is no multi-document
// transaction, so a failing op leaves earlier ops applied.
func (s *Store) Apply(ctx context.Context, ops []repository.Op) error {
	for _, op := range ops {
		if err := s.applyOne(ctx, op); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) applyOne(ctx context.Context, op repository.Op) error {
	switch op.Kind {
	case repository.OpUpsert:
		return s.Upsert(ctx, op.ID, op.Doc)
	case repository.OpDelete:
		_, err := s.Delete(ctx, op.ID)
		return err
	case repository.OpInsert:
		if _, err := s.coll.InsertOne(ctx, toBSON(op.ID, op.Doc)); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return fmt.Errorf("insert document %s: %w", op.ID, sentinel.ErrConflict)
			}
			return fmt.Errorf("insert document %s: %w", op.ID, err)
		}
		return nil
	case repository.OpUpdate:
		res, err := s.coll.ReplaceOne(ctx, byID(op.ID), toBSON(op.ID, op.Doc))
		if err != nil {
			return fmt.Errorf("update document %s: %w", op.ID, err)
		}
		if res.MatchedCount == 0 {
			return fmt.Errorf("update document %s: %w", op.ID, sentinel.ErrNotFound)
		}
		return nil
	}
	return fmt.Errorf("unknown batch operation %q", op.Kind)
}

func toBSON(id string, doc codec.Document) bson.D {
	out := make(bson.D, 0, len(doc)+1)
	out = append(out, bson.E{Key: "_id", Value: id})
	for k, v := range doc {
		if k == "_id" {
			continue
		}
		out = append(out, bson.E{Key: k, Value: v})
	}
	return out
}

func lookupID(raw bson.D) (string, bool) {
	for _, e := range raw {
		if e.Key == "_id" {
			id, ok := e.Value.(string)
			return id, ok
		}
	}
	return "", false
}

// fromBSON converts a decoded document back to a normalized Document,
// dropping _id.
func fromBSON(raw bson.D) (codec.Document, error) {
	out := make(map[string]any, len(raw))
	for _, e := range raw {
		if e.Key == "_id" {
			continue
		}
		v, err := fromBSONValue(e.Value)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", e.Key, err)
		}
		out[e.Key] = v
	}
	return codec.Normalize(out)
}

func fromBSONValue(v any) (any, error) {
	switch x := v.(type) {
	case bson.D:
		doc := make(map[string]any, len(x))
		for _, e := range x {
			n, err := fromBSONValue(e.Value)
			if err != nil {
				return nil, err
			}
			doc[e.Key] = n
		}
		return doc, nil
	case bson.M:
		doc := make(map[string]any, len(x))
		for k, e := range x {
			n, err := fromBSONValue(e)
			if err != nil {
				return nil, err
			}
			doc[k] = n
		}
		return doc, nil
	case bson.A:
		list := make([]any, len(x))
		for i, e := range x {
			n, err := fromBSONValue(e)
			if err != nil {
				return nil, err
			}
			list[i] = n
		}
		return list, nil
	case int32:
		return int64(x), nil
	case float64:
		if x != math.Trunc(x) {
			return nil, fmt.Errorf("%w: fractional number %v", codec.ErrMalformed, x)
		}
		return int64(x), nil
	case bson.DateTime:
		return int64(x), nil
	case bson.Null, bson.Undefined:
		return nil, nil
	}
	return v, nil
}
