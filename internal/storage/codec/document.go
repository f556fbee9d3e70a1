// Package codec maps domain values to backend-neutral documents.
//
// A Document is a tree of string-keyed maps whose leaves are normalized to
// string, int64, bool, nil, []any or nested Documents. Every backend stores
// and returns documents in that shape, so the query evaluator and the
// adapters only ever see those kinds.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Document is the backend-neutral record shape.
type Document = map[string]any

// Kind is the normalized kind of a document leaf.
type Kind string

const (
	KindString Kind = "string"
	KindInt    Kind = "int"
	KindBool   Kind = "bool"
)

var (
	// ErrUnsupported is returned for values with no document representation.
	ErrUnsupported = errors.New("codec: unsupported value")
	// ErrMalformed is returned when a document lacks a field or holds the wrong kind.
	ErrMalformed = errors.New("codec: malformed document")
	// ErrCircularReference is returned when a value refers back to itself.
	ErrCircularReference = errors.New("codec: circular reference")
	// ErrNoAdapter is returned when no registered adapter handles a type.
	ErrNoAdapter = errors.New("codec: no adapter")
)

// KindOf returns the kind of a normalized leaf.
func KindOf(v any) (Kind, bool) {
	switch v.(type) {
	case string:
		return KindString, true
	case int64:
		return KindInt, true
	case bool:
		return KindBool, true
	default:
		return "", false
	}
}

// NormalizeValue converts a Go value into its normalized leaf form.
// Integers widen to int64, times become epoch milliseconds (zero time is 0),
// durations and identifiers become strings.
func NormalizeValue(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string, bool, int64:
		return x, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint:
		if uint64(x) > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %d overflows int64", ErrUnsupported, x)
		}
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %d overflows int64", ErrUnsupported, x)
		}
		return int64(x), nil
	case float64:
		if x != math.Trunc(x) || math.Abs(x) > 1<<53 {
			return nil, fmt.Errorf("%w: non-integral number %v", ErrUnsupported, x)
		}
		return int64(x), nil
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return nil, fmt.Errorf("%w: number %s", ErrUnsupported, x)
		}
		return n, nil
	case time.Time:
		if x.IsZero() {
			return int64(0), nil
		}
		return x.UnixMilli(), nil
	case time.Duration:
		return x.String(), nil
	case uuid.UUID:
		return x.String(), nil
	case map[string]any:
		return Normalize(x)
	case map[string]string:
		out := make(Document, len(x))
		for k, s := range x {
			out[k] = s
		}
		return out, nil
	case []any:
		return normalizeSlice(x)
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, nil
	case fmt.Stringer:
		return x.String(), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range rv.Len() {
			n, err := NormalizeValue(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupported, v)
}

// Normalize deep-normalizes a document decoded by a backend driver.
func Normalize(doc map[string]any) (Document, error) {
	if doc == nil {
		return nil, nil
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		n, err := NormalizeValue(v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}

func normalizeSlice(in []any) ([]any, error) {
	out := make([]any, len(in))
	for i, v := range in {
		n, err := NormalizeValue(v)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

// Clone deep-copies a normalized document.
func Clone(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return Clone(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Lookup resolves a dotted path. Missing intermediate documents and explicit
// nulls both report absent.
func Lookup(doc Document, path string) (any, bool) {
	var cur any = doc
	for part := range strings.SplitSeq(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}
