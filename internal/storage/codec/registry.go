package codec

import (
	"fmt"
	"reflect"
	"sync"
)

// Adapter converts values of the types it handles to and from documents.
type Adapter interface {
	CanHandle(t reflect.Type) bool
	Serialize(v any) (Document, error)
	Deserialize(doc Document, t reflect.Type) (any, error)
}

// Schema is implemented by adapters that know the kinds of their top-level
// and nested fields. Relational backends use it to pick sort casts.
type Schema interface {
	FieldKinds() map[string]Kind
}

// Registry resolves the adapter for a type. Adapters are consulted in order
// and the first whose CanHandle matches wins; the plain structural adapter is
// the last resort.
type Registry struct {
	mu       sync.RWMutex
	adapters []Adapter
	fallback Adapter
}

// NewRegistry returns a registry holding adapters in order, backed by a
// PlainAdapter.
func NewRegistry(adapters ...Adapter) *Registry {
	return &Registry{
		adapters: append([]Adapter(nil), adapters...),
		fallback: PlainAdapter{},
	}
}

// Register appends an adapter. Existing adapters keep priority.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters = append(r.adapters, a)
}

// RegisterFirst prepends an adapter so it overrides existing ones.
func (r *Registry) RegisterFirst(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters = append([]Adapter{a}, r.adapters...)
}

// Lookup returns the adapter for t.
func (r *Registry) Lookup(t reflect.Type) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.adapters {
		if a.CanHandle(t) {
			return a, nil
		}
	}
	if r.fallback.CanHandle(t) {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("%w for %v", ErrNoAdapter, t)
}

// Serialize encodes v with the adapter for its dynamic type.
func (r *Registry) Serialize(v any) (Document, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: nil value", ErrUnsupported)
	}
	a, err := r.Lookup(reflect.TypeOf(v))
	if err != nil {
		return nil, err
	}
	return a.Serialize(v)
}

// Deserialize decodes doc into a value of type t.
func (r *Registry) Deserialize(doc Document, t reflect.Type) (any, error) {
	a, err := r.Lookup(t)
	if err != nil {
		return nil, err
	}
	return a.Deserialize(doc, t)
}

// CanHandle reports whether some adapter handles t.
func (r *Registry) CanHandle(t reflect.Type) bool {
	_, err := r.Lookup(t)
	return err == nil
}

// FieldKinds returns the schema of the adapter for t, or nil.
func (r *Registry) FieldKinds(t reflect.Type) map[string]Kind {
	a, err := r.Lookup(t)
	if err != nil {
		return nil
	}
	if s, ok := a.(Schema); ok {
		return s.FieldKinds()
	}
	return nil
}

// Encode serializes v using the adapter for T.
func Encode[T any](r *Registry, v T) (Document, error) {
	a, err := r.Lookup(reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}
	return a.Serialize(v)
}

// Decode deserializes doc into a T.
func Decode[T any](r *Registry, doc Document) (T, error) {
	var zero T
	t := reflect.TypeFor[T]()
	out, err := r.Deserialize(doc, t)
	if err != nil {
		return zero, err
	}
	v, ok := out.(T)
	if !ok {
		return zero, fmt.Errorf("%w: adapter returned %T for %v", ErrMalformed, out, t)
	}
	return v, nil
}
