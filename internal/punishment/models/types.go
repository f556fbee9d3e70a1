package models

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	dErrors "warden/pkg/domain-errors"
)

// Type is a punishment kind. Types are identified by name; the flags decide
// whether records of the type live in the active cache and whether they may
// carry a duration.
type Type struct {
	Name             string
	Cacheable        bool
	SupportsDuration bool
}

// Built-in types.
var (
	Ban  = Type{Name: "BAN", Cacheable: true, SupportsDuration: true}
	Mute = Type{Name: "MUTE", Cacheable: true, SupportsDuration: true}
	Kick = Type{Name: "KICK", Cacheable: false, SupportsDuration: false}
	Warn = Type{Name: "WARN", Cacheable: false, SupportsDuration: true}
)

func (t Type) String() string { return t.Name }

// IsZero reports whether t is the zero Type.
func (t Type) IsZero() bool { return t.Name == "" }

// TypeRegistry is the set of known punishment types. It is safe for
// concurrent use; new types can be registered at any time.
type TypeRegistry struct {
	mu    sync.RWMutex
	types map[string]Type
}

// NewTypeRegistry returns a registry holding the built-in types plus extra.
func NewTypeRegistry(extra ...Type) (*TypeRegistry, error) {
	r := &TypeRegistry{types: make(map[string]Type)}
	for _, t := range []Type{Ban, Mute, Kick, Warn} {
		r.types[t.Name] = t
	}
	for _, t := range extra {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// DefaultTypes returns a registry with only the built-in types.
func DefaultTypes() *TypeRegistry {
	r, _ := NewTypeRegistry()
	return r
}

// Register adds a new type. Names are case-insensitive and stored upper-case.
func (r *TypeRegistry) Register(t Type) error {
	name := strings.ToUpper(strings.TrimSpace(t.Name))
	if name == "" {
		return dErrors.New(dErrors.CodeValidation, "punishment type name is required")
	}
	t.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[name]; exists {
		return dErrors.New(dErrors.CodeConflict, fmt.Sprintf("punishment type %s already registered", name))
	}
	r.types[name] = t
	return nil
}

// Lookup resolves a type by name.
func (r *TypeRegistry) Lookup(name string) (Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[strings.ToUpper(name)]
	return t, ok
}

// Parse resolves a type by name, failing with a validation error when unknown.
func (r *TypeRegistry) Parse(name string) (Type, error) {
	t, ok := r.Lookup(name)
	if !ok {
		return Type{}, dErrors.New(dErrors.CodeInvalidInput, "unknown punishment type: "+name)
	}
	return t, nil
}

// All returns every registered type ordered by name.
func (r *TypeRegistry) All() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Type, 0, len(r.types))
	for _, t := range r.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
