// Package query holds the backend-neutral query model: a predicate tree,
// sort keys and paging, the fluent Builder that produces them, and the
// in-memory evaluator that defines their meaning for every backend.
package query

import (
	"regexp"

	"warden/internal/storage/codec"
	dErrors "warden/pkg/domain-errors"
)

// ErrInvalidQuery is returned by terminal operations when the builder was misused.
var ErrInvalidQuery = dErrors.New(dErrors.CodeValidation, "invalid query")

// Unbounded is the Limit value meaning "no limit".
const Unbounded = -1

// Op is a comparison operator.
type Op string

const (
	OpEq   Op = "eq"
	OpNe   Op = "ne"
	OpGt   Op = "gt"
	OpGte  Op = "gte"
	OpLt   Op = "lt"
	OpLte  Op = "lte"
	OpIn   Op = "in"
	OpLike Op = "like"
)

// Combinator joins two predicates.
type Combinator string

const (
	And Combinator = "and"
	Or  Combinator = "or"
)

// Node is a predicate tree node: *Cond, *Logical or *Not.
type Node interface {
	isNode()
}

// Cond compares the value at Field with Value. Value is a normalized leaf
// (string, int64, bool or nil); for OpIn it is a []any of leaves and for
// OpLike a pattern string.
type Cond struct {
	Field string
	Op    Op
	Value any
}

// Logical joins Left and Right.
type Logical struct {
	Op    Combinator
	Left  Node
	Right Node
}

// Not negates its operand.
type Not struct {
	Node Node
}

func (*Cond) isNode()    {}
func (*Logical) isNode() {}
func (*Not) isNode()     {}

// Direction is a sort direction.
type Direction int

const (
	Asc Direction = iota
	Desc
)

// Sort is one sort key.
type Sort struct {
	Field string
	Dir   Direction
}

// Spec is a compiled query. A nil Filter matches everything.
type Spec struct {
	Filter Node
	Sorts  []Sort
	Skip   int
	Limit  int
	// Kinds maps field paths to their stored kind when the document schema
	// is known. Relational backends use it to cast sort keys.
	Kinds map[string]codec.Kind
}

// All returns an unfiltered, unbounded spec.
func All() Spec {
	return Spec{Limit: Unbounded}
}

// Unpaged returns s without skip and limit.
func (s Spec) Unpaged() Spec {
	s.Skip = 0
	s.Limit = Unbounded
	return s
}

// Window returns how many leading results a source must contribute so that
// merging several sources and then paging gives the right page.
func (s Spec) Window() int {
	if s.Limit < 0 {
		return Unbounded
	}
	return s.Skip + s.Limit
}

// Item is a stored document with its identity.
type Item struct {
	ID  string
	Doc codec.Document
}

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// ValidField reports whether f is a well-formed dotted document path.
func ValidField(f string) bool {
	return fieldPattern.MatchString(f)
}
