package query

import (
	"cmp"
	"regexp"
	"slices"
	"strings"
	"sync"

	"warden/internal/storage/codec"
)

// Match evaluates n against doc. A nil node matches everything.
//
// Absent fields behave as null: Eq(nil) matches them, Ne(v) matches them,
// and ordering comparators and Like never do. Comparisons only succeed
// between leaves of the same kind; strings compare bytewise.
func Match(doc codec.Document, n Node) bool {
	switch x := n.(type) {
	case nil:
		return true
	case *Cond:
		return matchCond(doc, x)
	case *Logical:
		if x.Op == Or {
			return Match(doc, x.Left) || Match(doc, x.Right)
		}
		return Match(doc, x.Left) && Match(doc, x.Right)
	case *Not:
		return !Match(doc, x.Node)
	default:
		return false
	}
}

func matchCond(doc codec.Document, c *Cond) bool {
	v, present := codec.Lookup(doc, c.Field)
	switch c.Op {
	case OpEq:
		return equal(v, present, c.Value)
	case OpNe:
		return !equal(v, present, c.Value)
	case OpIn:
		list, _ := c.Value.([]any)
		for _, want := range list {
			if equal(v, present, want) {
				return true
			}
		}
		return false
	case OpLike:
		s, ok := v.(string)
		pattern, _ := c.Value.(string)
		return present && ok && Like(pattern, s)
	}
	if !present {
		return false
	}
	order, ok := Compare(v, c.Value)
	if !ok {
		return false
	}
	switch c.Op {
	case OpGt:
		return order > 0
	case OpGte:
		return order >= 0
	case OpLt:
		return order < 0
	case OpLte:
		return order <= 0
	}
	return false
}

func equal(v any, present bool, want any) bool {
	if want == nil {
		return !present
	}
	if !present {
		return false
	}
	order, ok := Compare(v, want)
	return ok && order == 0
}

// Compare orders two leaves of the same kind. ok is false when the kinds
// differ or either value is not a scalar leaf.
func Compare(a, b any) (order int, ok bool) {
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case int64:
		y, ok := b.(int64)
		if !ok {
			return 0, false
		}
		return cmp.Compare(x, y), true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		default:
			return 1, true
		}
	}
	return 0, false
}

var likeCache sync.Map // pattern -> *regexp.Regexp

// Like reports whether s matches the wildcard pattern. Case is folded for
// ASCII letters only, the rule SQLite's LIKE applies, so every backend
// agrees on non-ASCII text. '%' matches any run of characters, '_' exactly
// one, and '\' escapes the next character.
func Like(pattern, s string) bool {
	if re, ok := likeCache.Load(pattern); ok {
		return re.(*regexp.Regexp).MatchString(s)
	}
	re := regexp.MustCompile("(?s)" + LikeRegexp(pattern))
	likeCache.Store(pattern, re)
	return re.MatchString(s)
}

// LikeRegexp translates a wildcard pattern into a regular expression
// anchored with \A and \z, accepted by Go and PCRE engines. ASCII letters
// become two-case classes; the expression needs no case-insensitive flag.
func LikeRegexp(pattern string) string {
	return `\A` + likeBody(pattern) + `\z`
}

// LikePOSIX is LikeRegexp anchored for PostgreSQL's ~ operator.
func LikePOSIX(pattern string) string {
	return "^" + likeBody(pattern) + "$"
}

func likeBody(pattern string) string {
	var b strings.Builder
	literal := func(r rune) {
		switch {
		case 'a' <= r && r <= 'z':
			b.WriteString("[" + string(r-'a'+'A') + string(r) + "]")
		case 'A' <= r && r <= 'Z':
			b.WriteString("[" + string(r) + string(r-'A'+'a') + "]")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	escaped := false
	for _, r := range pattern {
		switch {
		case escaped:
			literal(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == '%':
			b.WriteString(`.*`)
		case r == '_':
			b.WriteString(`.`)
		default:
			literal(r)
		}
	}
	if escaped {
		literal('\\')
	}
	return b.String()
}

// SortItems orders items by sorts. Absent values sort first ascending and
// last descending; items equal on every key are ordered by ID ascending.
func SortItems(items []Item, sorts []Sort) {
	slices.SortStableFunc(items, func(a, b Item) int {
		for _, s := range sorts {
			av, aok := codec.Lookup(a.Doc, s.Field)
			bv, bok := codec.Lookup(b.Doc, s.Field)
			c := compareForSort(av, aok, bv, bok)
			if s.Dir == Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func compareForSort(a any, aok bool, b any, bok bool) int {
	switch {
	case !aok && !bok:
		return 0
	case !aok:
		return -1
	case !bok:
		return 1
	}
	if order, ok := Compare(a, b); ok {
		return order
	}
	return cmp.Compare(kindRank(a), kindRank(b))
}

// kindRank orders mixed-kind values the way MongoDB compares BSON types:
// null, numbers, strings, documents, arrays, then booleans. The SQL
// backend sorts through a typed column, so mixed kinds never reach it.
func kindRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case int64:
		return 1
	case string:
		return 2
	case codec.Document:
		return 3
	case []any:
		return 4
	case bool:
		return 5
	default:
		return 6
	}
}

// Page applies skip and limit.
func Page[T any](items []T, skip, limit int) []T {
	if skip < 0 {
		skip = 0
	}
	if skip >= len(items) || limit == 0 {
		return items[:0]
	}
	items = items[skip:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// Apply filters, sorts and pages items in memory.
func Apply(items []Item, spec Spec) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if Match(it.Doc, spec.Filter) {
			out = append(out, it)
		}
	}
	SortItems(out, spec.Sorts)
	return Page(out, spec.Skip, spec.Limit)
}

// CountMatches counts the items matching spec's filter.
func CountMatches(items []Item, spec Spec) int64 {
	var n int64
	for _, it := range items {
		if Match(it.Doc, spec.Filter) {
			n++
		}
	}
	return n
}
