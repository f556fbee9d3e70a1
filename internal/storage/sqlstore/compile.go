package sqlstore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"warden/internal/storage/codec"
	"warden/internal/storage/query"
)

// Dialect selects the SQL flavour a Store speaks.
type Dialect string

const (
	// Postgres stores documents in a JSONB column and addresses fields with
	// #> / #>> and text[] paths.
	Postgres Dialect = "postgres"
	// SQLite stores documents as JSON text and addresses fields with
	// json_extract / json_type.
	SQLite Dialect = "sqlite"
)

// compiler turns a query.Spec into SQL fragments and positional arguments.
// Every leaf predicate evaluates to TRUE or FALSE, never NULL, so NOT is
// the exact complement of its operand.
type compiler struct {
	dialect Dialect
	args    []any
}

func (c *compiler) arg(v any) string {
	c.args = append(c.args, v)
	if c.dialect == Postgres {
		return "$" + strconv.Itoa(len(c.args))
	}
	return "?"
}

// path binds a field path argument.
func (c *compiler) path(field string) string {
	if c.dialect == Postgres {
		return c.arg(pq.Array(strings.Split(field, "."))) + "::text[]"
	}
	return c.arg("$." + field)
}

// jsonValue is the field as a JSON value (Postgres jsonb).
func (c *compiler) jsonValue(field string) string {
	return "(data #> " + c.path(field) + ")"
}

// textValue is the field as SQL text (Postgres) or as its SQL scalar (SQLite).
func (c *compiler) textValue(field string) string {
	if c.dialect == Postgres {
		return "(data #>> " + c.path(field) + ")"
	}
	return "json_extract(data, " + c.path(field) + ")"
}

// typeOf is the JSON type name of the field, NULL when absent.
func (c *compiler) typeOf(field string) string {
	if c.dialect == Postgres {
		return "jsonb_typeof(data #> " + c.path(field) + ")"
	}
	return "json_type(data, " + c.path(field) + ")"
}

// typeGuard is a condition that holds when the field has the kind of v.
func (c *compiler) typeGuard(field string, v any) string {
	switch v.(type) {
	case string:
		if c.dialect == Postgres {
			return c.typeOf(field) + " = 'string'"
		}
		return c.typeOf(field) + " = 'text'"
	case int64:
		if c.dialect == Postgres {
			return c.typeOf(field) + " = 'number'"
		}
		return c.typeOf(field) + " = 'integer'"
	case bool:
		if c.dialect == Postgres {
			return c.typeOf(field) + " = 'boolean'"
		}
		return c.typeOf(field) + " IN ('true', 'false')"
	}
	return "FALSE"
}

func (c *compiler) filter(n query.Node) (string, error) {
	switch x := n.(type) {
	case nil:
		return "TRUE", nil
	case *query.Cond:
		return c.cond(x)
	case *query.Logical:
		l, err := c.filter(x.Left)
		if err != nil {
			return "", err
		}
		r, err := c.filter(x.Right)
		if err != nil {
			return "", err
		}
		op := " AND "
		if x.Op == query.Or {
			op = " OR "
		}
		return "(" + l + op + r + ")", nil
	case *query.Not:
		inner, err := c.filter(x.Node)
		if err != nil {
			return "", err
		}
		return "(NOT " + inner + ")", nil
	}
	return "", fmt.Errorf("%w: unknown node %T", query.ErrInvalidQuery, n)
}

func (c *compiler) cond(x *query.Cond) (string, error) {
	switch x.Op {
	case query.OpEq:
		return c.eq(x.Field, x.Value), nil
	case query.OpNe:
		return "(NOT " + c.eq(x.Field, x.Value) + ")", nil
	case query.OpIn:
		list, _ := x.Value.([]any)
		if len(list) == 0 {
			return "FALSE", nil
		}
		parts := make([]string, len(list))
		for i, v := range list {
			parts[i] = c.eq(x.Field, v)
		}
		return "(" + strings.Join(parts, " OR ") + ")", nil
	case query.OpLike:
		pattern, _ := x.Value.(string)
		guard := c.typeGuard(x.Field, "")
		if c.dialect == Postgres {
			return "(CASE WHEN " + guard + " THEN " + c.textValue(x.Field) + " ~ " + c.arg(query.LikePOSIX(pattern)) + " ELSE FALSE END)", nil
		}
		return "(CASE WHEN " + guard + " THEN " + c.textValue(x.Field) + " LIKE " + c.arg(pattern) + ` ESCAPE '\' ELSE FALSE END)`, nil
	case query.OpGt, query.OpGte, query.OpLt, query.OpLte:
		return c.ordering(x)
	}
	return "", fmt.Errorf("%w: unknown operator %q", query.ErrInvalidQuery, x.Op)
}

func (c *compiler) eq(field string, v any) string {
	if v == nil {
		return "(COALESCE(" + c.typeOf(field) + ", 'null') = 'null')"
	}
	if c.dialect == Postgres {
		return "COALESCE(" + c.jsonValue(field) + " = to_jsonb(" + c.param(v) + "), FALSE)"
	}
	if b, ok := v.(bool); ok {
		want := "'false'"
		if b {
			want = "'true'"
		}
		return "COALESCE(" + c.typeOf(field) + " = " + want + ", FALSE)"
	}
	return "(CASE WHEN " + c.typeGuard(field, v) + " THEN " + c.textValue(field) + " = " + c.param(v) + " ELSE FALSE END)"
}

var sqlOps = map[query.Op]string{query.OpGt: ">", query.OpGte: ">=", query.OpLt: "<", query.OpLte: "<="}

func (c *compiler) ordering(x *query.Cond) (string, error) {
	op := sqlOps[x.Op]
	if _, ok := codec.KindOf(x.Value); !ok {
		return "", fmt.Errorf("%w: %s needs a scalar value", query.ErrInvalidQuery, x.Op)
	}
	guard := c.typeGuard(x.Field, x.Value)
	var cmp string
	switch {
	case c.dialect == Postgres:
		if _, ok := x.Value.(string); ok {
			cmp = c.textValue(x.Field) + ` COLLATE "C" ` + op + " " + c.param(x.Value)
		} else {
			cmp = c.jsonValue(x.Field) + " " + op + " to_jsonb(" + c.param(x.Value) + ")"
		}
	default:
		cmp = c.textValue(x.Field) + " " + op + " " + c.param(x.Value)
	}
	return "(CASE WHEN " + guard + " THEN " + cmp + " ELSE FALSE END)", nil
}

// param binds a scalar with an explicit type in Postgres. SQLite stores
// booleans as 0/1 integers.
func (c *compiler) param(v any) string {
	switch x := v.(type) {
	case string:
		if c.dialect == Postgres {
			return c.arg(x) + "::text"
		}
		return c.arg(x)
	case int64:
		if c.dialect == Postgres {
			return c.arg(x) + "::bigint"
		}
		return c.arg(x)
	case bool:
		if c.dialect == Postgres {
			return c.arg(x) + "::boolean"
		}
		if x {
			return c.arg(int64(1))
		}
		return c.arg(int64(0))
	}
	return c.arg(v)
}

// sortKey is the expression a field sorts by. Known kinds are extracted as
// typed scalars so numbers sort numerically and strings bytewise; values of
// another kind sort as absent.
func (c *compiler) sortKey(field string, kind codec.Kind) string {
	switch kind {
	case codec.KindString:
		if c.dialect == Postgres {
			return "(CASE WHEN " + c.typeOf(field) + " = 'string' THEN " + c.textValue(field) + ` END) COLLATE "C"`
		}
		return "(CASE WHEN " + c.typeOf(field) + " = 'text' THEN " + c.textValue(field) + " END)"
	case codec.KindInt:
		if c.dialect == Postgres {
			return "(CASE WHEN " + c.typeOf(field) + " = 'number' THEN " + c.textValue(field) + "::bigint END)"
		}
		return "(CASE WHEN " + c.typeOf(field) + " = 'integer' THEN " + c.textValue(field) + " END)"
	case codec.KindBool:
		if c.dialect == Postgres {
			return "(CASE WHEN " + c.typeOf(field) + " = 'boolean' THEN " + c.textValue(field) + "::boolean END)"
		}
		return "(CASE WHEN " + c.typeOf(field) + " IN ('true', 'false') THEN " + c.textValue(field) + " END)"
	}
	if c.dialect == Postgres {
		return c.jsonValue(field)
	}
	return c.textValue(field)
}

func (c *compiler) orderBy(sorts []query.Sort, kinds map[string]codec.Kind) string {
	parts := make([]string, 0, len(sorts)+1)
	for _, s := range sorts {
		key := c.sortKey(s.Field, kinds[s.Field])
		if s.Dir == query.Desc {
			parts = append(parts, key+" DESC NULLS LAST")
		} else {
			parts = append(parts, key+" ASC NULLS FIRST")
		}
	}
	if c.dialect == Postgres {
		parts = append(parts, `id COLLATE "C" ASC`)
	} else {
		parts = append(parts, "id ASC")
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

func (c *compiler) page(skip, limit int) string {
	var b strings.Builder
	switch {
	case limit >= 0:
		b.WriteString(" LIMIT " + c.arg(int64(limit)))
	case c.dialect == SQLite && skip > 0:
		b.WriteString(" LIMIT -1")
	}
	if skip > 0 {
		b.WriteString(" OFFSET " + c.arg(int64(skip)))
	}
	return b.String()
}
