package sqlstore

import (
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/storage/codec"
	"warden/internal/storage/query"
)

func compileFilter(t *testing.T, d Dialect, b *query.Builder[query.Item]) (string, []any) {
	t.Helper()
	spec, err := b.Spec()
	require.NoError(t, err)
	c := &compiler{dialect: d}
	where, err := c.filter(spec.Filter)
	require.NoError(t, err)
	return where, c.args
}

func q() *query.Builder[query.Item] { return query.New[query.Item](nil, nil) }

func TestCompileEmptyFilter(t *testing.T) {
	where, args := compileFilter(t, SQLite, q())
	assert.Equal(t, "TRUE", where)
	assert.Empty(t, args)
}

func TestCompilePostgresEq(t *testing.T) {
	where, args := compileFilter(t, Postgres, q().Where("target.id").Eq("p1"))
	assert.Equal(t, "COALESCE((data #> $1::text[]) = to_jsonb($2::text), FALSE)", where)
	require.Len(t, args, 2)
	assert.Equal(t, pq.Array([]string{"target", "id"}), args[0])
	assert.Equal(t, "p1", args[1])
}

func TestCompileSQLiteEq(t *testing.T) {
	where, args := compileFilter(t, SQLite, q().Where("n").Eq(5))
	assert.Equal(t, "(CASE WHEN json_type(data, ?) = 'integer' THEN json_extract(data, ?) = ? ELSE FALSE END)", where)
	assert.Equal(t, []any{"$.n", "$.n", int64(5)}, args)
}

func TestCompileSQLiteBool(t *testing.T) {
	where, args := compileFilter(t, SQLite, q().Where("active").Eq(true))
	assert.Equal(t, "COALESCE(json_type(data, ?) = 'true', FALSE)", where)
	assert.Equal(t, []any{"$.active"}, args)
}

func TestCompileNullChecks(t *testing.T) {
	where, _ := compileFilter(t, Postgres, q().Where("reason").Eq(nil))
	assert.Equal(t, "(COALESCE(jsonb_typeof(data #> $1::text[]), 'null') = 'null')", where)

	where, _ = compileFilter(t, SQLite, q().Where("reason").Ne(nil))
	assert.Equal(t, "(NOT (COALESCE(json_type(data, ?), 'null') = 'null'))", where)
}

func TestCompileEmptyIn(t *testing.T) {
	where, args := compileFilter(t, Postgres, q().Where("type").In())
	assert.Equal(t, "FALSE", where)
	assert.Empty(t, args)
}

func TestCompileLike(t *testing.T) {
	where, args := compileFilter(t, Postgres, q().Where("reason").Like("x%"))
	assert.Contains(t, where, "~ $3")
	assert.Equal(t, "^[Xx].*$", args[2])

	where, _ = compileFilter(t, SQLite, q().Where("reason").Like("x%"))
	assert.Contains(t, where, `LIKE ? ESCAPE '\'`)
}

func TestCompileOrderingUsesByteCollation(t *testing.T) {
	where, _ := compileFilter(t, Postgres, q().Where("reason").Gte("b"))
	assert.Contains(t, where, `COLLATE "C" >= $3::text`)
	assert.Contains(t, where, "jsonb_typeof(data #> $1::text[]) = 'string'")

	where, _ = compileFilter(t, Postgres, q().Where("n").Lt(3))
	assert.Contains(t, where, "< to_jsonb($3::bigint)")
}

func TestCompileLogicalAndNot(t *testing.T) {
	where, _ := compileFilter(t, SQLite, q().Not().Where("a").Eq("x").Or().Where("b").Eq("y"))
	assert.Regexp(t, `^\(\(NOT \(CASE .*\)\) OR \(CASE .*\)\)$`, where)
}

func TestCompileRejectsOrderingOnNil(t *testing.T) {
	c := &compiler{dialect: Postgres}
	_, err := c.filter(&query.Cond{Field: "n", Op: query.OpGt, Value: nil})
	require.ErrorIs(t, err, query.ErrInvalidQuery)
}

func TestOrderByAndPage(t *testing.T) {
	sorts := []query.Sort{{Field: "reason", Dir: query.Asc}, {Field: "n", Dir: query.Desc}}
	kinds := map[string]codec.Kind{"reason": codec.KindString, "n": codec.KindInt}

	c := &compiler{dialect: Postgres}
	order := c.orderBy(sorts, kinds)
	assert.Contains(t, order, `END) COLLATE "C" ASC NULLS FIRST`)
	assert.Contains(t, order, "::bigint END) DESC NULLS LAST")
	assert.True(t, len(order) > 0 && order[len(order)-len(`id COLLATE "C" ASC`):] == `id COLLATE "C" ASC`)

	assert.Equal(t, " LIMIT $5 OFFSET $6", c.page(2, 10))
	assert.Equal(t, " OFFSET $7", c.page(3, query.Unbounded))

	lite := &compiler{dialect: SQLite}
	assert.Equal(t, " LIMIT -1 OFFSET ?", lite.page(3, query.Unbounded))
	assert.Equal(t, "", lite.page(0, query.Unbounded))
	assert.Equal(t, []any{int64(3)}, lite.args)
}

func TestNewValidatesTable(t *testing.T) {
	_, err := New(nil, SQLite, "restrictions")
	require.Error(t, err)
}
