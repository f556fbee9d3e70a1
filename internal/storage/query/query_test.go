package query_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"warden/internal/storage/codec"
	"warden/internal/storage/query"
	"warden/pkg/platform/sentinel"
)

// itemExecutor evaluates specs over a fixed slice, like the memory backend.
type itemExecutor struct {
	items []query.Item
	specs []query.Spec
}

func (e *itemExecutor) Find(_ context.Context, spec query.Spec) ([]query.Item, error) {
	e.specs = append(e.specs, spec)
	return query.Apply(append([]query.Item(nil), e.items...), spec), nil
}

func (e *itemExecutor) Count(_ context.Context, spec query.Spec) (int64, error) {
	e.specs = append(e.specs, spec)
	return query.CountMatches(e.items, spec), nil
}

type QuerySuite struct {
	suite.Suite
	exec *itemExecutor
	ctx  context.Context
}

func TestQuerySuite(t *testing.T) {
	suite.Run(t, new(QuerySuite))
}

func (s *QuerySuite) SetupTest() {
	s.ctx = context.Background()
	s.exec = &itemExecutor{items: []query.Item{
		{ID: "a", Doc: codec.Document{"type": "BAN", "n": int64(3), "reason": "Hacking", "target": codec.Document{"id": "p1"}}},
		{ID: "b", Doc: codec.Document{"type": "MUTE", "n": int64(1), "reason": "spam", "target": codec.Document{"id": "p1"}, "revocation": codec.Document{"by": "x"}}},
		{ID: "c", Doc: codec.Document{"type": "BAN", "n": int64(2), "target": codec.Document{"id": "p2"}}},
		{ID: "d", Doc: codec.Document{"type": "KICK", "n": "2", "reason": "100% afk", "target": codec.Document{"id": "p3"}}},
	}}
}

func (s *QuerySuite) builder() *query.Builder[query.Item] {
	return query.New[query.Item](s.exec, nil)
}

func ids(items []query.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func (s *QuerySuite) run(b *query.Builder[query.Item]) []string {
	out, err := b.Execute(s.ctx)
	s.Require().NoError(err)
	return ids(out)
}

func (s *QuerySuite) TestComparators() {
	s.Run("eq and ne", func() {
		s.Equal([]string{"a", "c"}, s.run(s.builder().Where("type").Eq("BAN")))
		s.Equal([]string{"b", "d"}, s.run(s.builder().Where("type").Ne("BAN")))
	})

	s.Run("absent fields behave as null", func() {
		s.Equal([]string{"c"}, s.run(s.builder().Where("reason").Eq(nil)))
		s.Equal([]string{"a", "b", "d"}, s.run(s.builder().Where("reason").Ne(nil)))
		s.Equal([]string{"a", "c", "d"}, s.run(s.builder().Where("revocation").Eq(nil)))
		// Ne(v) includes documents without the field
		s.Equal([]string{"a", "b", "c"}, s.run(s.builder().Where("reason").Ne("100% afk")))
	})

	s.Run("ordering only matches the same kind", func() {
		s.Equal([]string{"a", "c"}, s.run(s.builder().Where("n").Gte(2)))
		s.Equal([]string{"b"}, s.run(s.builder().Where("n").Lt(2)))
		s.Equal([]string{"d"}, s.run(s.builder().Where("n").Eq("2")))
		s.Empty(s.run(s.builder().Where("missing").Gt(0)))
	})

	s.Run("in accepts values or one slice", func() {
		s.Equal([]string{"b", "d"}, s.run(s.builder().Where("type").In("MUTE", "KICK")))
		s.Equal([]string{"b", "d"}, s.run(s.builder().Where("type").In([]string{"MUTE", "KICK"})))
		s.Empty(s.run(s.builder().Where("type").In()))
	})

	s.Run("like is case-insensitive with escapes", func() {
		s.Equal([]string{"a"}, s.run(s.builder().Where("reason").Like("hack%")))
		s.Equal([]string{"b"}, s.run(s.builder().Where("reason").Like("SP_M")))
		s.Equal([]string{"d"}, s.run(s.builder().Where("reason").Like(`%\%%`)))
		// only d stores n as a string
		s.Equal([]string{"d"}, s.run(s.builder().Where("n").Like("%")))
		s.Empty(s.run(s.builder().Where("type").Like("%").And().Where("n").Gt(0).And().Where("n").Like("%")))
	})

	s.Run("nested paths", func() {
		s.Equal([]string{"a", "b"}, s.run(s.builder().Where("target.id").Eq("p1")))
	})
}

func (s *QuerySuite) TestCombination() {
	s.Run("left fold", func() {
		// (type = BAN AND n = 3) OR type = KICK
		got := s.run(s.builder().Where("type").Eq("BAN").And().Where("n").Eq(3).Or().Where("type").Eq("KICK"))
		s.Equal([]string{"a", "d"}, got)
	})

	s.Run("not negates only the next predicate", func() {
		got := s.run(s.builder().Where("target.id").Eq("p1").And().Not().Where("type").Eq("BAN"))
		s.Equal([]string{"b"}, got)
	})

	s.Run("not is the exact complement", func() {
		got := s.run(s.builder().Not().Where("n").Gt(1))
		s.Equal([]string{"b", "d"}, got)
	})

	s.Run("group", func() {
		got := s.run(s.builder().Where("target.id").Eq("p1").And().Group(func(g *query.Builder[query.Item]) {
			g.Where("revocation").Eq(nil).Or().Where("type").Eq("MUTE")
		}))
		s.Equal([]string{"a", "b"}, got)

		got = s.run(s.builder().Not().Group(func(g *query.Builder[query.Item]) {
			g.Where("type").Eq("BAN").Or().Where("type").Eq("MUTE")
		}))
		s.Equal([]string{"d"}, got)
	})
}

func (s *QuerySuite) TestOrderingAndPaging() {
	s.Run("absent sorts first ascending and last descending", func() {
		// bytewise: "100% afk" < "Hacking" < "spam"
		s.Equal([]string{"c", "d", "a", "b"}, s.run(s.builder().SortBy("reason", query.Asc)))
		s.Equal([]string{"b", "a", "d", "c"}, s.run(s.builder().SortBy("reason", query.Desc)))
	})

	s.Run("ties broken by id ascending", func() {
		s.Equal([]string{"a", "c", "d", "b"}, s.run(s.builder().SortBy("type", query.Asc)))
		s.Equal([]string{"b", "d", "a", "c"}, s.run(s.builder().SortBy("type", query.Desc)))
	})

	s.Run("mixed kinds sort like bson", func() {
		exec := &itemExecutor{items: []query.Item{
			{ID: "bool", Doc: codec.Document{"v": false}},
			{ID: "doc", Doc: codec.Document{"v": codec.Document{"x": int64(1)}}},
			{ID: "int", Doc: codec.Document{"v": int64(99)}},
			{ID: "null", Doc: codec.Document{"v": nil}},
			{ID: "str", Doc: codec.Document{"v": "a"}},
		}}
		asc, err := query.New[query.Item](exec, nil).SortBy("v", query.Asc).Execute(s.ctx)
		s.Require().NoError(err)
		s.Equal([]string{"null", "int", "str", "doc", "bool"}, ids(asc))

		desc, err := query.New[query.Item](exec, nil).SortBy("v", query.Desc).Execute(s.ctx)
		s.Require().NoError(err)
		s.Equal([]string{"bool", "doc", "str", "int", "null"}, ids(desc))
	})

	s.Run("limit semantics", func() {
		s.Len(s.run(s.builder().Limit(-1)), 4)
		s.Empty(s.run(s.builder().Limit(0)))
		s.Equal([]string{"a", "b"}, s.run(s.builder().Limit(2)))
		s.Equal([]string{"c"}, s.run(s.builder().Skip(2).Limit(1)))
		s.Empty(s.run(s.builder().Skip(10)))
	})

	s.Run("limit zero skips the backend", func() {
		before := len(s.exec.specs)
		s.Empty(s.run(s.builder().Limit(0)))
		s.Len(s.exec.specs, before)
	})
}

func (s *QuerySuite) TestTerminals() {
	s.Run("find first", func() {
		first, err := s.builder().Where("type").Eq("BAN").SortBy("n", query.Asc).FindFirst(s.ctx)
		s.Require().NoError(err)
		s.Equal("c", first.ID)

		_, err = s.builder().Where("type").Eq("WARN").FindFirst(s.ctx)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("count ignores paging", func() {
		n, err := s.builder().Where("type").Eq("BAN").Limit(1).Count(s.ctx)
		s.Require().NoError(err)
		s.Equal(int64(2), n)
	})

	s.Run("async", func() {
		out, err := s.builder().Where("type").Eq("MUTE").ExecuteAsync(s.ctx).Wait(s.ctx)
		s.Require().NoError(err)
		s.Equal([]string{"b"}, ids(out))
	})
}

func (s *QuerySuite) TestMisuse() {
	cases := map[string]*query.Builder[query.Item]{
		"comparator without field": s.builder().Eq("x"),
		"where without comparator": s.builder().Where("type"),
		"double where":             s.builder().Where("type").Where("n").Eq(1),
		"bad field":                s.builder().Where("type; DROP TABLE").Eq(1),
		"bad sort field":           s.builder().SortBy("a..b", query.Asc),
		"unsupported value":        s.builder().Where("n").Eq(1.5),
		"ordering nil":             s.builder().Where("n").Gt(nil),
		"limit below -1":           s.builder().Limit(-2),
		"negative skip":            s.builder().Skip(-1),
		"dangling where in group": s.builder().Group(func(g *query.Builder[query.Item]) {
			g.Where("type")
		}),
	}
	for name, b := range cases {
		s.Run(name, func() {
			before := len(s.exec.specs)
			_, err := b.Execute(s.ctx)
			s.ErrorIs(err, query.ErrInvalidQuery)
			s.Len(s.exec.specs, before, "no I/O on misuse")
		})
	}
}

func TestValueNormalization(t *testing.T) {
	exec := &itemExecutor{}
	at := time.UnixMilli(1_700_000_000_000)
	b := query.New[query.Item](exec, nil).Where("at").Gte(at).And().Where("n").Eq(int32(4))
	spec, err := b.Spec()
	require.NoError(t, err)

	root, ok := spec.Filter.(*query.Logical)
	require.True(t, ok)
	assert.Equal(t, &query.Cond{Field: "at", Op: query.OpGte, Value: int64(1_700_000_000_000)}, root.Left)
	assert.Equal(t, &query.Cond{Field: "n", Op: query.OpEq, Value: int64(4)}, root.Right)
}

func TestLikeRegexp(t *testing.T) {
	assert.Equal(t, `\A[Aa].*[Bb].[Cc]\.\z`, query.LikeRegexp(`a%b_c.`))
	assert.Equal(t, `\A%\z`, query.LikeRegexp(`\%`))
	assert.Equal(t, `^[Xx]1.$`, query.LikePOSIX(`x1_`))
	assert.True(t, query.Like("Hello%", "hello world"))
	assert.False(t, query.Like("hello", "hello world"))
	assert.True(t, query.Like("a_c", "ABC"))
	assert.True(t, query.Like("line%", "line one\nline two"))
}

func TestLikeFoldsASCIIOnly(t *testing.T) {
	tests := []struct {
		pattern, value string
		want           bool
	}{
		{"%échec%", "Échec de connexion", false},
		{"%ÉCHEC%", "Échec de connexion", true},
		{"%Échec%", "Échec de connexion", true},
		{"straße", "STRAßE", true},
		{"straße", "STRASSE", false},
		{"_chec%", "Échec", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, query.Like(tt.pattern, tt.value), "%q ~ %q", tt.pattern, tt.value)
	}
}
