// Package storetest is the behavioural contract every DocumentStore must
// satisfy. Backend packages run it from their own tests; query results are
// checked against the in-memory evaluator, which defines the semantics.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/storage/codec"
	"warden/internal/storage/query"
	"warden/internal/storage/repository"
	"warden/pkg/platform/sentinel"
)

// Options tune the contract to a backend's guarantees.
type Options struct {
	// AtomicBatches asserts that a failed batch leaves no partial writes.
	AtomicBatches bool
}

// Opener returns an empty store. It is called once per subtest.
type Opener func(t *testing.T) repository.DocumentStore

// Run executes the whole contract.
func Run(t *testing.T, open Opener, opts Options) {
	t.Run("crud", func(t *testing.T) { testCRUD(t, open(t)) })
	t.Run("round trip", func(t *testing.T) { testRoundTrip(t, open(t)) })
	t.Run("queries", func(t *testing.T) { testQueries(t, open(t)) })
	t.Run("batch", func(t *testing.T) { testBatch(t, open(t), opts) })
	t.Run("like folding", func(t *testing.T) { testLikeFolding(t, open(t)) })
}

// testLikeFolding pins Like to ASCII-only case folding.
func testLikeFolding(t *testing.T, s repository.DocumentStore) {
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, "fr", codec.Document{"reason": "Échec de connexion"}))
	require.NoError(t, s.Upsert(ctx, "en", codec.Document{"reason": "LOGIN failure"}))

	tests := []struct {
		pattern string
		want    []string
	}{
		{"%échec%", []string{}},
		{"%ÉCHEC%", []string{"fr"}},
		{"%login%", []string{"en"}},
		{"_chec%", []string{"fr"}},
	}
	for _, tt := range tests {
		spec, err := q().Where("reason").Like(tt.pattern).Spec()
		require.NoError(t, err)
		got, err := s.Find(ctx, spec)
		require.NoError(t, err)
		assert.Equal(t, tt.want, IDs(got), tt.pattern)
	}
}

func testCRUD(t *testing.T, s repository.DocumentStore) {
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, sentinel.ErrNotFound)

	require.NoError(t, s.Upsert(ctx, "a", codec.Document{"v": int64(1)}))
	require.NoError(t, s.Upsert(ctx, "a", codec.Document{"v": int64(2)}))
	doc, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), doc["v"])

	ok, err := s.Exists(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := s.Count(ctx, query.All())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	existed, err := s.Delete(ctx, "a")
	require.NoError(t, err)
	assert.True(t, existed)
	existed, err = s.Delete(ctx, "a")
	require.NoError(t, err)
	assert.False(t, existed)

	ok, err = s.Exists(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testRoundTrip(t *testing.T, s repository.DocumentStore) {
	ctx := context.Background()
	doc := codec.Document{
		"s":     "héllo",
		"n":     int64(-9007199254740991),
		"big":   int64(1_700_000_000_123),
		"b":     false,
		"null":  nil,
		"list":  []any{"x", int64(1), true},
		"empty": []any{},
		"nested": codec.Document{
			"inner": codec.Document{"k": "v"},
		},
	}
	require.NoError(t, s.Upsert(ctx, "rt", doc))
	got, err := s.Get(ctx, "rt")
	require.NoError(t, err)
	assert.Equal(t, doc, got)
}

// Fixtures mix kinds, absent fields, explicit nulls and letter case on
// purpose; each backend has to agree with the evaluator on all of them.
func Fixtures() []query.Item {
	return []query.Item{
		{ID: "f01", Doc: codec.Document{"type": "BAN", "n": int64(5), "active": true, "reason": "Xray usage", "target": codec.Document{"id": "p1", "name": "Alpha"}}},
		{ID: "f02", Doc: codec.Document{"type": "MUTE", "n": int64(1), "active": false, "reason": "spam", "target": codec.Document{"id": "p1", "name": "alpha"}}},
		{ID: "f03", Doc: codec.Document{"type": "BAN", "n": int64(10), "active": true, "target": codec.Document{"id": "p2", "name": "Beta"}}},
		{ID: "f04", Doc: codec.Document{"type": "KICK", "n": int64(-3), "active": false, "reason": "afk_100%", "target": codec.Document{"id": "p3", "name": "gamma"}, "revocation": codec.Document{"by": "CONSOLE"}}},
		{ID: "f05", Doc: codec.Document{"type": "WARN", "n": "7", "reason": "Zeta", "target": codec.Document{"id": "p2"}}},
		{ID: "f06", Doc: codec.Document{"type": "MUTE", "n": int64(5), "active": true, "reason": "xray", "target": codec.Document{"id": "p4", "name": "Delta"}, "expiresAt": int64(1000)}},
		{ID: "f07", Doc: codec.Document{"type": "BAN", "reason": "", "target": codec.Document{"id": "p5"}}},
		{ID: "f08", Doc: codec.Document{"type": "ban", "n": int64(0), "active": true, "reason": "ban evasion"}},
		{ID: "f09", Doc: codec.Document{"type": "MUTE", "n": int64(2), "reason": nil, "target": codec.Document{"id": "p1"}}},
		{ID: "f10", Doc: codec.Document{"type": "WARN", "n": int64(4), "reason": "Échec de connexion", "target": codec.Document{"id": "p6"}}},
	}
}

// FixtureKinds is the schema of Fixtures for backends that cast sort keys.
var FixtureKinds = map[string]codec.Kind{
	"type":      codec.KindString,
	"reason":    codec.KindString,
	"n":         codec.KindInt,
	"active":    codec.KindBool,
	"target.id": codec.KindString,
	"expiresAt": codec.KindInt,
}

type item = query.Builder[query.Item]

func q() *item { return query.New[query.Item](nil, nil) }

// Cases are the named queries the contract evaluates.
func Cases() map[string]*item {
	return map[string]*item{
		"all":                q(),
		"eq string":          q().Where("type").Eq("BAN"),
		"ne string":          q().Where("type").Ne("BAN"),
		"eq nil":             q().Where("reason").Eq(nil),
		"ne nil":             q().Where("reason").Ne(nil),
		"ne includes absent": q().Where("reason").Ne("spam"),
		"eq int":             q().Where("n").Eq(5),
		"gt int":             q().Where("n").Gt(1),
		"lte int":            q().Where("n").Lte(0),
		"gte string":         q().Where("reason").Gte("b"),
		"lt string":          q().Where("reason").Lt("Z"),
		"eq bool":            q().Where("active").Eq(true),
		"ne bool":            q().Where("active").Ne(false),
		"in":                 q().Where("type").In("MUTE", "KICK"),
		"in with nil":        q().Where("reason").In(nil, "spam"),
		"empty in":           q().Where("type").In(),
		"like prefix":        q().Where("reason").Like("x%"),
		"like single":        q().Where("reason").Like("sp_m"),
		"like escaped":       q().Where("reason").Like(`%\_100\%`),
		"like non-string":    q().Where("n").Like("%"),
		"like non-ascii":     q().Where("reason").Like("%échec%"),
		"like ascii folds":   q().Where("reason").Like("%ÉCHEC%"),
		"nested":             q().Where("target.id").Eq("p1"),
		"nested absent":      q().Where("target.name").Eq(nil),
		"not":                q().Not().Where("n").Gt(1),
		"left fold":          q().Where("type").Eq("BAN").And().Where("n").Gt(6).Or().Where("type").Eq("WARN"),
		"group": q().Where("target.id").Eq("p1").And().Group(func(g *item) {
			g.Where("active").Eq(false).Or().Where("revocation").Ne(nil)
		}),
		"not group": q().Not().Group(func(g *item) {
			g.Where("type").Eq("BAN").Or().Where("type").Eq("MUTE")
		}),
		"expiry group": q().Group(func(g *item) {
			g.Where("expiresAt").Eq(nil).Or().Where("expiresAt").Gt(500)
		}).And().Where("type").Eq("MUTE"),
		"sort string asc":  q().SortBy("reason", query.Asc),
		"sort string desc": q().SortBy("reason", query.Desc),
		"sort ties desc":   q().SortBy("type", query.Desc),
		"sort bool":        q().SortBy("active", query.Asc),
		"sort multi":       q().SortBy("type", query.Asc).SortBy("n", query.Desc),
		"sort int page":    q().Where("n").Gte(-100).SortBy("n", query.Asc).Skip(1).Limit(3),
		"limit":            q().Limit(2),
		"limit zero":       q().Limit(0),
		"skip past end":    q().Skip(20),
		"filtered sort":    q().Where("target.id").Eq("p1").SortBy("n", query.Desc),
	}
}

func testQueries(t *testing.T, s repository.DocumentStore) {
	ctx := context.Background()
	fixtures := Fixtures()
	for _, it := range fixtures {
		require.NoError(t, s.Upsert(ctx, it.ID, it.Doc))
	}

	for name, b := range Cases() {
		t.Run(name, func(t *testing.T) {
			spec, err := b.Spec()
			require.NoError(t, err)
			spec.Kinds = FixtureKinds

			want := IDs(query.Apply(Fixtures(), spec))
			got, err := s.Find(ctx, spec)
			require.NoError(t, err)
			assert.Equal(t, want, IDs(got))

			n, err := s.Count(ctx, spec)
			require.NoError(t, err)
			assert.Equal(t, query.CountMatches(Fixtures(), spec), n)
		})
	}
}

func testBatch(t *testing.T, s repository.DocumentStore, opts Options) {
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, "keep", codec.Document{"v": int64(1)}))

	require.NoError(t, s.Apply(ctx, []repository.Op{
		{Kind: repository.OpInsert, ID: "a", Doc: codec.Document{"v": int64(1)}},
		{Kind: repository.OpUpsert, ID: "b", Doc: codec.Document{"v": int64(2)}},
		{Kind: repository.OpUpdate, ID: "keep", Doc: codec.Document{"v": int64(3)}},
		{Kind: repository.OpDelete, ID: "missing"},
	}))
	doc, err := s.Get(ctx, "keep")
	require.NoError(t, err)
	assert.Equal(t, int64(3), doc["v"])

	err = s.Apply(ctx, []repository.Op{
		{Kind: repository.OpUpsert, ID: "c", Doc: codec.Document{"v": int64(4)}},
		{Kind: repository.OpInsert, ID: "a", Doc: codec.Document{"v": int64(5)}},
	})
	require.ErrorIs(t, err, sentinel.ErrConflict)

	err = s.Apply(ctx, []repository.Op{
		{Kind: repository.OpDelete, ID: "b"},
		{Kind: repository.OpUpdate, ID: "nope", Doc: codec.Document{"v": int64(6)}},
	})
	require.ErrorIs(t, err, sentinel.ErrNotFound)

	if opts.AtomicBatches {
		ok, err := s.Exists(ctx, "c")
		require.NoError(t, err)
		assert.False(t, ok, "failed batch must not leave partial writes")
		ok, err = s.Exists(ctx, "b")
		require.NoError(t, err)
		assert.True(t, ok, "failed batch must not leave partial deletes")
	}
}

// IDs lists item identities in order.
func IDs(items []query.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}
