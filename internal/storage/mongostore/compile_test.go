package mongostore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"warden/internal/storage/codec"
	"warden/internal/storage/query"
)

func q() *query.Builder[query.Item] { return query.New[query.Item](nil, nil) }

func compile(t *testing.T, b *query.Builder[query.Item]) bson.D {
	t.Helper()
	spec, err := b.Spec()
	require.NoError(t, err)
	f, err := Filter(spec.Filter)
	require.NoError(t, err)
	return f
}

func TestFilterLeaves(t *testing.T) {
	tests := []struct {
		name string
		b    *query.Builder[query.Item]
		want bson.D
	}{
		{"empty", q(), bson.D{}},
		{"eq", q().Where("type").Eq("BAN"), bson.D{{Key: "type", Value: bson.D{{Key: "$eq", Value: "BAN"}}}}},
		{"eq nil", q().Where("reason").Eq(nil), bson.D{{Key: "reason", Value: bson.D{{Key: "$eq", Value: nil}}}}},
		{"ne int", q().Where("n").Ne(3), bson.D{{Key: "n", Value: bson.D{{Key: "$ne", Value: int64(3)}}}}},
		{"gte nested", q().Where("target.id").Gte("p"), bson.D{{Key: "target.id", Value: bson.D{{Key: "$gte", Value: "p"}}}}},
		{"in", q().Where("type").In("BAN", nil), bson.D{{Key: "type", Value: bson.D{{Key: "$in", Value: bson.A{"BAN", nil}}}}}},
		{"empty in", q().Where("type").In(), bson.D{{Key: "type", Value: bson.D{{Key: "$in", Value: bson.A{}}}}}},
		{"like", q().Where("reason").Like(`x%\_`), bson.D{{Key: "reason", Value: bson.D{{Key: "$regex", Value: bson.Regex{Pattern: `\A[Xx].*_\z`, Options: "s"}}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, compile(t, tt.b))
		})
	}
}

func TestFilterCombinators(t *testing.T) {
	got := compile(t, q().Where("a").Eq(1).And().Not().Where("b").Eq(2).Or().Where("c").Eq(3))
	want := bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "$and", Value: bson.A{
			bson.D{{Key: "a", Value: bson.D{{Key: "$eq", Value: int64(1)}}}},
			bson.D{{Key: "$nor", Value: bson.A{bson.D{{Key: "b", Value: bson.D{{Key: "$eq", Value: int64(2)}}}}}}},
		}}},
		bson.D{{Key: "c", Value: bson.D{{Key: "$eq", Value: int64(3)}}}},
	}}}
	assert.Equal(t, want, got)
}

func TestFilterRejectsOrderingOnNil(t *testing.T) {
	_, err := Filter(&query.Cond{Field: "n", Op: query.OpLt, Value: nil})
	require.ErrorIs(t, err, query.ErrInvalidQuery)
}

func TestSortAppendsIDTieBreak(t *testing.T) {
	got := Sort([]query.Sort{{Field: "issuedAt", Dir: query.Desc}, {Field: "type", Dir: query.Asc}})
	assert.Equal(t, bson.D{{Key: "issuedAt", Value: -1}, {Key: "type", Value: 1}, {Key: "_id", Value: 1}}, got)
	assert.Equal(t, bson.D{{Key: "_id", Value: 1}}, Sort(nil))
}

func TestBSONConversion(t *testing.T) {
	raw := bson.D{
		{Key: "_id", Value: "r1"},
		{Key: "n", Value: int32(4)},
		{Key: "at", Value: bson.DateTime(1_700_000_000_000)},
		{Key: "target", Value: bson.D{{Key: "id", Value: "p1"}, {Key: "seen", Value: int64(7)}}},
		{Key: "notes", Value: bson.A{"a", bson.M{"k": float64(2)}}},
		{Key: "gone", Value: nil},
	}
	id, ok := lookupID(raw)
	require.True(t, ok)
	assert.Equal(t, "r1", id)

	doc, err := fromBSON(raw)
	require.NoError(t, err)
	assert.Equal(t, codec.Document{
		"n":      int64(4),
		"at":     int64(1_700_000_000_000),
		"target": codec.Document{"id": "p1", "seen": int64(7)},
		"notes":  []any{"a", codec.Document{"k": int64(2)}},
		"gone":   nil,
	}, doc)

	_, err = fromBSON(bson.D{{Key: "ratio", Value: 0.5}})
	require.ErrorIs(t, err, codec.ErrMalformed)

	encoded := toBSON("r2", codec.Document{"_id": "ignored", "v": int64(1)})
	assert.Equal(t, bson.D{{Key: "_id", Value: "r2"}, {Key: "v", Value: int64(1)}}, encoded)
}
