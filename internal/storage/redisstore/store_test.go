package redisstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/storage/codec"
)

func TestKeys(t *testing.T) {
	s := New(nil, "warden", "restrictions")
	assert.Equal(t, "warden:restrictions:doc:abc", s.docKey("abc"))
	assert.Equal(t, "warden:restrictions:ids", s.idsKey())
	assert.Equal(t, "redis", s.Backend())

	bare := New(nil, "", "revisions")
	assert.Equal(t, "revisions:ids", bare.idsKey())
}

func TestDecodeNormalizesNumbers(t *testing.T) {
	doc, err := decode([]byte(`{"issuedAt":1700000000123,"target":{"id":"p1"},"notes":["a"],"reason":null}`))
	require.NoError(t, err)
	assert.Equal(t, codec.Document{
		"issuedAt": int64(1_700_000_000_123),
		"target":   codec.Document{"id": "p1"},
		"notes":    []any{"a"},
		"reason":   nil,
	}, doc)

	_, err = decode([]byte(`{"ratio":0.5}`))
	require.Error(t, err)
	_, err = decode([]byte(`not json`))
	require.Error(t, err)
}
