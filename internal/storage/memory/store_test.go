package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/storage/codec"
	"warden/internal/storage/memory"
	"warden/internal/storage/repository"
	"warden/internal/storage/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(*testing.T) repository.DocumentStore {
		return memory.New()
	}, storetest.Options{AtomicBatches: true})
}

func TestStoreIsolatesDocuments(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	doc := codec.Document{"nested": codec.Document{"k": "v"}}
	require.NoError(t, s.Upsert(ctx, "a", doc))

	doc["nested"].(codec.Document)["k"] = "changed"
	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "v", got["nested"].(codec.Document)["k"])

	got["nested"].(codec.Document)["k"] = "again"
	again, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "v", again["nested"].(codec.Document)["k"])
	assert.Equal(t, 1, s.Len())
}
