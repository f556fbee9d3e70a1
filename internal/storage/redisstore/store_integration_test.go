//go:build integration

package redisstore_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/storage/codec"
	"warden/internal/storage/query"
	"warden/internal/storage/redisstore"
	"warden/internal/storage/repository"
	"warden/internal/storage/storetest"
	"warden/pkg/testutil/containers"
)

func TestRedisContract(t *testing.T) {
	rc := containers.NewRedisContainer(t)

	storetest.Run(t, func(t *testing.T) repository.DocumentStore {
		return redisstore.New(rc.Client, "warden_test", uuid.NewString())
	}, storetest.Options{AtomicBatches: true})
}

func TestRedisSkipsVanishedDocuments(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	ctx := context.Background()
	require.NoError(t, rc.FlushAll(ctx))

	s := redisstore.New(rc.Client, "warden_test", "restrictions")
	require.NoError(t, s.Upsert(ctx, "a", codec.Document{"v": int64(1)}))
	require.NoError(t, s.Upsert(ctx, "b", codec.Document{"v": int64(2)}))
	require.NoError(t, rc.Client.Del(ctx, "warden_test:restrictions:doc:a").Err())

	n, err := s.Count(ctx, query.All())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
