//go:build integration

package sqlstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"warden/internal/platform/migrate"
	"warden/internal/storage/repository"
	"warden/internal/storage/sqlstore"
	"warden/internal/storage/storetest"
	"warden/pkg/testutil/containers"
)

func TestPostgresContract(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	ctx := context.Background()
	require.NoError(t, migrate.Apply(ctx, pg.DB, "postgres"))
	require.NoError(t, migrate.Apply(ctx, pg.DB, "postgres"))

	storetest.Run(t, func(t *testing.T) repository.DocumentStore {
		_, err := pg.DB.ExecContext(ctx, "TRUNCATE restrictions")
		require.NoError(t, err)
		s, err := sqlstore.New(pg.DB, sqlstore.Postgres, "restrictions")
		require.NoError(t, err)
		return s
	}, storetest.Options{AtomicBatches: true})
}
