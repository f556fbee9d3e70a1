package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"warden/internal/platform/config"
	"warden/internal/platform/httpserver"
	"warden/internal/platform/migrate"
	"warden/internal/platform/mongo"
	"warden/internal/platform/postgres"
	"warden/internal/platform/redis"
	"warden/internal/platform/sqlite"
	"warden/internal/storage/memory"
	"warden/internal/storage/mongostore"
	"warden/internal/storage/redisstore"
	"warden/internal/storage/repository"
	"warden/internal/storage/sqlstore"
)

// Collections every backend must provide.
const (
	collRestrictions = "restrictions"
	collNotices      = "notices"
	collRevisions    = "revisions"
)

// backend opens one DocumentStore per collection on the configured storage.
type backend struct {
	name  string
	open  func(collection string) (repository.DocumentStore, error)
	check httpserver.Check
	close func(ctx context.Context) error
}

func openBackend(ctx context.Context, cfg config.Storage, logger *slog.Logger) (*backend, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return &backend{
			name:  cfg.Backend,
			open:  func(string) (repository.DocumentStore, error) { return memory.New(), nil },
			check: func(context.Context) error { return nil },
			close: func(context.Context) error { return nil },
		}, nil

	case config.BackendSQLite:
		db, err := sqlite.Open(ctx, sqlite.Config{Path: cfg.SQLite.Path, BusyTimeout: cfg.SQLite.BusyTimeout})
		if err != nil {
			return nil, err
		}
		return openSQL(ctx, cfg.Backend, db, sqlstore.SQLite, logger)

	case config.BackendPostgres:
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		return openSQL(ctx, cfg.Backend, db, sqlstore.Postgres, logger)

	case config.BackendMongo:
		client, err := mongo.New(ctx, cfg.Mongo)
		if err != nil {
			return nil, err
		}
		return &backend{
			name: cfg.Backend,
			open: func(collection string) (repository.DocumentStore, error) {
				return mongostore.New(client.Database.Collection(collection)), nil
			},
			check: client.Health,
			close: client.Close,
		}, nil

	case config.BackendRedis:
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return &backend{
			name: cfg.Backend,
			open: func(collection string) (repository.DocumentStore, error) {
				return redisstore.New(client.Client, client.Prefix, collection), nil
			},
			check: client.Health,
			close: func(context.Context) error { return client.Close() },
		}, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

// openSQL applies pending migrations before handing out table stores.
func openSQL(ctx context.Context, name string, db *sql.DB, dialect sqlstore.Dialect, logger *slog.Logger) (*backend, error) {
	if err := migrate.Apply(ctx, db, string(dialect)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", dialect, err)
	}
	logger.InfoContext(ctx, "schema migrations applied", "dialect", string(dialect))
	return &backend{
		name: name,
		open: func(collection string) (repository.DocumentStore, error) {
			s, err := sqlstore.New(db, dialect, collection)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		check: db.PingContext,
		close: func(context.Context) error { return db.Close() },
	}, nil
}
