// Package mongo builds the MongoDB client for the mongo storage backend.
package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"warden/internal/platform/config"
)

// Client pairs a connected client with the configured database.
type Client struct {
	*mongo.Client
	Database *mongo.Database
}

// New connects and pings the primary.
func New(ctx context.Context, cfg config.MongoConfig) (*Client, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("mongo URI is required")
	}
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("mongo ping failed: %w", err)
	}
	db := cfg.Database
	if db == "" {
		db = "warden"
	}
	return &Client{Client: client, Database: client.Database(db)}, nil
}

// Health checks the primary is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx, readpref.Primary())
}

func (c *Client) Close(ctx context.Context) error {
	return c.Disconnect(ctx)
}
