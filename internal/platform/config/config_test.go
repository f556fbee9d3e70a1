package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, 10000, cfg.Cache.Capacity)
	assert.Equal(t, 10*time.Second, cfg.Retry.Interval)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, 128, cfg.Kafka.Batch)
	assert.Equal(t, time.Second, cfg.Kafka.Interval)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("WARDEN_STORAGE_BACKEND", "postgres")
	t.Setenv("WARDEN_POSTGRES_URL", "postgres://warden@localhost/warden")
	t.Setenv("WARDEN_KAFKA_BROKERS", "a:9092, b:9092,a:9092")
	t.Setenv("WARDEN_CACHE_CAPACITY", "42")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "pgx", cfg.Storage.Postgres.Driver)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 42, cfg.Cache.Capacity)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Storage.Backend = "cassandra" }},
		{"postgres without url", func(c *Config) { c.Storage.Backend = BackendPostgres }},
		{"mongo without uri", func(c *Config) { c.Storage.Backend = BackendMongo }},
		{"redis without url", func(c *Config) { c.Storage.Backend = BackendRedis }},
		{"zero cache", func(c *Config) { c.Cache.Capacity = 0 }},
		{"zero workers", func(c *Config) { c.Pool.Workers = 0 }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
