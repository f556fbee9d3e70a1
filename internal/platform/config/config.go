package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	pstrings "warden/pkg/platform/strings"
)

// Backend names accepted by WARDEN_STORAGE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendRedis    = "redis"
)

// Config is the process configuration, read from the environment.
type Config struct {
	Addr    string `env:"WARDEN_ADDR" envDefault:":8080"`
	Log     Log
	Storage Storage
	Cache   Cache
	Pool    Pool
	Retry   Retry
	Kafka   Kafka
}

type Log struct {
	Level  string `env:"WARDEN_LOG_LEVEL" envDefault:"info"`
	Format string `env:"WARDEN_LOG_FORMAT" envDefault:"json"`
}

// Storage selects the document backend and holds the settings for each one.
type Storage struct {
	Backend  string `env:"WARDEN_STORAGE_BACKEND" envDefault:"memory"`
	Postgres PostgresConfig
	SQLite   SQLiteConfig
	Mongo    MongoConfig
	Redis    RedisConfig
}

type PostgresConfig struct {
	URL             string        `env:"WARDEN_POSTGRES_URL"`
	Driver          string        `env:"WARDEN_POSTGRES_DRIVER" envDefault:"pgx"`
	MaxOpenConns    int           `env:"WARDEN_POSTGRES_MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns    int           `env:"WARDEN_POSTGRES_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"WARDEN_POSTGRES_CONN_MAX_LIFETIME" envDefault:"30m"`
}

type SQLiteConfig struct {
	Path        string        `env:"WARDEN_SQLITE_PATH" envDefault:"data/warden.db"`
	BusyTimeout time.Duration `env:"WARDEN_SQLITE_BUSY_TIMEOUT" envDefault:"5s"`
}

type MongoConfig struct {
	URI      string `env:"WARDEN_MONGO_URI"`
	Database string `env:"WARDEN_MONGO_DATABASE" envDefault:"warden"`
}

// RedisConfig holds connection overrides applied on top of the parsed URL.
type RedisConfig struct {
	URL          string        `env:"WARDEN_REDIS_URL"`
	Prefix       string        `env:"WARDEN_REDIS_PREFIX" envDefault:"warden"`
	PoolSize     int           `env:"WARDEN_REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"WARDEN_REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"WARDEN_REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"WARDEN_REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"WARDEN_REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// Cache bounds the number of owners kept per punishment type.
type Cache struct {
	Capacity int `env:"WARDEN_CACHE_CAPACITY" envDefault:"10000"`
}

// Pool sizes the worker pool that runs durable writes.
type Pool struct {
	Workers int `env:"WARDEN_POOL_WORKERS" envDefault:"4"`
	Queue   int `env:"WARDEN_POOL_QUEUE" envDefault:"1024"`
}

// Retry configures the queue of failed durable writes.
type Retry struct {
	Capacity  int           `env:"WARDEN_RETRY_CAPACITY" envDefault:"512"`
	Interval  time.Duration `env:"WARDEN_RETRY_INTERVAL" envDefault:"10s"`
	Threshold int           `env:"WARDEN_RETRY_BREAKER_THRESHOLD" envDefault:"5"`
	Cooldown  time.Duration `env:"WARDEN_RETRY_BREAKER_COOLDOWN" envDefault:"30s"`
}

// Kafka is optional; storage events are published only when Brokers is set.
type Kafka struct {
	Brokers  []string      `env:"WARDEN_KAFKA_BROKERS" envSeparator:","`
	Topic    string        `env:"WARDEN_KAFKA_TOPIC" envDefault:"warden.storage-events"`
	Buffer   int           `env:"WARDEN_KAFKA_BUFFER" envDefault:"4096"`
	Batch    int           `env:"WARDEN_KAFKA_BATCH" envDefault:"128"`
	Interval time.Duration `env:"WARDEN_KAFKA_INTERVAL" envDefault:"1s"`
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Kafka.Brokers = pstrings.DedupeAndTrim(cfg.Kafka.Brokers)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the process cannot start with.
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory, BackendSQLite:
	case BackendPostgres:
		if c.Storage.Postgres.URL == "" {
			return fmt.Errorf("WARDEN_POSTGRES_URL is required for the postgres backend")
		}
		if d := c.Storage.Postgres.Driver; d != "pgx" && d != "postgres" {
			return fmt.Errorf("unsupported postgres driver %q", d)
		}
	case BackendMongo:
		if c.Storage.Mongo.URI == "" {
			return fmt.Errorf("WARDEN_MONGO_URI is required for the mongo backend")
		}
	case BackendRedis:
		if c.Storage.Redis.URL == "" {
			return fmt.Errorf("WARDEN_REDIS_URL is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("cache capacity must be positive")
	}
	if c.Pool.Workers <= 0 || c.Pool.Queue <= 0 {
		return fmt.Errorf("pool workers and queue must be positive")
	}
	if c.Retry.Capacity <= 0 {
		return fmt.Errorf("retry capacity must be positive")
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}
