package storage

import (
	"context"
	"database/sql"
	"io"
	"time"
)

// KV is the cache store contract used for refresh-token state and the ACL cache.
// Get reports a miss with found == false and a nil error.
type KV interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// ObjectWriter stores immutable blobs such as audit archives
type ObjectWriter interface {
	PutObject(ctx context.Context, key string, content io.Reader, contentType string) error
	ObjectExists(ctx context.Context, key string) (bool, error)
}

// Config for the relational, cache and object stores
type Config struct {
	// Driver is "postgres" or "sqlite3"
	Driver string

	// PostgreSQL config
	PostgresURL         string
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration
	PostgresMaxLifetime time.Duration
	PostgresMaxIdleTime time.Duration

	// SQLite config (single node and development)
	SQLitePath string

	// Redis config. An empty URL selects the in-process KV.
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// L1CacheSize is the entry limit of the in-process KV
	L1CacheSize int

	// S3 config for audit archives. An empty bucket with an empty
	// ArchiveDir disables archiving.
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool

	// ArchiveDir selects the filesystem archive sink when no bucket is set
	ArchiveDir string
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Driver:              "postgres",
		PostgresMaxConns:    20,
		PostgresMinConns:    2,
		PostgresTimeout:     10 * time.Second,
		PostgresMaxLifetime: 30 * time.Minute,
		PostgresMaxIdleTime: 5 * time.Minute,
		SQLitePath:          "file:warden.db?cache=shared&_foreign_keys=on",
		RedisDB:             0,
		RedisMaxRetries:     3,
		RedisPoolSize:       10,
		L1CacheSize:         10000,
		S3Region:            "us-east-1",
	}
}
