package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/warden/pkg/errs"
	"github.com/platinummonkey/warden/pkg/storage"
)

// RedisKV implements storage.KV on Redis. It holds refresh-token state and the shared ACL cache.
type RedisKV struct {
	client *redis.Client
}

// NewRedisKV creates a new Redis client
func NewRedisKV(ctx context.Context, config storage.Config) (*RedisKV, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if config.RedisPassword != "" {
		opts.Password = config.RedisPassword
	}
	if config.RedisDB >= 0 {
		opts.DB = config.RedisDB
	}
	if config.RedisMaxRetries > 0 {
		opts.MaxRetries = config.RedisMaxRetries
	}
	if config.RedisPoolSize > 0 {
		opts.PoolSize = config.RedisPoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisKV{client: client}, nil
}

// NewRedisKVFromClient wraps an existing client.
func NewRedisKVFromClient(client *redis.Client) *RedisKV {
	return &RedisKV{client: client}
}

// Get returns the value for key. A missing key is not an error.
func (c *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errs.Transient("redis.Get", err)
	}
	return val, true, nil
}

// Set stores value under key with ttl. A zero ttl keeps the key until deleted.
func (c *RedisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return errs.Transient("redis.Set", err)
	}
	return nil
}

// Del removes keys. Missing keys are ignored.
func (c *RedisKV) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return errs.Transient("redis.Del", err)
	}
	return nil
}

// DelPattern removes keys matching pattern using SCAN.
func (c *RedisKV) DelPattern(ctx context.Context, pattern string) (int, error) {
	removed := 0
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return removed, errs.Transient("redis.DelPattern", fmt.Errorf("failed to delete key %s: %w", iter.Val(), err))
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, errs.Transient("redis.DelPattern", fmt.Errorf("scan failed for pattern %s: %w", pattern, err))
	}
	return removed, nil
}

// TTL returns the remaining time to live of a key
func (c *RedisKV) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := c.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, errs.Transient("redis.TTL", err)
	}
	return ttl, nil
}

// PingContext checks Redis connectivity
func (c *RedisKV) PingContext(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Client returns the underlying Redis client for health checks
func (c *RedisKV) Client() *redis.Client {
	return c.client
}

// PoolStats returns connection pool statistics
func (c *RedisKV) PoolStats() *redis.PoolStats {
	return c.client.PoolStats()
}

// Close closes the Redis connection
func (c *RedisKV) Close() error {
	return c.client.Close()
}
