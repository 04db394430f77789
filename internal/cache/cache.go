// Package cache keeps computed game rankings in Redis.
//
// Entries live under a namespace version. Invalidate bumps the version with
// INCR, which orphans every cached ranking at once; orphans expire with their
// TTL. Get resolves the version once and hands back the key, and a fill after
// a miss must go to that key: a ranking computed before an Invalidate then
// lands among the orphans instead of under the new version.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/orop-community/orop-server/internal/config"
)

const versionKey = "orop:rankings:version"

// Rankings caches ranking responses by name.
type Rankings interface {
	// Get decodes the entry stored under name into dest. found is false on a
	// miss. key is the versioned key to fill on a miss, empty when the
	// version could not be read.
	Get(ctx context.Context, name string, dest any) (key string, found bool, err error)
	// Set stores value under a key returned by Get. An empty key is a no-op.
	Set(ctx context.Context, key string, value any) error
	// Invalidate drops every entry.
	Invalidate(ctx context.Context) error
}

// RedisCache implements Rankings on a go-redis client.
type RedisCache struct {
	Client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates the client from config. Only Addr is mandatory.
func NewRedisCache(cfg config.RedisConfig) *RedisCache {
	opts := &redis.Options{Addr: cfg.Addr}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	return &RedisCache{Client: redis.NewClient(opts), ttl: cfg.TTL()}
}

// Ping checks the Redis server answers.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

// Close releases the client connections.
func (c *RedisCache) Close() error {
	return c.Client.Close()
}

// Get reads name under the current version.
func (c *RedisCache) Get(ctx context.Context, name string, dest any) (string, bool, error) {
	key, err := c.key(ctx, name)
	if err != nil {
		return "", false, err
	}
	val, err := c.Client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return key, false, nil
	}
	if err != nil {
		return key, false, fmt.Errorf("cache: reading %s: %w", key, err)
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return key, false, fmt.Errorf("cache: decoding %s: %w", key, err)
	}
	return key, true, nil
}

// Set writes value under key with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value any) error {
	if key == "" {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encoding %s: %w", key, err)
	}
	if err := c.Client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache: writing %s: %w", key, err)
	}
	return nil
}

// Invalidate bumps the namespace version.
func (c *RedisCache) Invalidate(ctx context.Context) error {
	if err := c.Client.Incr(ctx, versionKey).Err(); err != nil {
		return fmt.Errorf("cache: bumping version: %w", err)
	}
	return nil
}

// key returns the key of name under the current version.
func (c *RedisCache) key(ctx context.Context, name string) (string, error) {
	version := int64(0)
	val, err := c.Client.Get(ctx, versionKey).Result()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return "", fmt.Errorf("cache: reading version: %w", err)
	default:
		if version, err = strconv.ParseInt(val, 10, 64); err != nil {
			return "", fmt.Errorf("cache: parsing version %q: %w", val, err)
		}
	}
	return fmt.Sprintf("orop:rankings:v%d:%s", version, name), nil
}

// Noop is the Rankings used when Redis is not configured: every Get misses.
type Noop struct{}

func (Noop) Get(context.Context, string, any) (string, bool, error) { return "", false, nil }
func (Noop) Set(context.Context, string, any) error                 { return nil }
func (Noop) Invalidate(context.Context) error                       { return nil }
