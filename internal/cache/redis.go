package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// scanBatch is the COUNT hint passed to SCAN.
const scanBatch = 200

// RedisConfig holds configuration for the Redis cache.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	OpTimeout time.Duration
}

// RedisCache implements Store on top of a Redis server.
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
	opTimeout time.Duration
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(cfg RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     20,
		MinIdleConns: 5,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis at %s: %w", cfg.Addr, err)
	}

	return NewRedisCacheFromClient(client, cfg.KeyPrefix, cfg.OpTimeout), nil
}

// NewRedisCacheFromClient wraps an existing client. The cache owns the client
// and closes it on Close.
func NewRedisCacheFromClient(client *redis.Client, keyPrefix string, opTimeout time.Duration) *RedisCache {
	if opTimeout <= 0 {
		opTimeout = 2 * time.Second
	}
	return &RedisCache{
		client:    client,
		keyPrefix: keyPrefix,
		opTimeout: opTimeout,
	}
}

func (c *RedisCache) fullKey(key string) string {
	return c.keyPrefix + key
}

func (c *RedisCache) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.opTimeout)
}

// Get retrieves a value by key.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	data, err := c.client.Get(ctx, c.fullKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	return data, nil
}

// Set stores a value; a ttl of NoExpiration persists the key.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if ttl < 0 {
		ttl = NoExpiration
	}
	if err := c.client.Set(ctx, c.fullKey(key), value, ttl).Err(); err != nil {
		return unavailable("set", err)
	}
	return nil
}

// Delete removes a key.
func (c *RedisCache) Delete(ctx context.Context, key string) (bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	n, err := c.client.Del(ctx, c.fullKey(key)).Result()
	if err != nil {
		return false, unavailable("delete", err)
	}
	return n > 0, nil
}

// Exists checks if a key exists.
func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	n, err := c.client.Exists(ctx, c.fullKey(key)).Result()
	if err != nil {
		return false, unavailable("exists", err)
	}
	return n > 0, nil
}

// Keys walks the keyspace with SCAN rather than KEYS so large databases are
// not blocked.
func (c *RedisCache) Keys(ctx context.Context, pattern string) ([]string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := c.client.Scan(ctx, cursor, c.fullKey(pattern), scanBatch).Result()
		if err != nil {
			return nil, unavailable("scan", err)
		}
		for _, k := range batch {
			keys = append(keys, strings.TrimPrefix(k, c.keyPrefix))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return dedupe(keys), nil
}

// Expire sets a new ttl; NoExpiration removes the existing one.
func (c *RedisCache) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var (
		ok  bool
		err error
	)
	if ttl <= NoExpiration {
		ok, err = c.client.Persist(ctx, c.fullKey(key)).Result()
		if err == nil && !ok {
			// PERSIST reports false for keys without a ttl; they still exist.
			var n int64
			n, err = c.client.Exists(ctx, c.fullKey(key)).Result()
			ok = n > 0
		}
	} else {
		ok, err = c.client.Expire(ctx, c.fullKey(key), ttl).Result()
	}
	if err != nil {
		return false, unavailable("expire", err)
	}
	return ok, nil
}

// Ping checks the connection.
func (c *RedisCache) Ping(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close closes the Redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// dedupe removes duplicates SCAN may return across iterations.
func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := keys[:0]
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
