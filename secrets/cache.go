package secrets

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type cacheEntry struct {
	value   map[string]any
	expires time.Time
}

// InProcessCache is the default VaultCache: a process-wide map guarded by a
// mutex, with lazy expiry checked on read.
type InProcessCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewInProcessCache builds an empty in-process cache.
func NewInProcessCache() *InProcessCache {
	return &InProcessCache{entries: make(map[string]cacheEntry)}
}

func (c *InProcessCache) Get(key string) (map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

func (c *InProcessCache) Set(key string, value map[string]any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, expires: time.Now().Add(ttl)}
}

// RedisVaultCache backs the same VaultCache contract with a Redis client,
// following the construction pattern (redis.ParseURL + Ping) used by the
// queue client this service's secrets cache borrows from.
type RedisVaultCache struct {
	client *redis.Client
	prefix string
}

// NewRedisVaultCache connects to redisURL and verifies the connection with a
// Ping before returning.
func NewRedisVaultCache(ctx context.Context, redisURL, keyPrefix string) (*RedisVaultCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	if keyPrefix == "" {
		keyPrefix = "vault-cache:"
	}
	return &RedisVaultCache{client: client, prefix: keyPrefix}, nil
}

func (c *RedisVaultCache) Get(key string) (map[string]any, bool) {
	ctx := context.Background()
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	var value map[string]any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, false
	}
	return value, true
}

func (c *RedisVaultCache) Set(key string, value map[string]any, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = c.client.Set(context.Background(), c.prefix+key, raw, ttl).Err()
}

// Close releases the underlying Redis connection.
func (c *RedisVaultCache) Close() error {
	return c.client.Close()
}
