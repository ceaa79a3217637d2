package bom

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemoryCycleCache is a process-local CycleCache. Safe for concurrent use.
type MemoryCycleCache struct {
	mu      sync.RWMutex
	entries map[string]CycleCheckResult
}

// NewMemoryCycleCache returns an empty in-process cache.
func NewMemoryCycleCache() *MemoryCycleCache {
	return &MemoryCycleCache{entries: make(map[string]CycleCheckResult)}
}

func (c *MemoryCycleCache) Get(_ context.Context, key string) (CycleCheckResult, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res, ok := c.entries[key]
	return res, ok, nil
}

func (c *MemoryCycleCache) Set(_ context.Context, key string, result CycleCheckResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = result
	return nil
}

func (c *MemoryCycleCache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]CycleCheckResult)
	return nil
}

// RedisCycleCache shares cycle-check results across instances. Entries carry
// a TTL as a safety net, but the contract is still an explicit Clear after
// structural mutations.
type RedisCycleCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCycleCache builds a Redis-backed cache under the given key prefix.
func NewRedisCycleCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCycleCache {
	if prefix == "" {
		prefix = "bom:cycle:"
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisCycleCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCycleCache) Get(ctx context.Context, key string) (CycleCheckResult, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return CycleCheckResult{}, false, nil
		}
		return CycleCheckResult{}, false, fmt.Errorf("cycle cache get: %w", err)
	}
	var res CycleCheckResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return CycleCheckResult{}, false, fmt.Errorf("cycle cache decode: %w", err)
	}
	return res, true, nil
}

func (c *RedisCycleCache) Set(ctx context.Context, key string, result CycleCheckResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("cycle cache encode: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cycle cache set: %w", err)
	}
	return nil
}

func (c *RedisCycleCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cycle cache scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cycle cache clear: %w", err)
	}
	return nil
}
