package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cachePrefix = "auction_scraper:geocode:"
	missValue   = "none"
)

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*Point, bool, error) {
	val, err := c.client.Get(ctx, cachePrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if val == missValue {
		return nil, true, nil
	}

	var p Point
	if err := json.Unmarshal([]byte(val), &p); err != nil {
		return nil, false, nil
	}
	return &p, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, p *Point) error {
	val := missValue
	if p != nil {
		b, err := json.Marshal(p)
		if err != nil {
			return err
		}
		val = string(b)
	}
	return c.client.Set(ctx, cachePrefix+key, val, c.ttl).Err()
}

// MemoryCache is a process-local Cache for runs without Redis.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*Point
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*Point)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (*Point, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.entries[key]
	return p, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, p *Point) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = p
	return nil
}
