package cache

import (
	"context"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Cache is a byte-value TTL cache. Implementations are purely a performance
// optimization: a miss (or a failed backend) must never change computed
// results, so Get reports absence instead of returning errors.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, val []byte, ttl time.Duration)
}

type entry struct {
	b       []byte
	exp     time.Time
	savedAt time.Time
}

type memory struct {
	mu      sync.Mutex
	m       map[string]entry
	maxSize int
}

// NewMemory returns an in-process cache bounded to maxSize entries.
// When the bound is exceeded the oldest entries are evicted first.
func NewMemory(maxSize int) Cache {
	if maxSize <= 0 {
		maxSize = 256
	}
	return &memory{m: make(map[string]entry), maxSize: maxSize}
}

func (c *memory) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok || (!e.exp.IsZero() && time.Now().After(e.exp)) {
		delete(c.m, key)
		return nil, false
	}
	return e.b, true
}

func (c *memory) Set(key string, val []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := entry{b: append([]byte(nil), val...), savedAt: time.Now()}
	if ttl > 0 {
		e.exp = time.Now().Add(ttl)
	}
	c.m[key] = e
	if len(c.m) > c.maxSize {
		c.evictOldestLocked()
	}
}

// evictOldestLocked prunes expired entries, then drops the oldest survivors
// until the cache is back under its bound
func (c *memory) evictOldestLocked() {
	now := time.Now()
	for k, e := range c.m {
		if !e.exp.IsZero() && now.After(e.exp) {
			delete(c.m, k)
		}
	}
	for len(c.m) > c.maxSize {
		oldestKey := ""
		var oldestAt time.Time
		for k, e := range c.m {
			if oldestKey == "" || e.savedAt.Before(oldestAt) {
				oldestKey = k
				oldestAt = e.savedAt
			}
		}
		delete(c.m, oldestKey)
	}
}

// redisCache shares consensus results across processes when configured
type redisCache struct{ r *redis.Client }

// NewRedis returns a Redis-backed cache. Backend errors degrade to misses.
func NewRedis(addr string, db int) Cache {
	return &redisCache{r: redis.NewClient(&redis.Options{Addr: addr, DB: db})}
}

func (r *redisCache) Get(key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	v, err := r.r.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return v, true
}

func (r *redisCache) Set(key string, val []byte, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_ = r.r.Set(ctx, key, val, ttl).Err()
}
