package tz

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// RedisCache keeps IP detections in Redis so replicas share lookups.
type RedisCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCache{rdb: rdb, ttl: ttl, prefix: "tz:ip:"}
}

func (c *RedisCache) Get(ctx context.Context, ip string) (Detection, bool, error) {
	raw, err := c.rdb.Get(ctx, c.prefix+ip).Bytes()
	if errors.Is(err, redis.Nil) {
		return Detection{}, false, nil
	}
	if err != nil {
		return Detection{}, false, err
	}
	var d Detection
	if err := json.Unmarshal(raw, &d); err != nil {
		return Detection{}, false, err
	}
	return d, true, nil
}

func (c *RedisCache) Set(ctx context.Context, ip string, d Detection) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.prefix+ip, raw, c.ttl).Err()
}

// maxMemoryEntries bounds MemoryCache; expired entries are swept first, then arbitrary ones.
const maxMemoryEntries = 10000

type memoryEntry struct {
	det     Detection
	expires time.Time
}

// MemoryCache keeps IP detections in process for a single replica.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryCache{ttl: ttl, now: time.Now, entries: map[string]memoryEntry{}}
}

func (c *MemoryCache) Get(_ context.Context, ip string) (Detection, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[ip]
	if !ok {
		return Detection{}, false, nil
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, ip)
		return Detection{}, false, nil
	}
	return e.det, true, nil
}

func (c *MemoryCache) Set(_ context.Context, ip string, d Detection) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if _, ok := c.entries[ip]; !ok && len(c.entries) >= maxMemoryEntries {
		for k, e := range c.entries {
			if !now.Before(e.expires) {
				delete(c.entries, k)
			}
		}
		for k := range c.entries {
			if len(c.entries) < maxMemoryEntries {
				break
			}
			delete(c.entries, k)
		}
	}
	c.entries[ip] = memoryEntry{det: d, expires: now.Add(c.ttl)}
	return nil
}
