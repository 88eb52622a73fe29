package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gas_oracle/internal/logging"
	"gas_oracle/internal/storage"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const readingCacheKey = "oracle:reading"

// ReadingCache stores the last reading for a short time.
type ReadingCache interface {
	Get(ctx context.Context) (*Reading, bool)
	Set(ctx context.Context, r *Reading, ttl time.Duration)
}

// MemoryCache keeps the reading in the process.
type MemoryCache struct {
	lru *storage.LRUCache[Reading]
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{lru: storage.NewLRUCache[Reading](1, time.Second)}
}

func (c *MemoryCache) Get(_ context.Context) (*Reading, bool) {
	r, ok := c.lru.Get(readingCacheKey)
	if !ok {
		return nil, false
	}
	return &r, true
}

func (c *MemoryCache) Set(_ context.Context, r *Reading, ttl time.Duration) {
	c.lru.SetWithTTL(readingCacheKey, *r, ttl)
}

// RedisCache shares the reading between server replicas.
type RedisCache struct {
	client *redis.Client
	logger *logging.Logger
}

func NewRedisCache(client *redis.Client, logger *logging.Logger) *RedisCache {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &RedisCache{client: client, logger: logger}
}

func (c *RedisCache) Get(ctx context.Context) (*Reading, bool) {
	data, err := c.client.Get(ctx, readingCacheKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("reading cache get failed", "error", err)
		}
		return nil, false
	}
	var r Reading
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, false
	}
	return &r, true
}

func (c *RedisCache) Set(ctx context.Context, r *Reading, ttl time.Duration) {
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, readingCacheKey, data, ttl).Err(); err != nil {
		c.logger.Warn("reading cache set failed", "error", err)
	}
}

// CachedSource serves cached readings and collapses concurrent misses into one fetch.
type CachedSource struct {
	src   Source
	cache ReadingCache
	ttl   time.Duration
	group singleflight.Group
}

// NewCachedSource wraps src. A ttl <= 0 disables caching.
func NewCachedSource(src Source, cache ReadingCache, ttl time.Duration) *CachedSource {
	return &CachedSource{src: src, cache: cache, ttl: ttl}
}

func (s *CachedSource) Fetch(ctx context.Context) (*Reading, error) {
	if s.ttl <= 0 {
		return s.src.Fetch(ctx)
	}
	if r, ok := s.cache.Get(ctx); ok {
		return r, nil
	}

	v, err, _ := s.group.Do(readingCacheKey, func() (interface{}, error) {
		r, err := s.src.Fetch(ctx)
		if err != nil {
			return nil, err
		}
		s.cache.Set(ctx, r, s.ttl)
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	r, ok := v.(*Reading)
	if !ok {
		return nil, fmt.Errorf("unexpected cached value %T", v)
	}
	cp := *r
	return &cp, nil
}
