package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hrygo/construkt/plugin/chatbot/cache"
)

const cachePrefix = "session:"

// CachedRepository reads through an LRU in front of a slower repository.
// Writes go to the backend first and then refresh the cache.
type CachedRepository struct {
	backend Repository
	lru     *cache.LRU
	ttl     time.Duration
}

// NewCachedRepository wraps backend. Entries live at most ttl in the cache.
func NewCachedRepository(backend Repository, lru *cache.LRU, ttl time.Duration) *CachedRepository {
	return &CachedRepository{backend: backend, lru: lru, ttl: ttl}
}

func (c *CachedRepository) Load(ctx context.Context, key string) (*Record, error) {
	if raw, ok := c.lru.Get(cachePrefix + key); ok {
		var rec Record
		if err := json.Unmarshal(raw, &rec); err == nil {
			return &rec, nil
		}
		c.lru.Invalidate(cachePrefix + key)
	}

	rec, err := c.backend.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	c.fill(key, rec)
	return rec, nil
}

func (c *CachedRepository) Save(ctx context.Context, key string, record *Record) error {
	if err := c.backend.Save(ctx, key, record); err != nil {
		c.lru.Invalidate(cachePrefix + key)
		return err
	}
	c.fill(key, record)
	return nil
}

func (c *CachedRepository) Delete(ctx context.Context, key string) error {
	c.lru.Invalidate(cachePrefix + key)
	return c.backend.Delete(ctx, key)
}

func (c *CachedRepository) List(ctx context.Context) ([]string, error) {
	return c.backend.List(ctx)
}

// DeleteIdleBefore forwards to the backend when it supports bulk purges.
// The cache is dropped wholesale since the purged keys are unknown.
func (c *CachedRepository) DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int, error) {
	bulk, ok := c.backend.(IdleDeleter)
	if !ok {
		return 0, ErrBulkUnsupported
	}
	n, err := bulk.DeleteIdleBefore(ctx, cutoff)
	if n > 0 {
		c.lru.Invalidate(cachePrefix + "*")
	}
	return n, err
}

func (c *CachedRepository) fill(key string, rec *Record) {
	raw, err := json.Marshal(rec)
	if err != nil {
		slog.Warn("failed to cache session", "owner_id", key, "error", err)
		return
	}
	c.lru.Set(cachePrefix+key, raw, c.ttl)
}

var _ Repository = (*CachedRepository)(nil)
