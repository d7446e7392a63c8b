package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/schwarzT404/scrapping/pkg/scrape"
)

// Redis is a response cache backed by a Redis server. Cached pages survive
// process restarts, so a resumed run can skip re-fetching pages that are
// still fresh.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a Redis-backed store.
func NewRedis(client *redis.Client) *Redis {
	if client == nil {
		panic("redis client cannot be nil")
	}
	return &Redis{client: client}
}

// Get retrieves a cache entry, evicting it lazily when stale.
func (r *Redis) Get(ctx context.Context, req scrape.PageRequest) (*Entry, error) {
	key := Key(req)

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	// Redis expires keys on its own, but the stored horizon is
	// authoritative when clocks disagree.
	if entry.IsExpired() {
		_ = r.Delete(ctx, req)
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues("redis").Inc()
	return &entry, nil
}

// Put stores a fetched document with the given TTL.
func (r *Redis) Put(ctx context.Context, req scrape.PageRequest, entry *Entry, ttl time.Duration) error {
	if entry == nil {
		return ErrInvalidEntry
	}
	if ttl <= 0 {
		return nil
	}

	stored := *entry
	stored.ExpiresAt = stored.FetchedAt.Add(ttl)

	remaining := stored.TTL()
	if remaining <= 0 {
		return nil
	}

	data, err := json.Marshal(&stored)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := r.client.Set(ctx, Key(req), data, remaining).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	CacheBytesWritten.WithLabelValues("redis").Add(float64(len(data)))
	return nil
}

// Delete removes a cache entry.
func (r *Redis) Delete(ctx context.Context, req scrape.PageRequest) error {
	if err := r.client.Del(ctx, Key(req)).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
