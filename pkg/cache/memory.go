package cache

import (
	"context"
	"sync"
	"time"

	"github.com/schwarzT404/scrapping/pkg/scrape"
)

// Memory is the default in-memory response cache. It lives for the
// lifetime of one run.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]*Entry),
	}
}

// Get returns the cached entry, evicting it lazily when stale.
func (m *Memory) Get(ctx context.Context, req scrape.PageRequest) (*Entry, error) {
	key := Key(req)

	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	if entry.IsExpired() {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues("memory").Inc()
	return entry, nil
}

// Put stores a fetched document with the given TTL.
func (m *Memory) Put(ctx context.Context, req scrape.PageRequest, entry *Entry, ttl time.Duration) error {
	if entry == nil {
		return ErrInvalidEntry
	}
	if ttl <= 0 {
		// Nothing to cache, the entry would be born stale.
		return nil
	}

	stored := *entry
	stored.ExpiresAt = stored.FetchedAt.Add(ttl)

	m.mu.Lock()
	m.entries[Key(req)] = &stored
	m.mu.Unlock()

	CacheBytesWritten.WithLabelValues("memory").Add(float64(len(stored.Body)))
	return nil
}

// Delete removes the entry for the request.
func (m *Memory) Delete(ctx context.Context, req scrape.PageRequest) error {
	m.mu.Lock()
	delete(m.entries, Key(req))
	m.mu.Unlock()
	return nil
}

// Len returns the number of live entries, counting stale ones not yet
// evicted.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
