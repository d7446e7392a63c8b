// Package cache maps page requests to previously fetched document bodies
// with a staleness policy. The default store is in-memory and lives for one
// run; a Redis-backed store is available when cached pages should survive
// process restarts.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/schwarzT404/scrapping/pkg/scrape"
)

var (
	// ErrCacheMiss indicates the requested page was not found in cache or
	// its entry is stale.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Entry is a cached page document.
type Entry struct {
	// Body is the document body.
	Body []byte `json:"body"`

	// StatusCode is the HTTP status of the original response.
	StatusCode int `json:"status_code"`

	// FetchedAt is when the document was fetched from the network.
	FetchedAt time.Time `json:"fetched_at"`

	// ExpiresAt is when the entry becomes stale.
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired returns true if the entry is stale.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.ExpiresAt)
}

// TTL returns the time until the entry becomes stale. Returns 0 if it
// already is.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.ExpiresAt)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Store is the response cache contract. Entries are keyed per source+page
// and never shared across sources.
type Store interface {
	// Get returns the cached entry for the request, or ErrCacheMiss when
	// absent or stale. Stale entries are evicted lazily on lookup.
	Get(ctx context.Context, req scrape.PageRequest) (*Entry, error)

	// Put stores a fetched document. The entry stays fresh for ttl from
	// its FetchedAt timestamp.
	Put(ctx context.Context, req scrape.PageRequest, entry *Entry, ttl time.Duration) error

	// Delete removes the entry for the request, if any.
	Delete(ctx context.Context, req scrape.PageRequest) error
}

// Key generates the deterministic cache key for a page request.
// Format: scrape:<source>:page:<index>
func Key(req scrape.PageRequest) string {
	return fmt.Sprintf("scrape:%s:page:%d", req.SourceID, req.Page)
}
