// Package scrape defines the shared data model of the fetch-and-aggregate
// engine: source configuration, page requests, fetch results, and extracted
// records. All other packages build on these types.
package scrape

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SourceConfig describes one listing source. It is created at job setup and
// never mutated afterwards.
type SourceConfig struct {
	// ID uniquely identifies the source (e.g. "books").
	ID string

	// URLTemplate is the page URL pattern. The literal "{page}" is replaced
	// with the 1-based page index.
	// Example: "https://books.toscrape.com/catalogue/page-{page}.html"
	URLTemplate string

	// FirstPageURL optionally overrides the URL of page 1. Some listing
	// sites serve the first page at a different path (e.g. "index.html").
	FirstPageURL string

	// MaxPages limits how many pages are fetched. 0 means unbounded.
	MaxPages int

	// MaxItems caps the total number of extracted records. 0 means no cap.
	MaxItems int

	// MinDelay and MaxDelay bound the randomized spacing between requests.
	MinDelay time.Duration
	MaxDelay time.Duration

	// MaxAttempts is the maximum number of fetch attempts per page,
	// including the initial request.
	MaxAttempts int

	// BaseBackoff and MaxBackoff bound the exponential retry backoff.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// CacheTTL is how long a fetched page body stays fresh in the
	// response cache.
	CacheTTL time.Duration

	// MaxConsecutiveFailures is the number of back-to-back page failures
	// tolerated before the source is abandoned as unrecoverable.
	MaxConsecutiveFailures int
}

// DefaultSourceConfig returns a source configuration with safe defaults
// for polite scraping.
func DefaultSourceConfig(id, urlTemplate string) SourceConfig {
	return SourceConfig{
		ID:                     id,
		URLTemplate:            urlTemplate,
		MaxPages:               10,
		MinDelay:               500 * time.Millisecond,
		MaxDelay:               1 * time.Second,
		MaxAttempts:            5,
		BaseBackoff:            1 * time.Second,
		MaxBackoff:             30 * time.Second,
		CacheTTL:               5 * time.Minute,
		MaxConsecutiveFailures: 3,
	}
}

// Validate checks the configuration for values the engine cannot work with.
func (c SourceConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("source id is required")
	}
	if c.URLTemplate == "" {
		return fmt.Errorf("source %q: url template is required", c.ID)
	}
	if c.MaxPages < 0 {
		return fmt.Errorf("source %q: max_pages must be >= 0 (got %d)", c.ID, c.MaxPages)
	}
	if c.MinDelay < 0 || c.MaxDelay < c.MinDelay {
		return fmt.Errorf("source %q: delay range [%v, %v] is invalid", c.ID, c.MinDelay, c.MaxDelay)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("source %q: max_attempts must be >= 1 (got %d)", c.ID, c.MaxAttempts)
	}
	if c.MaxConsecutiveFailures < 1 {
		return fmt.Errorf("source %q: max_consecutive_failures must be >= 1 (got %d)", c.ID, c.MaxConsecutiveFailures)
	}
	return nil
}

// PageURL resolves the URL for the given 1-based page index.
func (c SourceConfig) PageURL(page int) string {
	if page == 1 && c.FirstPageURL != "" {
		return c.FirstPageURL
	}
	return strings.ReplaceAll(c.URLTemplate, "{page}", strconv.Itoa(page))
}

// PageRequest identifies one unit of fetch work: one source, one page.
// Equality by (SourceID, Page) is the cache and checkpoint key.
type PageRequest struct {
	SourceID string
	Page     int
	URL      string
}

// NewPageRequest builds the request for a source's page.
func NewPageRequest(cfg SourceConfig, page int) PageRequest {
	return PageRequest{
		SourceID: cfg.ID,
		Page:     page,
		URL:      cfg.PageURL(page),
	}
}

// Key returns the deterministic identity of this request, independent of
// the resolved URL.
func (r PageRequest) Key() string {
	return fmt.Sprintf("%s:%d", r.SourceID, r.Page)
}

// FetchResult is the outcome of one logical page fetch: either a document
// body with status metadata, or a terminal failure with its error kind and
// the number of attempts spent.
type FetchResult struct {
	Request    PageRequest
	Body       []byte
	StatusCode int
	FetchedAt  time.Time
	FromCache  bool
	Latency    time.Duration

	// Attempts is the total number of network attempts made (0 for a
	// cache hit).
	Attempts int

	// Kind is ErrorKindNone on success, otherwise the classification of
	// the last failure.
	Kind ErrorKind

	// Err is nil on success.
	Err error
}

// OK reports whether the fetch produced a usable document.
func (r FetchResult) OK() bool {
	return r.Err == nil
}

// RawRecord is one extracted entity with its provenance. Records are
// created by an extractor and owned by aggregation until handed to an
// output writer.
type RawRecord struct {
	// Fields is the extracted field mapping.
	Fields map[string]any

	// SourceID and Page record where the entity came from.
	SourceID string
	Page     int
}
