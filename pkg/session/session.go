// Package session supplies request credentials to the fetcher. A provider
// is invoked once per page request before the network call; it may fail
// with scrape.ErrAuthExpired, in which case the fetcher re-authenticates
// once via Refresh before retrying.
package session

import (
	"context"
	"net/http"
)

// Provider prepares outgoing requests for a source that needs headers or
// cookies.
type Provider interface {
	// Apply sets headers/cookies on the outgoing request.
	Apply(ctx context.Context, req *http.Request) error

	// Refresh re-authenticates after the current session expired.
	Refresh(ctx context.Context) error
}

// Anonymous is the provider for public sources. It never fails.
type Anonymous struct{}

func (Anonymous) Apply(ctx context.Context, req *http.Request) error { return nil }
func (Anonymous) Refresh(ctx context.Context) error                  { return nil }

// Static applies a fixed header set (API keys, bearer tokens).
type Static struct {
	Headers map[string]string
}

func (s Static) Apply(ctx context.Context, req *http.Request) error {
	for key, value := range s.Headers {
		req.Header.Set(key, value)
	}
	return nil
}

func (s Static) Refresh(ctx context.Context) error { return nil }
