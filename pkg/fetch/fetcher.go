// Package fetch performs one logical "get a page" operation, composing the
// rate limiter, retry policy, response cache and session provider.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/schwarzT404/scrapping/pkg/cache"
	"github.com/schwarzT404/scrapping/pkg/ratelimit"
	"github.com/schwarzT404/scrapping/pkg/retry"
	"github.com/schwarzT404/scrapping/pkg/scrape"
	"github.com/schwarzT404/scrapping/pkg/session"
)

// Prometheus metrics for fetch operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scrape_requests_total",
		Help: "Total page requests by source and outcome",
	}, []string{"source", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scrape_request_duration_seconds",
		Help:    "Page request duration in seconds by source",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"source"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scrape_errors_total",
		Help: "Total fetch errors by kind",
	}, []string{"error_kind"})
)

// maxBodySize caps how much of a response body is read. Listing pages are
// small; anything larger is a misconfigured source.
const maxBodySize = 10 << 20

// Config holds the fetcher configuration for one source.
type Config struct {
	// Source is the immutable source configuration.
	Source scrape.SourceConfig

	// Cache is the response cache. Defaults to a fresh in-memory store.
	Cache cache.Store

	// Session supplies credentials. Defaults to session.Anonymous.
	Session session.Provider

	// HTTPClient performs the network calls. Defaults to a client with a
	// 30 second timeout.
	HTTPClient *http.Client

	// UserAgent identifies the scraper to remote servers.
	UserAgent string
}

// Fetcher fetches pages for one source.
type Fetcher struct {
	cfg       scrape.SourceConfig
	client    *http.Client
	limiter   *ratelimit.Limiter
	policy    retry.Policy
	cache     cache.Store
	session   session.Provider
	userAgent string
	logger    zerolog.Logger
}

// New creates a fetcher for one source.
func New(cfg Config) (*Fetcher, error) {
	if err := cfg.Source.Validate(); err != nil {
		return nil, fmt.Errorf("source config: %w", err)
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.NewMemory()
	}
	if cfg.Session == nil {
		cfg.Session = session.Anonymous{}
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "scrapping/1.0 (+https://github.com/schwarzT404/scrapping)"
	}

	return &Fetcher{
		cfg:       cfg.Source,
		client:    cfg.HTTPClient,
		limiter:   ratelimit.New(cfg.Source.ID, cfg.Source.MinDelay, cfg.Source.MaxDelay),
		policy:    retry.FromSource(cfg.Source),
		cache:     cfg.Cache,
		session:   cfg.Session,
		userAgent: cfg.UserAgent,
		logger:    log.With().Str("component", "fetch").Str("source", cfg.Source.ID).Logger(),
	}, nil
}

// Fetch performs one logical page fetch. Failures below the page level are
// absorbed by the retry policy; the returned result is terminal either way
// and carries the total attempt count.
func (f *Fetcher) Fetch(ctx context.Context, req scrape.PageRequest) scrape.FetchResult {
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(req.SourceID).Observe(time.Since(start).Seconds())
	}()

	// Step 1: check the cache. A hit imposes no load on the remote
	// server, so it skips the rate limiter entirely.
	if entry, err := f.cache.Get(ctx, req); err == nil {
		f.logger.Debug().Int("page", req.Page).Msg("Cache hit")
		requestsTotal.WithLabelValues(req.SourceID, "cache_hit").Inc()
		return scrape.FetchResult{
			Request:    req,
			Body:       entry.Body,
			StatusCode: entry.StatusCode,
			FetchedAt:  entry.FetchedAt,
			FromCache:  true,
		}
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		f.logger.Warn().Err(err).Int("page", req.Page).Msg("Cache get error")
	}

	// Step 2: network loop, driven by the retry policy.
	var (
		lastErr    error
		lastKind   scrape.ErrorKind
		reauthDone bool
	)

	for attempt := 1; ; attempt++ {
		if err := f.limiter.Acquire(ctx); err != nil {
			return f.terminal(req, attempt-1, scrape.ErrorKindTransient, err)
		}

		result, fetchErr := f.attempt(ctx, req)
		f.limiter.Done()

		if fetchErr == nil {
			result.Attempts = attempt
			result.Latency = time.Since(start)
			f.store(ctx, req, result)
			if attempt > 1 {
				f.logger.Info().
					Int("page", req.Page).
					Int("attempt", attempt).
					Msg("Page fetched after retry")
			}
			requestsTotal.WithLabelValues(req.SourceID, fmt.Sprintf("%d", result.StatusCode)).Inc()
			return result
		}

		lastErr = fetchErr
		lastKind = scrape.KindOf(fetchErr)
		errorsTotal.WithLabelValues(string(lastKind)).Inc()

		// An expired session gets exactly one re-authentication; after
		// that the failure is reclassified by the next response.
		if lastKind == scrape.ErrorKindAuthExpired {
			if reauthDone {
				lastKind = scrape.ErrorKindNonRetriable
				return f.terminal(req, attempt, lastKind, lastErr)
			}
			reauthDone = true
			f.logger.Warn().Int("page", req.Page).Msg("Session expired, re-authenticating")
			if refreshErr := f.session.Refresh(ctx); refreshErr != nil {
				return f.terminal(req, attempt, scrape.ErrorKindNonRetriable,
					fmt.Errorf("re-authentication failed: %w", refreshErr))
			}
			lastKind = scrape.ErrorKindTransient
		}

		var hint time.Duration
		var fe *scrape.FetchError
		if errors.As(fetchErr, &fe) {
			hint = fe.RetryAfter
		}

		decision := f.policy.Next(lastKind, attempt, hint)
		if !decision.Retry {
			return f.terminal(req, attempt, lastKind, lastErr)
		}

		f.logger.Warn().
			Int("page", req.Page).
			Int("attempt", attempt).
			Dur("backoff", decision.After).
			Str("error_kind", string(lastKind)).
			Msg("Page fetch failed, retrying")

		select {
		case <-ctx.Done():
			return f.terminal(req, attempt, lastKind,
				fmt.Errorf("%w: %v", scrape.ErrContextCancelled, ctx.Err()))
		case <-time.After(decision.After):
		}
	}
}

// attempt performs a single network GET and classifies the outcome.
func (f *Fetcher) attempt(ctx context.Context, req scrape.PageRequest) (scrape.FetchResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return scrape.FetchResult{}, &scrape.FetchError{
			Kind:    scrape.ErrorKindNonRetriable,
			Message: "malformed url",
			Err:     err,
		}
	}
	httpReq.Header.Set("User-Agent", f.userAgent)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml")

	if err := f.session.Apply(ctx, httpReq); err != nil {
		kind := scrape.KindOf(err)
		if kind != scrape.ErrorKindAuthExpired {
			kind = scrape.ErrorKindTransient
		}
		return scrape.FetchResult{}, &scrape.FetchError{
			Kind:    kind,
			Message: "session apply failed",
			Err:     err,
		}
	}

	fetchedAt := time.Now()
	resp, err := f.client.Do(httpReq)
	if err != nil {
		return scrape.FetchResult{}, &scrape.FetchError{
			Kind:    classifyNetworkError(err),
			Message: "request failed",
			Err:     err,
		}
	}
	defer resp.Body.Close()

	if kind := classifyStatus(resp.StatusCode); kind != scrape.ErrorKindNone {
		// Drain so the connection can be reused before the retry.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return scrape.FetchResult{}, &scrape.FetchError{
			StatusCode: resp.StatusCode,
			Kind:       kind,
			Message:    resp.Status,
			RetryAfter: retryAfterHint(resp.Header),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return scrape.FetchResult{}, &scrape.FetchError{
			StatusCode: resp.StatusCode,
			Kind:       scrape.ErrorKindTransient,
			Message:    "read body",
			Err:        err,
		}
	}

	return scrape.FetchResult{
		Request:    req,
		Body:       body,
		StatusCode: resp.StatusCode,
		FetchedAt:  fetchedAt,
	}, nil
}

// store caches a successful fetch for the source's TTL window.
func (f *Fetcher) store(ctx context.Context, req scrape.PageRequest, result scrape.FetchResult) {
	entry := &cache.Entry{
		Body:       result.Body,
		StatusCode: result.StatusCode,
		FetchedAt:  result.FetchedAt,
	}
	if err := f.cache.Put(ctx, req, entry, f.cfg.CacheTTL); err != nil {
		f.logger.Warn().Err(err).Int("page", req.Page).Msg("Failed to cache response")
	}
}

// terminal builds the failure result returned once retries are exhausted
// or the failure is not retriable.
func (f *Fetcher) terminal(req scrape.PageRequest, attempts int, kind scrape.ErrorKind, err error) scrape.FetchResult {
	requestsTotal.WithLabelValues(req.SourceID, "failed").Inc()
	f.logger.Error().
		Int("page", req.Page).
		Int("attempts", attempts).
		Str("error_kind", string(kind)).
		Err(err).
		Msg("Page fetch failed terminally")

	if kind.Retriable() && !errors.Is(err, scrape.ErrContextCancelled) {
		err = fmt.Errorf("%w after %d attempts: %v", scrape.ErrRetryExhausted, attempts, err)
	}
	return scrape.FetchResult{
		Request:  req,
		Attempts: attempts,
		Kind:     kind,
		Err:      err,
	}
}
