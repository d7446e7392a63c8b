// Package ratelimit enforces minimum spacing between outbound requests to a
// single source. The interval is measured from the previous request's
// completion, not its start, which prevents burst amplification when slow
// responses pile up.
package ratelimit

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/schwarzT404/scrapping/pkg/scrape"
)

// Prometheus metrics for rate limit waits.
var (
	rateLimitWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scrape_rate_limit_wait_seconds",
		Help:    "Time spent waiting for a rate limit slot by source",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"source"})
)

// Limiter schedules requests for one source. State is the timestamp of the
// last completed request; there are no error conditions beyond context
// cancellation.
type Limiter struct {
	sourceID string
	minDelay time.Duration
	maxDelay time.Duration
	logger   zerolog.Logger

	mu       sync.Mutex
	lastDone time.Time
}

// New creates a limiter for one source. minDelay and maxDelay bound the
// uniformly-random interval enforced between requests.
func New(sourceID string, minDelay, maxDelay time.Duration) *Limiter {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &Limiter{
		sourceID: sourceID,
		minDelay: minDelay,
		maxDelay: maxDelay,
		logger:   log.With().Str("component", "ratelimit").Str("source", sourceID).Logger(),
	}
}

// Acquire suspends the caller until it is permissible to issue the next
// request for this source, then returns. The first request is granted
// immediately.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	last := l.lastDone
	l.mu.Unlock()

	if last.IsZero() {
		return nil
	}

	interval := l.interval()
	wait := time.Until(last.Add(interval))
	if wait <= 0 {
		return nil
	}

	l.logger.Debug().
		Dur("wait", wait).
		Dur("interval", interval).
		Msg("Waiting for rate limit slot")

	rateLimitWaitSeconds.WithLabelValues(l.sourceID).Observe(wait.Seconds())

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", scrape.ErrContextCancelled, ctx.Err())
	case <-time.After(wait):
		return nil
	}
}

// Done records the completion of the current request. The next Acquire
// measures its interval from this point.
func (l *Limiter) Done() {
	l.mu.Lock()
	l.lastDone = time.Now()
	l.mu.Unlock()
}

// interval draws a uniformly-random delay in [minDelay, maxDelay].
func (l *Limiter) interval() time.Duration {
	if l.maxDelay == l.minDelay {
		return l.minDelay
	}
	spread := l.maxDelay - l.minDelay
	return l.minDelay + time.Duration(rand.Int63n(int64(spread)))
}
