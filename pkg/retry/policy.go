// Package retry decides, for a failed fetch attempt, whether to retry,
// after how long, and when to give up.
package retry

import (
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"

	"github.com/schwarzT404/scrapping/pkg/scrape"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scrape_retries_total",
		Help: "Total number of retry attempts by error kind",
	}, []string{"error_kind"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scrape_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error kind",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_kind"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scrape_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error kind",
	}, []string{"error_kind"})
)

// Decision is the policy's answer for one failed attempt: retry after a
// delay, or give up.
type Decision struct {
	Retry bool
	After time.Duration
}

// GiveUp is the terminal decision.
var GiveUp = Decision{}

// Policy computes exponential backoff with jitter for retriable failures.
type Policy struct {
	// MaxAttempts is the maximum number of attempts, including the
	// initial request.
	MaxAttempts int

	// BaseDelay is the backoff for the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff.
	MaxDelay time.Duration
}

// DefaultPolicy returns the default retry configuration.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// FromSource derives the retry policy from a source configuration.
func FromSource(cfg scrape.SourceConfig) Policy {
	p := Policy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseBackoff,
		MaxDelay:    cfg.MaxBackoff,
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 1 * time.Second
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// Next decides the fate of the given failed attempt. attempt is 1-based and
// counts the attempt that just failed. hint is a server-provided
// Retry-After delay (zero when absent); it overrides the computed backoff
// for rate-limited failures.
func (p Policy) Next(kind scrape.ErrorKind, attempt int, hint time.Duration) Decision {
	if !kind.Retriable() {
		return GiveUp
	}
	if attempt >= p.MaxAttempts {
		retryExhaustedTotal.WithLabelValues(string(kind)).Inc()
		log.Warn().
			Str("error_kind", string(kind)).
			Int("max_attempts", p.MaxAttempts).
			Msg("Retry attempts exhausted")
		return GiveUp
	}

	var delay time.Duration
	if kind == scrape.ErrorKindRateLimited && hint > 0 {
		delay = hint
	} else {
		delay = p.backoff(attempt)
	}

	retriesTotal.WithLabelValues(string(kind)).Inc()
	retryBackoffSeconds.WithLabelValues(string(kind)).Observe(delay.Seconds())

	log.Debug().
		Str("error_kind", string(kind)).
		Int("attempt", attempt).
		Dur("backoff", delay).
		Msg("Retrying after backoff")

	return Decision{Retry: true, After: delay}
}

// backoff computes base * 2^(attempt-1), capped at MaxDelay, with random
// jitter up to 20% added to desynchronize retries across sources.
func (p Policy) backoff(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	jitter := time.Duration(rand.Float64() * 0.2 * float64(delay))
	return delay + jitter
}
