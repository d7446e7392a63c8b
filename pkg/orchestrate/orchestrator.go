// Package orchestrate runs multiple listing sources as one job: each source
// gets its own rate limiter, retry policy and checkpoint, while extracted
// records stream into a single shared sink.
package orchestrate

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/schwarzT404/scrapping/pkg/cache"
	"github.com/schwarzT404/scrapping/pkg/checkpoint"
	"github.com/schwarzT404/scrapping/pkg/fetch"
	"github.com/schwarzT404/scrapping/pkg/paginate"
	"github.com/schwarzT404/scrapping/pkg/scrape"
	"github.com/schwarzT404/scrapping/pkg/session"
)

// Prometheus metrics for orchestrated runs.
var (
	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scrape_run_duration_seconds",
		Help:    "Wall-clock duration of orchestrated runs",
		Buckets: []float64{1, 5, 15, 60, 300, 900},
	})

	sourceOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scrape_source_outcomes_total",
		Help: "Per-source run outcomes by status",
	}, []string{"status"})
)

// SourceStatus is the terminal state of one source within a run.
type SourceStatus string

const (
	// StatusCompleted means the source reached its natural end or a
	// configured cap with every attempted page accounted for.
	StatusCompleted SourceStatus = "completed"

	// StatusAborted means consecutive page failures exceeded the
	// source's tolerance.
	StatusAborted SourceStatus = "aborted"

	// StatusPolicyBlocked means the politeness policy refused the source
	// before any page was fetched.
	StatusPolicyBlocked SourceStatus = "policy_blocked"

	// StatusFailed means the source stopped on an unrecoverable engine
	// error (checkpoint write, sink hand-off).
	StatusFailed SourceStatus = "failed"

	// StatusCancelled means the run was cancelled while the source was
	// in progress.
	StatusCancelled SourceStatus = "cancelled"
)

// SourceJob binds one source to the collaborators that scrape it.
type SourceJob struct {
	// Source is the immutable source configuration.
	Source scrape.SourceConfig

	// Extractor turns the source's pages into records.
	Extractor paginate.Extractor

	// Cache optionally overrides the run's shared response cache.
	Cache cache.Store

	// Session optionally supplies credentials for this source.
	// Defaults to anonymous fetching.
	Session session.Provider
}

// SourceReport is the per-source section of a run report.
type SourceReport struct {
	SourceID string       `json:"source_id"`
	Status   SourceStatus `json:"status"`
	Pages    int          `json:"pages"`
	Records  int          `json:"records"`

	// Attempts is the total number of network attempts the source cost
	// this run; Attempts minus successfully fetched pages gives the
	// retry total.
	Attempts int `json:"attempts"`

	// Duration is the wall-clock time spent on the source.
	Duration time.Duration `json:"duration"`

	// Failures lists pages that were given up on after retries. A
	// completed source can still carry skipped-page failures.
	Failures []paginate.PageFailure `json:"failures,omitempty"`

	// Err is set for StatusFailed and StatusCancelled.
	Err error `json:"-"`
}

// RunReport summarizes one orchestrated run across all sources.
type RunReport struct {
	RunID        string         `json:"run_id"`
	StartedAt    time.Time      `json:"started_at"`
	Duration     time.Duration  `json:"duration"`
	Sources      []SourceReport `json:"sources"`
	TotalRecords int            `json:"total_records"`
}

// Failed reports whether any source ended in an unrecoverable state.
func (r *RunReport) Failed() bool {
	for _, s := range r.Sources {
		if s.Status == StatusAborted || s.Status == StatusFailed || s.Status == StatusCancelled {
			return true
		}
	}
	return false
}

// Config holds the orchestrator configuration.
type Config struct {
	// Jobs are the sources to scrape, one entry per source.
	Jobs []SourceJob

	// Concurrency is the number of sources scraped in parallel. 1 runs
	// sources sequentially in job order; 0 runs all sources at once.
	Concurrency int

	// Timeout bounds the whole run. 0 means no limit.
	Timeout time.Duration

	// Policy is the politeness gate consulted per source. Defaults to
	// AllowAll.
	Policy Policy

	// Checkpoints persists per-source progress. Defaults to an
	// in-memory store (no resume across processes).
	Checkpoints checkpoint.Store

	// Cache is the shared response cache for jobs that do not bring
	// their own. Defaults to an in-memory store.
	Cache cache.Store

	// HTTPClient is shared by all fetchers. Defaults per fetcher.
	HTTPClient *http.Client

	// UserAgent identifies the scraper to remote servers.
	UserAgent string

	// KeepCheckpoints retains a source's checkpoint even after it
	// completes cleanly. By default a clean completion clears it so the
	// next run starts fresh.
	KeepCheckpoints bool
}

// Orchestrator drives a multi-source scraping run.
type Orchestrator struct {
	cfg    Config
	logger zerolog.Logger
}

// New validates the configuration and creates an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if len(cfg.Jobs) == 0 {
		return nil, fmt.Errorf("at least one source job is required")
	}
	seen := make(map[string]bool, len(cfg.Jobs))
	for _, job := range cfg.Jobs {
		if err := job.Source.Validate(); err != nil {
			return nil, err
		}
		if job.Extractor == nil {
			return nil, fmt.Errorf("source %q: extractor is required", job.Source.ID)
		}
		if seen[job.Source.ID] {
			return nil, fmt.Errorf("duplicate source id %q", job.Source.ID)
		}
		seen[job.Source.ID] = true
	}
	if cfg.Concurrency < 0 {
		return nil, fmt.Errorf("concurrency must be >= 0 (got %d)", cfg.Concurrency)
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = len(cfg.Jobs)
	}
	if cfg.Policy == nil {
		cfg.Policy = AllowAll{}
	}
	if cfg.Checkpoints == nil {
		cfg.Checkpoints = checkpoint.NewMemory()
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.NewMemory()
	}

	return &Orchestrator{
		cfg:    cfg,
		logger: log.With().Str("component", "orchestrate").Logger(),
	}, nil
}

// Run scrapes all configured sources and streams extracted records into
// sink. One source failing or being abandoned never stops the others; the
// returned report accounts for every source either way. The error is
// non-nil only when the run as a whole was cut short (timeout or
// cancellation).
func (o *Orchestrator) Run(ctx context.Context, sink paginate.Sink) (*RunReport, error) {
	report := &RunReport{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		Sources:   make([]SourceReport, len(o.cfg.Jobs)),
	}
	logger := o.logger.With().Str("run_id", report.RunID).Logger()

	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	logger.Info().
		Int("sources", len(o.cfg.Jobs)).
		Int("concurrency", o.cfg.Concurrency).
		Msg("Run started")

	// The sink is shared across sources; serialize hand-offs so the
	// caller never sees interleaved pages.
	var sinkMu sync.Mutex
	safeSink := func(records []scrape.RawRecord) error {
		sinkMu.Lock()
		defer sinkMu.Unlock()
		return sink(records)
	}

	g := &errgroup.Group{}
	g.SetLimit(o.cfg.Concurrency)
	for i, job := range o.cfg.Jobs {
		g.Go(func() error {
			report.Sources[i] = o.runSource(ctx, logger, job, safeSink)
			return nil
		})
	}
	// Source outcomes are reported, never propagated as errors.
	_ = g.Wait()

	report.Duration = time.Since(report.StartedAt)
	for _, s := range report.Sources {
		report.TotalRecords += s.Records
		sourceOutcomes.WithLabelValues(string(s.Status)).Inc()
	}
	runDuration.Observe(report.Duration.Seconds())

	logger.Info().
		Dur("duration", report.Duration).
		Int("total_records", report.TotalRecords).
		Bool("failed", report.Failed()).
		Msg("Run finished")

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("run %s cut short: %w", report.RunID, err)
	}
	return report, nil
}

// runSource scrapes one source to its terminal state.
func (o *Orchestrator) runSource(ctx context.Context, logger zerolog.Logger, job SourceJob, sink paginate.Sink) SourceReport {
	sr := SourceReport{SourceID: job.Source.ID}

	if err := o.cfg.Policy.Allow(ctx, job.Source); err != nil {
		logger.Warn().Str("source", job.Source.ID).Err(err).Msg("Source blocked by policy")
		sr.Status = StatusPolicyBlocked
		sr.Failures = []paginate.PageFailure{{
			Request: scrape.NewPageRequest(job.Source, 1),
			Kind:    scrape.ErrorKindPolicyBlocked,
			Err:     err,
		}}
		return sr
	}

	store := job.Cache
	if store == nil {
		store = o.cfg.Cache
	}
	fetcher, err := fetch.New(fetch.Config{
		Source:     job.Source,
		Cache:      store,
		Session:    job.Session,
		HTTPClient: o.cfg.HTTPClient,
		UserAgent:  o.cfg.UserAgent,
	})
	if err != nil {
		sr.Status = StatusFailed
		sr.Err = err
		return sr
	}

	paginator, err := paginate.New(job.Source, fetcher, job.Extractor, o.cfg.Checkpoints)
	if err != nil {
		sr.Status = StatusFailed
		sr.Err = err
		return sr
	}

	result, err := paginator.Run(ctx, sink)
	sr.Pages = result.PagesCompleted
	sr.Records = result.Records
	sr.Attempts = result.Attempts
	sr.Duration = result.Duration
	sr.Failures = result.Failures

	switch {
	case err != nil && ctx.Err() != nil:
		sr.Status = StatusCancelled
		sr.Err = err
	case err != nil:
		sr.Status = StatusFailed
		sr.Err = err
	case result.Aborted:
		sr.Status = StatusAborted
	default:
		sr.Status = StatusCompleted
		if len(result.Failures) == 0 && !o.cfg.KeepCheckpoints {
			if clearErr := o.cfg.Checkpoints.Clear(ctx, job.Source.ID); clearErr != nil {
				logger.Warn().Str("source", job.Source.ID).Err(clearErr).Msg("Failed to clear checkpoint")
			}
		}
	}

	logger.Info().
		Str("source", job.Source.ID).
		Str("status", string(sr.Status)).
		Int("pages", sr.Pages).
		Int("records", sr.Records).
		Int("attempts", sr.Attempts).
		Dur("duration", sr.Duration).
		Int("failures", len(sr.Failures)).
		Msg("Source finished")
	return sr
}
