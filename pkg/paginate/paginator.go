// Package paginate drives the "fetch page 1..N, stop at boundary" loop for
// one source. Pagination is strictly sequential: page N+1 is never
// requested before page N's records are checkpointed.
package paginate

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/schwarzT404/scrapping/pkg/checkpoint"
	"github.com/schwarzT404/scrapping/pkg/scrape"
)

// Prometheus metrics for pagination progress.
var (
	pagesCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scrape_pages_completed_total",
		Help: "Total pages fetched, extracted and checkpointed by source",
	}, []string{"source"})

	recordsExtractedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scrape_records_extracted_total",
		Help: "Total records extracted by source",
	}, []string{"source"})

	pageFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scrape_page_failures_total",
		Help: "Total unrecoverable page failures by source",
	}, []string{"source"})

	sourcesAbortedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scrape_sources_aborted_total",
		Help: "Total sources abandoned after consecutive page failures",
	})
)

// Fetcher is the page-fetch capability the paginator drives.
type Fetcher interface {
	Fetch(ctx context.Context, req scrape.PageRequest) scrape.FetchResult
}

// Extractor turns one fetched document into zero or more records. It must
// be pure with respect to network and disk. more=false signals that no
// further pages should be fetched.
type Extractor interface {
	Extract(doc []byte, req scrape.PageRequest) (records []scrape.RawRecord, more bool, err error)
}

// Sink receives each completed page's records. It is called before the
// page is checkpointed, so a crash never leaves checkpointed-but-unseen
// records.
type Sink func(records []scrape.RawRecord) error

// PageFailure describes a page that exhausted its retries.
type PageFailure struct {
	Request  scrape.PageRequest
	Kind     scrape.ErrorKind
	Attempts int
	Err      error
}

// Result summarizes one source's pagination run.
type Result struct {
	// PagesCompleted counts pages fetched, extracted and checkpointed
	// during this run.
	PagesCompleted int

	// Records is the cumulative record count for the source, including
	// records from resumed-over pages of earlier runs.
	Records int

	// Attempts is the total number of network attempts spent during this
	// run, across successful and failed pages. Cache hits cost none.
	Attempts int

	// Duration is the wall-clock time of this run for the source.
	Duration time.Duration

	// Failures lists the pages that exhausted retries.
	Failures []PageFailure

	// Completed is true when the source reached its natural end (the
	// extractor signalled no more pages, or a page came back empty).
	Completed bool

	// Aborted is true when consecutive page failures exceeded the
	// configured tolerance and the source was abandoned.
	Aborted bool
}

// Paginator runs one source.
type Paginator struct {
	cfg         scrape.SourceConfig
	fetcher     Fetcher
	extractor   Extractor
	checkpoints checkpoint.Store
	logger      zerolog.Logger
}

// New creates a paginator for one source.
func New(cfg scrape.SourceConfig, fetcher Fetcher, extractor Extractor, checkpoints checkpoint.Store) (*Paginator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if fetcher == nil || extractor == nil || checkpoints == nil {
		return nil, fmt.Errorf("source %q: fetcher, extractor and checkpoint store are required", cfg.ID)
	}
	return &Paginator{
		cfg:         cfg,
		fetcher:     fetcher,
		extractor:   extractor,
		checkpoints: checkpoints,
		logger:      log.With().Str("component", "paginate").Str("source", cfg.ID).Logger(),
	}, nil
}

// Run paginates from the checkpointed position until a stop boundary:
// natural end of the listing, the max pages/items caps, the consecutive
// failure tolerance, or cancellation. It returns an error only for fatal
// conditions (cancellation, checkpoint or sink failure); page failures and
// source aborts are reported in the Result.
func (p *Paginator) Run(ctx context.Context, sink Sink) (result Result, err error) {
	start := time.Now()
	defer func() { result.Duration = time.Since(start) }()

	state, err := p.checkpoints.Load(ctx, p.cfg.ID)
	if err != nil {
		return result, fmt.Errorf("load checkpoint: %w", err)
	}
	if state == nil {
		state = &checkpoint.State{}
	} else {
		p.logger.Info().
			Int("last_completed_page", state.LastCompletedPage).
			Int("record_count", state.RecordCount).
			Msg("Resuming from checkpoint")
	}
	result.Records = state.RecordCount

	// A resumed checkpoint may already meet or exceed the cap, for
	// example when the operator lowered max_items between runs. Stop
	// before issuing any fetch.
	if p.cfg.MaxItems > 0 && result.Records >= p.cfg.MaxItems {
		p.logger.Info().
			Int("records", result.Records).
			Int("max_items", p.cfg.MaxItems).
			Msg("Item cap already reached at resume")
		return result, nil
	}

	consecutiveFailures := 0

	for page := state.LastCompletedPage + 1; ; page++ {
		// Cancellation is checked between pages; a page in progress is
		// never checkpointed after cancellation hits.
		if ctx.Err() != nil {
			return result, fmt.Errorf("%w: %v", scrape.ErrContextCancelled, ctx.Err())
		}
		if p.cfg.MaxPages > 0 && page > p.cfg.MaxPages {
			return result, nil
		}

		req := scrape.NewPageRequest(p.cfg, page)
		fetched := p.fetcher.Fetch(ctx, req)
		result.Attempts += fetched.Attempts

		if !fetched.OK() {
			pageFailuresTotal.WithLabelValues(p.cfg.ID).Inc()
			result.Failures = append(result.Failures, PageFailure{
				Request:  req,
				Kind:     fetched.Kind,
				Attempts: fetched.Attempts,
				Err:      fetched.Err,
			})
			state.ErrorCount++
			consecutiveFailures++

			if consecutiveFailures >= p.cfg.MaxConsecutiveFailures {
				sourcesAbortedTotal.Inc()
				result.Aborted = true
				p.logger.Error().
					Int("page", page).
					Int("consecutive_failures", consecutiveFailures).
					Msg("Abandoning source after consecutive page failures")
				return result, nil
			}

			p.logger.Warn().
				Int("page", page).
				Int("consecutive_failures", consecutiveFailures).
				Msg("Skipping failed page")
			continue
		}

		records, more, err := p.extractor.Extract(fetched.Body, req)
		if err != nil {
			// A document the extractor cannot parse counts like a
			// failed page: skip it, within the same tolerance.
			pageFailuresTotal.WithLabelValues(p.cfg.ID).Inc()
			result.Failures = append(result.Failures, PageFailure{
				Request: req,
				Kind:    scrape.ErrorKindNonRetriable,
				Err:     fmt.Errorf("extract page %d: %w", page, err),
			})
			state.ErrorCount++
			consecutiveFailures++
			if consecutiveFailures >= p.cfg.MaxConsecutiveFailures {
				sourcesAbortedTotal.Inc()
				result.Aborted = true
				return result, nil
			}
			continue
		}
		consecutiveFailures = 0

		if p.cfg.MaxItems > 0 && result.Records+len(records) > p.cfg.MaxItems {
			keep := p.cfg.MaxItems - result.Records
			if keep < 0 {
				keep = 0
			}
			records = records[:keep]
			more = false
		}

		if len(records) > 0 {
			if err := sink(records); err != nil {
				return result, fmt.Errorf("hand off page %d records: %w", page, err)
			}
		}
		result.Records += len(records)
		recordsExtractedTotal.WithLabelValues(p.cfg.ID).Add(float64(len(records)))

		// The page is complete only once its records are handed off;
		// the checkpoint write must be durable before the next page.
		state.LastCompletedPage = page
		state.RecordCount = result.Records
		state.UpdatedAt = time.Now()
		if err := p.checkpoints.Save(ctx, p.cfg.ID, *state); err != nil {
			return result, fmt.Errorf("save checkpoint after page %d: %w", page, err)
		}
		result.PagesCompleted++
		pagesCompletedTotal.WithLabelValues(p.cfg.ID).Inc()

		p.logger.Debug().
			Int("page", page).
			Int("records", len(records)).
			Int("total_records", result.Records).
			Msg("Page completed")

		if len(records) == 0 || !more {
			result.Completed = true
			p.logger.Info().
				Int("pages", result.PagesCompleted).
				Int("records", result.Records).
				Msg("Reached end of listing")
			return result, nil
		}
		if p.cfg.MaxItems > 0 && result.Records >= p.cfg.MaxItems {
			return result, nil
		}
	}
}
