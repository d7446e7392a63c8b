// Package metrics provides the centralized Prometheus surface of the
// scraping engine. Metrics are defined in their respective packages
// (fetch, retry, ratelimit, cache, paginate, orchestrate) to maintain
// modularity and avoid circular dependencies.
//
// This package provides the exposition handler and documents the full
// metric inventory.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the engine. All
// metrics are automatically registered via promauto in their packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the HTTP handler serving the /metrics exposition.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Fetch Metrics (pkg/fetch):
//   - scrape_requests_total{source, status} (Counter): Page requests by outcome
//     (HTTP status, "cache_hit" or "failed")
//   - scrape_request_duration_seconds{source} (Histogram): Logical page fetch
//     duration including retries
//   - scrape_errors_total{error_kind} (Counter): Failed attempts by kind
//
// Retry Metrics (pkg/retry):
//   - scrape_retries_total{error_kind} (Counter): Retry attempts by error kind
//   - scrape_retry_backoff_seconds{error_kind} (Histogram): Backoff durations
//   - scrape_retry_exhausted_total{error_kind} (Counter): Pages that exhausted
//     their attempt budget
//
// Rate Limit Metrics (pkg/ratelimit):
//   - scrape_rate_limit_wait_seconds{source} (Histogram): Time spent waiting
//     for a request slot
//
// Cache Metrics (pkg/cache):
//   - scrape_cache_hits_total{layer} (Counter): Cache hits by layer
//   - scrape_cache_misses_total (Counter): Cache misses
//   - scrape_cache_bytes_written_total{layer} (Counter): Bytes written to
//     the cache
//   - scrape_cache_errors_total{operation} (Counter): Cache operation errors
//
// Pagination Metrics (pkg/paginate):
//   - scrape_pages_completed_total{source} (Counter): Checkpointed pages
//   - scrape_records_extracted_total{source} (Counter): Extracted records
//   - scrape_page_failures_total{source} (Counter): Pages given up on
//   - scrape_sources_aborted_total (Counter): Sources abandoned after
//     consecutive failures
//
// Orchestration Metrics (pkg/orchestrate):
//   - scrape_run_duration_seconds (Histogram): Wall-clock run duration
//   - scrape_source_outcomes_total{status} (Counter): Source terminal states
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(scrape_cache_hits_total[5m])) /
//   (sum(rate(scrape_cache_hits_total[5m])) + sum(rate(scrape_cache_misses_total[5m])))
//
//   # Retry Pressure by Source
//   rate(scrape_retries_total[5m])
//
//   # P95 Page Fetch Latency
//   histogram_quantile(0.95, rate(scrape_request_duration_seconds_bucket[5m]))
//
//   # Failure Ratio
//   rate(scrape_page_failures_total[5m]) / rate(scrape_pages_completed_total[5m])
