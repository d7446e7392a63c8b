package orchestrate

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/schwarzT404/scrapping/pkg/checkpoint"
	"github.com/schwarzT404/scrapping/pkg/paginate"
	"github.com/schwarzT404/scrapping/pkg/scrape"
)

// listingServer serves totalPages pages, each declaring its own index and
// the total, so the test extractor can decide whether more pages follow.
func listingServer(t *testing.T, totalPages int, perPage int) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		var page int
		if _, err := fmt.Sscanf(r.URL.Path, "/page-%d", &page); err != nil || page < 1 || page > totalPages {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, "page=%d total=%d per=%d", page, totalPages, perPage)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

// listingExtractor parses the test server's page format.
type listingExtractor struct{}

func (listingExtractor) Extract(doc []byte, req scrape.PageRequest) ([]scrape.RawRecord, bool, error) {
	var page, total, per int
	if _, err := fmt.Sscanf(string(doc), "page=%d total=%d per=%d", &page, &total, &per); err != nil {
		return nil, false, fmt.Errorf("unexpected page format: %w", err)
	}
	records := make([]scrape.RawRecord, per)
	for i := range records {
		records[i] = scrape.RawRecord{
			Fields:   map[string]any{"index": i},
			SourceID: req.SourceID,
			Page:     req.Page,
		}
	}
	return records, page < total, nil
}

func fastSource(id, baseURL string) scrape.SourceConfig {
	cfg := scrape.DefaultSourceConfig(id, baseURL+"/page-{page}")
	cfg.MinDelay = 0
	cfg.MaxDelay = 0
	cfg.MaxAttempts = 2
	cfg.BaseBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	cfg.MaxPages = 0
	return cfg
}

func countingSink(total *atomic.Int64) paginate.Sink {
	return func(records []scrape.RawRecord) error {
		total.Add(int64(len(records)))
		return nil
	}
}

func TestOrchestrator_RunsAllSources(t *testing.T) {
	books, _ := listingServer(t, 3, 20)
	quotes, _ := listingServer(t, 2, 10)

	store := checkpoint.NewMemory()
	o, err := New(Config{
		Jobs: []SourceJob{
			{Source: fastSource("books", books.URL), Extractor: listingExtractor{}},
			{Source: fastSource("quotes", quotes.URL), Extractor: listingExtractor{}},
		},
		Checkpoints: store,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var total atomic.Int64
	report, err := o.Run(context.Background(), countingSink(&total))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if report.RunID == "" {
		t.Error("RunID is empty")
	}
	if report.TotalRecords != 80 {
		t.Errorf("TotalRecords = %d, want 80 (3x20 + 2x10)", report.TotalRecords)
	}
	if total.Load() != 80 {
		t.Errorf("sink received %d records, want 80", total.Load())
	}
	if report.Failed() {
		t.Errorf("Failed() = true, report = %+v", report.Sources)
	}
	for _, sr := range report.Sources {
		if sr.Status != StatusCompleted {
			t.Errorf("source %s status = %s, want completed", sr.SourceID, sr.Status)
		}
		if sr.Attempts != sr.Pages {
			t.Errorf("source %s attempts = %d, want %d (one per page)", sr.SourceID, sr.Attempts, sr.Pages)
		}
		if sr.Duration <= 0 {
			t.Errorf("source %s duration = %v, want > 0", sr.SourceID, sr.Duration)
		}
	}

	// Clean completion clears the checkpoints.
	for _, id := range []string{"books", "quotes"} {
		if state, _ := store.Load(context.Background(), id); state != nil {
			t.Errorf("checkpoint for %s = %+v, want cleared", id, state)
		}
	}
}

func TestOrchestrator_SequentialMatchesConcurrent(t *testing.T) {
	run := func(concurrency int) int {
		books, _ := listingServer(t, 3, 5)
		quotes, _ := listingServer(t, 3, 7)
		o, err := New(Config{
			Jobs: []SourceJob{
				{Source: fastSource("books", books.URL), Extractor: listingExtractor{}},
				{Source: fastSource("quotes", quotes.URL), Extractor: listingExtractor{}},
			},
			Concurrency: concurrency,
		})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		var total atomic.Int64
		report, err := o.Run(context.Background(), countingSink(&total))
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		return report.TotalRecords
	}

	sequential := run(1)
	concurrent := run(0)
	if sequential != concurrent || sequential != 36 {
		t.Errorf("sequential = %d, concurrent = %d, want both 36", sequential, concurrent)
	}
}

type denySource struct{ id string }

func (d denySource) Allow(ctx context.Context, cfg scrape.SourceConfig) error {
	if cfg.ID == d.id {
		return fmt.Errorf("%w: test deny", scrape.ErrPolicyBlocked)
	}
	return nil
}

func TestOrchestrator_PolicyBlockedSourceIsReportedNotFetched(t *testing.T) {
	books, bookHits := listingServer(t, 2, 5)
	quotes, quoteHits := listingServer(t, 2, 5)

	o, err := New(Config{
		Jobs: []SourceJob{
			{Source: fastSource("books", books.URL), Extractor: listingExtractor{}},
			{Source: fastSource("quotes", quotes.URL), Extractor: listingExtractor{}},
		},
		Policy: denySource{id: "quotes"},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var total atomic.Int64
	report, err := o.Run(context.Background(), countingSink(&total))
	if err != nil {
		t.Fatalf("Run() error = %v, policy block is not a run error", err)
	}

	var blocked *SourceReport
	for i := range report.Sources {
		if report.Sources[i].SourceID == "quotes" {
			blocked = &report.Sources[i]
		}
	}
	if blocked == nil || blocked.Status != StatusPolicyBlocked {
		t.Fatalf("quotes report = %+v, want policy_blocked", blocked)
	}
	if len(blocked.Failures) != 1 || blocked.Failures[0].Kind != scrape.ErrorKindPolicyBlocked {
		t.Errorf("blocked Failures = %+v, want one policy_blocked entry", blocked.Failures)
	}
	if quoteHits.Load() != 0 {
		t.Errorf("blocked source received %d requests, want 0", quoteHits.Load())
	}
	if bookHits.Load() == 0 {
		t.Error("allowed source was never fetched")
	}
	if report.Failed() {
		t.Error("Failed() = true, a policy block alone is not a failure")
	}
}

func TestOrchestrator_AbortedSourceDoesNotStopOthers(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(broken.Close)
	healthy, _ := listingServer(t, 3, 10)

	o, err := New(Config{
		Jobs: []SourceJob{
			{Source: fastSource("broken", broken.URL), Extractor: listingExtractor{}},
			{Source: fastSource("healthy", healthy.URL), Extractor: listingExtractor{}},
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var total atomic.Int64
	report, err := o.Run(context.Background(), countingSink(&total))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	byID := make(map[string]SourceReport)
	for _, sr := range report.Sources {
		byID[sr.SourceID] = sr
	}
	if byID["broken"].Status != StatusAborted {
		t.Errorf("broken status = %s, want aborted", byID["broken"].Status)
	}
	if byID["healthy"].Status != StatusCompleted || byID["healthy"].Records != 30 {
		t.Errorf("healthy = %+v, want completed with 30 records", byID["healthy"])
	}
	if !report.Failed() {
		t.Error("Failed() = false, an aborted source is a failure")
	}
}

func TestOrchestrator_TimeoutCancelsRun(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		fmt.Fprint(w, "page=1 total=100 per=1")
	}))
	t.Cleanup(slow.Close)

	cfg := fastSource("slow", slow.URL)
	cfg.MaxAttempts = 1
	o, err := New(Config{
		Jobs:    []SourceJob{{Source: cfg, Extractor: listingExtractor{}}},
		Timeout: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	report, err := o.Run(context.Background(), countingSink(&atomic.Int64{}))
	if err == nil {
		t.Fatal("Run() error = nil, want timeout error")
	}
	if report == nil {
		t.Fatal("Run() report = nil, want partial report on timeout")
	}
}

func TestOrchestrator_KeepCheckpoints(t *testing.T) {
	books, _ := listingServer(t, 2, 5)
	store := checkpoint.NewMemory()

	o, err := New(Config{
		Jobs:            []SourceJob{{Source: fastSource("books", books.URL), Extractor: listingExtractor{}}},
		Checkpoints:     store,
		KeepCheckpoints: true,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := o.Run(context.Background(), countingSink(&atomic.Int64{})); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	state, _ := store.Load(context.Background(), "books")
	if state == nil || state.LastCompletedPage != 2 {
		t.Errorf("checkpoint = %+v, want page 2 retained", state)
	}
}

func TestOrchestrator_SinkNeverInterleavesPages(t *testing.T) {
	a, _ := listingServer(t, 4, 8)
	b, _ := listingServer(t, 4, 8)

	o, err := New(Config{
		Jobs: []SourceJob{
			{Source: fastSource("a", a.URL), Extractor: listingExtractor{}},
			{Source: fastSource("b", b.URL), Extractor: listingExtractor{}},
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// Each sink call must carry records from exactly one page of one
	// source even when sources run concurrently.
	var mu sync.Mutex
	calls := 0
	sink := func(records []scrape.RawRecord) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		for _, r := range records {
			if r.SourceID != records[0].SourceID || r.Page != records[0].Page {
				t.Errorf("mixed hand-off: %s/%d and %s/%d",
					records[0].SourceID, records[0].Page, r.SourceID, r.Page)
			}
		}
		return nil
	}
	if _, err := o.Run(context.Background(), sink); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if calls != 8 {
		t.Errorf("sink calls = %d, want 8 (one per page)", calls)
	}
}

func TestNew_Validation(t *testing.T) {
	valid := fastSource("books", "https://example.test")

	tests := []struct {
		name string
		cfg  Config
	}{
		{"no jobs", Config{}},
		{"missing extractor", Config{Jobs: []SourceJob{{Source: valid}}}},
		{"duplicate ids", Config{Jobs: []SourceJob{
			{Source: valid, Extractor: listingExtractor{}},
			{Source: valid, Extractor: listingExtractor{}},
		}}},
		{"negative concurrency", Config{
			Jobs:        []SourceJob{{Source: valid, Extractor: listingExtractor{}}},
			Concurrency: -1,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("New() error = nil, want validation error")
			}
		})
	}
}
