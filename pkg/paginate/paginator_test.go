package paginate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/schwarzT404/scrapping/pkg/checkpoint"
	"github.com/schwarzT404/scrapping/pkg/scrape"
)

type stubFetcher struct {
	mu    sync.Mutex
	calls []int
	fn    func(req scrape.PageRequest) scrape.FetchResult
}

func (f *stubFetcher) Fetch(ctx context.Context, req scrape.PageRequest) scrape.FetchResult {
	f.mu.Lock()
	f.calls = append(f.calls, req.Page)
	f.mu.Unlock()
	return f.fn(req)
}

func okPage(req scrape.PageRequest) scrape.FetchResult {
	return scrape.FetchResult{
		Request:    req,
		Body:       []byte(fmt.Sprintf("<html>page %d</html>", req.Page)),
		StatusCode: 200,
		FetchedAt:  time.Now(),
		Attempts:   1,
	}
}

func failedPage(req scrape.PageRequest, attempts int) scrape.FetchResult {
	return scrape.FetchResult{
		Request:  req,
		Attempts: attempts,
		Kind:     scrape.ErrorKindTransient,
		Err:      fmt.Errorf("%w: status 500", scrape.ErrRetryExhausted),
	}
}

// stubExtractor yields perPage records per page and signals the end of the
// listing after totalPages (0 = endless).
type stubExtractor struct {
	perPage    int
	totalPages int
	failPages  map[int]bool
}

func (e *stubExtractor) Extract(doc []byte, req scrape.PageRequest) ([]scrape.RawRecord, bool, error) {
	if e.failPages[req.Page] {
		return nil, false, errors.New("malformed document")
	}
	records := make([]scrape.RawRecord, e.perPage)
	for i := range records {
		records[i] = scrape.RawRecord{
			Fields:   map[string]any{"index": i},
			SourceID: req.SourceID,
			Page:     req.Page,
		}
	}
	more := e.totalPages == 0 || req.Page < e.totalPages
	return records, more, nil
}

func testConfig(id string) scrape.SourceConfig {
	cfg := scrape.DefaultSourceConfig(id, "https://example.test/page-{page}.html")
	cfg.MinDelay = 0
	cfg.MaxDelay = 0
	return cfg
}

func collectSink(records *[]scrape.RawRecord) Sink {
	return func(page []scrape.RawRecord) error {
		*records = append(*records, page...)
		return nil
	}
}

func TestPaginator_StopsAtMaxPages(t *testing.T) {
	cfg := testConfig("books")
	cfg.MaxPages = 3

	fetcher := &stubFetcher{fn: okPage}
	store := checkpoint.NewMemory()
	p, err := New(cfg, fetcher, &stubExtractor{perPage: 20, totalPages: 5}, store)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var records []scrape.RawRecord
	result, err := p.Run(context.Background(), collectSink(&records))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.PagesCompleted != 3 {
		t.Errorf("PagesCompleted = %d, want 3", result.PagesCompleted)
	}
	if len(records) != 60 {
		t.Errorf("sink received %d records, want 60", len(records))
	}
	if len(result.Failures) != 0 {
		t.Errorf("Failures = %v, want none", result.Failures)
	}

	state, _ := store.Load(context.Background(), "books")
	if state == nil || state.LastCompletedPage != 3 || state.RecordCount != 60 {
		t.Errorf("checkpoint = %+v, want page 3 with 60 records", state)
	}
}

func TestPaginator_StopsAtEndOfListing(t *testing.T) {
	cfg := testConfig("books")
	cfg.MaxPages = 0

	fetcher := &stubFetcher{fn: okPage}
	p, err := New(cfg, fetcher, &stubExtractor{perPage: 10, totalPages: 2}, checkpoint.NewMemory())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var records []scrape.RawRecord
	result, err := p.Run(context.Background(), collectSink(&records))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !result.Completed {
		t.Error("Completed = false, want true at natural end")
	}
	if len(fetcher.calls) != 2 {
		t.Errorf("fetched pages %v, want exactly [1 2]", fetcher.calls)
	}
	if result.Records != 20 {
		t.Errorf("Records = %d, want 20", result.Records)
	}
}

func TestPaginator_ResumesFromCheckpoint(t *testing.T) {
	cfg := testConfig("books")
	cfg.MaxPages = 5

	store := checkpoint.NewMemory()
	if err := store.Save(context.Background(), "books", checkpoint.State{
		LastCompletedPage: 2,
		RecordCount:       40,
	}); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	fetcher := &stubFetcher{fn: okPage}
	p, err := New(cfg, fetcher, &stubExtractor{perPage: 20, totalPages: 5}, store)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var records []scrape.RawRecord
	result, err := p.Run(context.Background(), collectSink(&records))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(fetcher.calls) == 0 || fetcher.calls[0] != 3 {
		t.Errorf("first fetched page = %v, want resume at 3", fetcher.calls)
	}
	if len(records) != 60 {
		t.Errorf("sink received %d records this run, want 60 (pages 3-5)", len(records))
	}
	if result.Records != 100 {
		t.Errorf("cumulative Records = %d, want 100", result.Records)
	}
}

func TestPaginator_SkipsFailedPageWithinTolerance(t *testing.T) {
	cfg := testConfig("books")
	cfg.MaxPages = 3

	fetcher := &stubFetcher{fn: func(req scrape.PageRequest) scrape.FetchResult {
		if req.Page == 2 {
			return failedPage(req, cfg.MaxAttempts)
		}
		return okPage(req)
	}}
	store := checkpoint.NewMemory()
	p, err := New(cfg, fetcher, &stubExtractor{perPage: 20, totalPages: 5}, store)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var records []scrape.RawRecord
	result, err := p.Run(context.Background(), collectSink(&records))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Aborted {
		t.Error("Aborted = true, want skip-and-continue for one failure")
	}
	if len(result.Failures) != 1 || result.Failures[0].Request.Page != 2 {
		t.Fatalf("Failures = %+v, want exactly page 2", result.Failures)
	}
	if result.Failures[0].Attempts != cfg.MaxAttempts {
		t.Errorf("failure Attempts = %d, want %d", result.Failures[0].Attempts, cfg.MaxAttempts)
	}
	if len(records) != 40 {
		t.Errorf("sink received %d records, want 40 (pages 1 and 3)", len(records))
	}
	state, _ := store.Load(context.Background(), "books")
	if state.ErrorCount != 1 {
		t.Errorf("checkpoint ErrorCount = %d, want 1", state.ErrorCount)
	}
}

func TestPaginator_AbortsAfterConsecutiveFailures(t *testing.T) {
	cfg := testConfig("books")
	cfg.MaxPages = 0
	cfg.MaxConsecutiveFailures = 3

	fetcher := &stubFetcher{fn: func(req scrape.PageRequest) scrape.FetchResult {
		return failedPage(req, cfg.MaxAttempts)
	}}
	p, err := New(cfg, fetcher, &stubExtractor{perPage: 20}, checkpoint.NewMemory())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	result, err := p.Run(context.Background(), collectSink(&[]scrape.RawRecord{}))
	if err != nil {
		t.Fatalf("Run() error = %v, abort is not an error", err)
	}
	if !result.Aborted {
		t.Error("Aborted = false, want true")
	}
	if len(result.Failures) != 3 {
		t.Errorf("Failures = %d, want exactly the tolerance of 3", len(result.Failures))
	}
	if len(fetcher.calls) != 3 {
		t.Errorf("fetched pages %v, want to stop after 3", fetcher.calls)
	}
}

func TestPaginator_SuccessResetsFailureStreak(t *testing.T) {
	cfg := testConfig("books")
	cfg.MaxPages = 7
	cfg.MaxConsecutiveFailures = 3

	// Pages 1,2 fail, 3 succeeds, 4,5 fail, 6,7 succeed. The streak never
	// reaches 3, so the source must run to its page cap.
	failing := map[int]bool{1: true, 2: true, 4: true, 5: true}
	fetcher := &stubFetcher{fn: func(req scrape.PageRequest) scrape.FetchResult {
		if failing[req.Page] {
			return failedPage(req, cfg.MaxAttempts)
		}
		return okPage(req)
	}}
	p, err := New(cfg, fetcher, &stubExtractor{perPage: 5}, checkpoint.NewMemory())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	result, err := p.Run(context.Background(), collectSink(&[]scrape.RawRecord{}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Aborted {
		t.Error("Aborted = true, want streak reset on success")
	}
	if len(result.Failures) != 4 {
		t.Errorf("Failures = %d, want 4", len(result.Failures))
	}
	if result.PagesCompleted != 3 {
		t.Errorf("PagesCompleted = %d, want 3", result.PagesCompleted)
	}
}

func TestPaginator_TruncatesFinalPageAtMaxItems(t *testing.T) {
	cfg := testConfig("books")
	cfg.MaxPages = 0
	cfg.MaxItems = 50

	fetcher := &stubFetcher{fn: okPage}
	store := checkpoint.NewMemory()
	p, err := New(cfg, fetcher, &stubExtractor{perPage: 20}, store)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var records []scrape.RawRecord
	result, err := p.Run(context.Background(), collectSink(&records))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(records) != 50 {
		t.Errorf("sink received %d records, want exactly the cap of 50", len(records))
	}
	if result.Records != 50 {
		t.Errorf("Records = %d, want 50", result.Records)
	}
	if len(fetcher.calls) != 3 {
		t.Errorf("fetched pages %v, want to stop after the capped page 3", fetcher.calls)
	}
	state, _ := store.Load(context.Background(), "books")
	if state.LastCompletedPage != 3 || state.RecordCount != 50 {
		t.Errorf("checkpoint = %+v, want page 3 with 50 records", state)
	}
}

func TestPaginator_ResumeBeyondMaxItemsStopsWithoutFetching(t *testing.T) {
	cfg := testConfig("books")
	cfg.MaxPages = 0
	cfg.MaxItems = 50

	store := checkpoint.NewMemory()
	// A cap lowered between runs leaves the checkpoint past the limit.
	if err := store.Save(context.Background(), "books", checkpoint.State{
		LastCompletedPage: 3,
		RecordCount:       60,
	}); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	fetcher := &stubFetcher{fn: okPage}
	p, err := New(cfg, fetcher, &stubExtractor{perPage: 20}, store)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var records []scrape.RawRecord
	result, err := p.Run(context.Background(), collectSink(&records))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(fetcher.calls) != 0 {
		t.Errorf("fetched pages %v, want none past the cap", fetcher.calls)
	}
	if len(records) != 0 {
		t.Errorf("sink received %d records, want 0", len(records))
	}
	if result.Records != 60 {
		t.Errorf("Records = %d, want cumulative 60 preserved", result.Records)
	}
}

func TestPaginator_ResumeExactlyAtMaxItemsStopsWithoutFetching(t *testing.T) {
	cfg := testConfig("books")
	cfg.MaxPages = 0
	cfg.MaxItems = 50

	store := checkpoint.NewMemory()
	if err := store.Save(context.Background(), "books", checkpoint.State{
		LastCompletedPage: 5,
		RecordCount:       50,
	}); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	fetcher := &stubFetcher{fn: okPage}
	p, err := New(cfg, fetcher, &stubExtractor{perPage: 10}, store)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	result, err := p.Run(context.Background(), collectSink(&[]scrape.RawRecord{}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(fetcher.calls) != 0 {
		t.Errorf("fetched pages %v, want none at the cap", fetcher.calls)
	}
	if result.Records != 50 {
		t.Errorf("Records = %d, want 50", result.Records)
	}
}

func TestPaginator_TracksAttemptsAndDuration(t *testing.T) {
	cfg := testConfig("books")
	cfg.MaxPages = 3

	// Page 2 burns its full attempt budget; the others cost one each.
	fetcher := &stubFetcher{fn: func(req scrape.PageRequest) scrape.FetchResult {
		if req.Page == 2 {
			return failedPage(req, cfg.MaxAttempts)
		}
		return okPage(req)
	}}
	p, err := New(cfg, fetcher, &stubExtractor{perPage: 10, totalPages: 5}, checkpoint.NewMemory())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	result, err := p.Run(context.Background(), collectSink(&[]scrape.RawRecord{}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := 2 + cfg.MaxAttempts
	if result.Attempts != want {
		t.Errorf("Attempts = %d, want %d", result.Attempts, want)
	}
	if result.Duration <= 0 {
		t.Errorf("Duration = %v, want > 0", result.Duration)
	}
}

func TestPaginator_ExtractorErrorCountsAsPageFailure(t *testing.T) {
	cfg := testConfig("books")
	cfg.MaxPages = 3

	fetcher := &stubFetcher{fn: okPage}
	extractor := &stubExtractor{perPage: 10, totalPages: 5, failPages: map[int]bool{2: true}}
	p, err := New(cfg, fetcher, extractor, checkpoint.NewMemory())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	result, err := p.Run(context.Background(), collectSink(&[]scrape.RawRecord{}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Failures) != 1 {
		t.Fatalf("Failures = %+v, want exactly one", result.Failures)
	}
	if result.Failures[0].Kind != scrape.ErrorKindNonRetriable {
		t.Errorf("failure Kind = %q, want %q", result.Failures[0].Kind, scrape.ErrorKindNonRetriable)
	}
	if result.PagesCompleted != 2 {
		t.Errorf("PagesCompleted = %d, want 2 (pages 1 and 3)", result.PagesCompleted)
	}
}

func TestPaginator_RecordsHandedOffBeforeCheckpoint(t *testing.T) {
	cfg := testConfig("books")
	cfg.MaxPages = 2

	store := checkpoint.NewMemory()
	fetcher := &stubFetcher{fn: okPage}
	p, err := New(cfg, fetcher, &stubExtractor{perPage: 5, totalPages: 2}, store)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// At sink time the checkpoint must still point at the previous page.
	sink := func(records []scrape.RawRecord) error {
		page := records[0].Page
		state, err := store.Load(context.Background(), "books")
		if err != nil {
			return err
		}
		last := 0
		if state != nil {
			last = state.LastCompletedPage
		}
		if last != page-1 {
			t.Errorf("checkpoint at page %d during hand-off of page %d, want %d", last, page, page-1)
		}
		return nil
	}
	if _, err := p.Run(context.Background(), sink); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestPaginator_SinkErrorIsFatal(t *testing.T) {
	cfg := testConfig("books")
	cfg.MaxPages = 3

	store := checkpoint.NewMemory()
	fetcher := &stubFetcher{fn: okPage}
	p, err := New(cfg, fetcher, &stubExtractor{perPage: 5, totalPages: 5}, store)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	sinkErr := errors.New("downstream full")
	_, err = p.Run(context.Background(), func([]scrape.RawRecord) error { return sinkErr })
	if !errors.Is(err, sinkErr) {
		t.Fatalf("Run() error = %v, want %v", err, sinkErr)
	}
	// The failed page must not be checkpointed.
	state, _ := store.Load(context.Background(), "books")
	if state != nil {
		t.Errorf("checkpoint = %+v, want none after sink failure on page 1", state)
	}
}

func TestPaginator_CancelledBetweenPages(t *testing.T) {
	cfg := testConfig("books")
	cfg.MaxPages = 5

	ctx, cancel := context.WithCancel(context.Background())
	store := checkpoint.NewMemory()
	fetcher := &stubFetcher{fn: okPage}
	p, err := New(cfg, fetcher, &stubExtractor{perPage: 5, totalPages: 5}, store)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	sink := func(records []scrape.RawRecord) error {
		if records[0].Page == 2 {
			cancel()
		}
		return nil
	}
	result, err := p.Run(ctx, sink)
	if !errors.Is(err, scrape.ErrContextCancelled) {
		t.Fatalf("Run() error = %v, want ErrContextCancelled", err)
	}
	if result.PagesCompleted != 2 {
		t.Errorf("PagesCompleted = %d, want 2 (page in flight never checkpointed)", result.PagesCompleted)
	}
	state, _ := store.Load(context.Background(), "books")
	if state == nil || state.LastCompletedPage != 2 {
		t.Errorf("checkpoint = %+v, want page 2", state)
	}
}
