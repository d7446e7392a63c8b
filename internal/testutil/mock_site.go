// Package testutil provides testing utilities for the scraping engine.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

var ratingWords = []string{"One", "Two", "Three", "Four", "Five"}

// MockSite is a configurable paginated listing site for testing. It serves
// book-catalogue HTML pages under /catalogue/page-N.html, with scriptable
// per-page failures and request tracking.
type MockSite struct {
	server *httptest.Server

	totalPages int
	perPage    int

	mu       sync.Mutex
	pageHits map[int]int
	failures map[int]*scriptedFailure
	delay    time.Duration
}

// scriptedFailure makes a page fail with a status for a number of requests
// before it recovers.
type scriptedFailure struct {
	remaining  int
	status     int
	retryAfter int
}

// NewMockSite creates a mock listing site with totalPages pages of perPage
// items each.
func NewMockSite(totalPages, perPage int) *MockSite {
	site := &MockSite{
		totalPages: totalPages,
		perPage:    perPage,
		pageHits:   make(map[int]int),
		failures:   make(map[int]*scriptedFailure),
	}
	site.server = httptest.NewServer(http.HandlerFunc(site.handle))
	return site
}

// URL returns the mock site's base URL.
func (s *MockSite) URL() string {
	return s.server.URL
}

// PageURLTemplate returns the URL template for use in a source config.
func (s *MockSite) PageURLTemplate() string {
	return s.server.URL + "/catalogue/page-{page}.html"
}

// Close shuts down the mock site.
func (s *MockSite) Close() {
	s.server.Close()
}

// FailPage scripts a page to answer with status for the next times
// requests, then serve normally again.
func (s *MockSite) FailPage(page, times, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[page] = &scriptedFailure{remaining: times, status: status}
}

// FailPageWithRetryAfter scripts a page like FailPage and attaches a
// Retry-After header with the given number of seconds.
func (s *MockSite) FailPageWithRetryAfter(page, times, status, seconds int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[page] = &scriptedFailure{remaining: times, status: status, retryAfter: seconds}
}

// SetDelay makes every response wait before being written.
func (s *MockSite) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// PageHits returns how many requests a page received.
func (s *MockSite) PageHits(page int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pageHits[page]
}

// TotalHits returns the total number of requests across all pages.
func (s *MockSite) TotalHits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.pageHits {
		total += n
	}
	return total
}

// Reset clears request tracking and scripted failures.
func (s *MockSite) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageHits = make(map[int]int)
	s.failures = make(map[int]*scriptedFailure)
}

func (s *MockSite) handle(w http.ResponseWriter, r *http.Request) {
	page, ok := parsePagePath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	s.mu.Lock()
	s.pageHits[page]++
	delay := s.delay
	var failWith *scriptedFailure
	if f, exists := s.failures[page]; exists && f.remaining > 0 {
		f.remaining--
		failWith = &scriptedFailure{status: f.status, retryAfter: f.retryAfter}
	}
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	if failWith != nil {
		if failWith.retryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(failWith.retryAfter))
		}
		http.Error(w, http.StatusText(failWith.status), failWith.status)
		return
	}

	if page < 1 || page > s.totalPages {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(s.renderPage(page)))
}

func parsePagePath(path string) (int, bool) {
	var page int
	if _, err := fmt.Sscanf(path, "/catalogue/page-%d.html", &page); err != nil {
		return 0, false
	}
	return page, true
}

// renderPage produces a catalogue page in the .product_pod layout, with a
// next link on every page but the last.
func (s *MockSite) renderPage(page int) string {
	var b strings.Builder
	b.WriteString("<html><body><section>\n")
	for i := 1; i <= s.perPage; i++ {
		n := (page-1)*s.perPage + i
		fmt.Fprintf(&b, `<article class="product_pod">
<h3><a href="book-%d/index.html" title="Book %d">Book %d</a></h3>
<p class="star-rating %s"></p>
<p class="price_color">£%d.99</p>
<p class="instock availability">In stock</p>
</article>
`, n, n, n, ratingWords[n%len(ratingWords)], 10+n%40)
	}
	b.WriteString("</section>\n")
	if page < s.totalPages {
		fmt.Fprintf(&b, `<ul class="pager"><li class="next"><a href="page-%d.html">next</a></li></ul>`+"\n", page+1)
	}
	b.WriteString("</body></html>")
	return b.String()
}
