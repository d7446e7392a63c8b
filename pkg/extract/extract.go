// Package extract turns fetched HTML documents into structured records.
// Extractors are registered by name so job configuration can refer to them
// without importing site-specific code.
package extract

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/schwarzT404/scrapping/pkg/paginate"
)

var (
	mu       sync.RWMutex
	registry = make(map[string]paginate.Extractor)
)

// Register makes an extractor available under a name. Registering the same
// name twice replaces the earlier extractor.
func Register(name string, e paginate.Extractor) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = e
}

// Get resolves a registered extractor by name.
func Get(name string) (paginate.Extractor, error) {
	mu.RLock()
	defer mu.RUnlock()

	e, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown extractor %q (registered: %s)", name, strings.Join(names(), ", "))
	}
	return e, nil
}

// Names lists the registered extractor names, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	return names()
}

func names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func init() {
	Register("books", BookCatalogue{})
	Register("quotes", Quotes{})
}

func parseDocument(doc []byte) (*goquery.Document, error) {
	d, err := goquery.NewDocumentFromReader(bytes.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return d, nil
}

// hasNextLink reports whether the page carries a "next" pagination link.
func hasNextLink(d *goquery.Document) bool {
	return d.Find("li.next a").Length() > 0
}
