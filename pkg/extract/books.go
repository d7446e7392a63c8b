package extract

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/schwarzT404/scrapping/pkg/scrape"
)

// BookCatalogue extracts book listings laid out as .product_pod articles
// (title, price, star rating, availability), the layout used by
// books.toscrape.com-style catalogues.
type BookCatalogue struct{}

func (BookCatalogue) Extract(doc []byte, req scrape.PageRequest) ([]scrape.RawRecord, bool, error) {
	d, err := parseDocument(doc)
	if err != nil {
		return nil, false, err
	}

	var records []scrape.RawRecord
	d.Find(".product_pod").Each(func(_ int, s *goquery.Selection) {
		link := s.Find("h3 a")
		title := link.AttrOr("title", strings.TrimSpace(link.Text()))

		fields := map[string]any{
			"title":     title,
			"url":       link.AttrOr("href", ""),
			"rating":    starRating(s.Find(".star-rating").AttrOr("class", "")),
			"available": strings.Contains(s.Find(".availability").Text(), "In stock"),
		}
		if price, ok := parsePrice(s.Find(".price_color").Text()); ok {
			fields["price"] = price
		}

		records = append(records, scrape.RawRecord{
			Fields:   fields,
			SourceID: req.SourceID,
			Page:     req.Page,
		})
	})

	return records, hasNextLink(d), nil
}

// starRating maps the catalogue's star-rating class word to 0..5.
func starRating(class string) int {
	words := map[string]int{"One": 1, "Two": 2, "Three": 3, "Four": 4, "Five": 5}
	for _, w := range strings.Fields(class) {
		if n, ok := words[w]; ok {
			return n
		}
	}
	return 0
}

// parsePrice reads a display price like "£51.77", tolerating currency
// symbols and stray encoding artifacts before the number.
func parsePrice(text string) (float64, bool) {
	text = strings.TrimSpace(text)
	start := strings.IndexFunc(text, func(r rune) bool {
		return r >= '0' && r <= '9'
	})
	if start < 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(text[start:], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
