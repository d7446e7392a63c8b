package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/schwarzT404/scrapping/pkg/scrape"
)

// Quotes extracts quote listings laid out as .quote blocks (text, author,
// tags), the layout used by quotes.toscrape.com-style sites.
type Quotes struct{}

func (Quotes) Extract(doc []byte, req scrape.PageRequest) ([]scrape.RawRecord, bool, error) {
	d, err := parseDocument(doc)
	if err != nil {
		return nil, false, err
	}

	var records []scrape.RawRecord
	d.Find(".quote").Each(func(_ int, s *goquery.Selection) {
		var tags []string
		s.Find(".tag").Each(func(_ int, tag *goquery.Selection) {
			if t := strings.TrimSpace(tag.Text()); t != "" {
				tags = append(tags, t)
			}
		})

		records = append(records, scrape.RawRecord{
			Fields: map[string]any{
				"text":   strings.Trim(strings.TrimSpace(s.Find(".text").Text()), "“”\""),
				"author": strings.TrimSpace(s.Find(".author").Text()),
				"tags":   tags,
			},
			SourceID: req.SourceID,
			Page:     req.Page,
		})
	})

	return records, hasNextLink(d), nil
}
