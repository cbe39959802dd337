// Package extract holds the shared content heuristics used by the feed and
// web extractors. Each heuristic is an ordered list of probes; the first probe
// that yields a value wins.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"sync"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// Document is a parsed HTML page together with the URL it was served from.
type Document struct {
	URL  *url.URL
	Root *goquery.Document

	raw []byte

	readOnce sync.Once
	readable readableArticle
}

type readableArticle struct {
	title   string
	content string
	ok      bool
}

// Parse builds a Document from a raw HTML body.
func Parse(body []byte, pageURL string) (*Document, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	root, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Document{URL: u, Root: root, raw: body}, nil
}

// Raw returns the body the document was parsed from.
func (d *Document) Raw() []byte {
	return d.raw
}

// readability runs go-readability at most once per document.
func (d *Document) readability() readableArticle {
	d.readOnce.Do(func() {
		if len(bytes.TrimSpace(d.raw)) == 0 {
			return
		}
		article, err := readability.FromReader(bytes.NewReader(d.raw), d.URL)
		if err != nil {
			return
		}
		d.readable = readableArticle{
			title:   article.Title,
			content: article.Content,
			ok:      true,
		}
	})
	return d.readable
}

// Probe attempts to derive one value from a document.
type Probe[T any] func(*Document) (T, bool)

// First evaluates probes in order and returns the first hit.
func First[T any](doc *Document, probes ...Probe[T]) (T, bool) {
	var zero T
	if doc == nil {
		return zero, false
	}
	for _, probe := range probes {
		if v, ok := probe(doc); ok {
			return v, true
		}
	}
	return zero, false
}
