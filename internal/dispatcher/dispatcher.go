// Package dispatcher routes each source to the extractor that understands it.
package dispatcher

import (
	"net/url"
	"strings"

	"github.com/JakeFAU/content-collector/internal/collector"
)

var feedPathMarkers = []string{"/rss", "/feed", "/atom"}

// Dispatcher picks between a feed and a web extractor.
type Dispatcher struct {
	feed collector.Extractor
	web  collector.Extractor
}

// New creates a Dispatcher.
func New(feed, web collector.Extractor) *Dispatcher {
	return &Dispatcher{
		feed: feed,
		web:  web,
	}
}

// Select returns the feed extractor for feed kinds or feed-looking URLs and
// the web extractor otherwise.
func (d *Dispatcher) Select(kind collector.SourceKind, rawURL string) collector.Extractor {
	if kind.IsFeed() || IsFeedURL(rawURL) {
		return d.feed
	}
	return d.web
}

// IsFeedURL reports whether rawURL looks like a syndication endpoint.
func IsFeedURL(rawURL string) bool {
	lower := strings.ToLower(strings.TrimSpace(rawURL))
	// Only the path counts; hosts like rss.example.org and queries like
	// ?next=/feed say nothing about the document.
	path := lower
	if u, err := url.Parse(lower); err == nil {
		path = u.Path
	}
	if strings.HasSuffix(path, ".xml") {
		return true
	}
	for _, marker := range feedPathMarkers {
		if strings.Contains(path, marker) {
			return true
		}
	}
	return false
}
