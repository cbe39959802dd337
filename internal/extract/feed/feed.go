// Package feed extracts items from RSS, Atom and JSON feeds.
package feed

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/JakeFAU/content-collector/internal/collector"
	"github.com/JakeFAU/content-collector/internal/extract"
)

// Config tunes the feed extractor.
type Config struct {
	// RecencyMonths drops items published earlier than this many months
	// before the run start.
	RecencyMonths int
	// MinContentChars triggers a fetch of the item's page when the feed
	// carries less content than this.
	MinContentChars int
}

// DefaultConfig returns the defaults used in production.
func DefaultConfig() Config {
	return Config{RecencyMonths: 2, MinContentChars: 200}
}

// Extractor implements collector.Extractor for syndication feeds.
type Extractor struct {
	fetcher collector.Fetcher
	clock   collector.Clock
	cfg     Config
	logger  *zap.Logger
}

// New builds a feed Extractor.
func New(fetcher collector.Fetcher, clock collector.Clock, cfg Config, logger *zap.Logger) *Extractor {
	def := DefaultConfig()
	if cfg.RecencyMonths <= 0 {
		cfg.RecencyMonths = def.RecencyMonths
	}
	if cfg.MinContentChars <= 0 {
		cfg.MinContentChars = def.MinContentChars
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{fetcher: fetcher, clock: clock, cfg: cfg, logger: logger.Named("feed")}
}

// Extract fetches and parses the feed at feedURL. A feed that fails to parse
// yields no items and no error.
func (e *Extractor) Extract(ctx context.Context, feedURL string) ([]collector.Item, error) {
	page, err := e.fetcher.Fetch(ctx, feedURL)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}

	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(page.Body))
	if err != nil {
		e.logger.Warn("feed parse failed",
			zap.String("url", feedURL),
			zap.Error(fmt.Errorf("%w: %w", collector.ErrParse, err)),
		)
		return []collector.Item{}, nil
	}

	cutoff := e.runStart(ctx).AddDate(0, -e.cfg.RecencyMonths, 0)
	items := make([]collector.Item, 0, len(parsed.Items))
	for _, entry := range parsed.Items {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("extract feed: %w", err)
		}
		item, ok := e.convert(ctx, feedURL, entry, cutoff)
		if ok {
			items = append(items, item)
		}
	}
	return items, nil
}

func (e *Extractor) runStart(ctx context.Context) time.Time {
	if at, ok := collector.RunStart(ctx); ok {
		return at
	}
	if e.clock != nil {
		return e.clock.Now()
	}
	return time.Now()
}

// convert turns one entry into an item. A panic while handling the entry
// drops only that entry.
func (e *Extractor) convert(
	ctx context.Context,
	feedURL string,
	entry *gofeed.Item,
	cutoff time.Time,
) (item collector.Item, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("feed entry dropped", zap.String("url", feedURL), zap.Any("panic", r))
			item, ok = collector.Item{}, false
		}
	}()

	published := entryDate(entry)
	if published != nil && published.Before(cutoff) {
		return collector.Item{}, false
	}
	link := entryLink(entry)
	if link == "" {
		return collector.Item{}, false
	}

	content := entry.Content
	if strings.TrimSpace(content) == "" {
		content = entry.Description
	}
	if utf8.RuneCountInString(content) < e.cfg.MinContentChars {
		if full := e.fullContent(ctx, link); utf8.RuneCountInString(full) > utf8.RuneCountInString(content) {
			content = full
		}
	}

	return collector.Item{
		Title:       strings.TrimSpace(entry.Title),
		Body:        content,
		Summary:     extract.Summarize(content, extract.DefaultSummaryRunes),
		URL:         link,
		ImageURL:    entryImage(link, entry, content),
		PublishedAt: published,
	}, true
}

// fullContent fetches the entry's page and returns its main content, or ""
// on any failure.
func (e *Extractor) fullContent(ctx context.Context, link string) string {
	page, err := e.fetcher.Fetch(ctx, link)
	if err != nil {
		e.logger.Debug("full content fetch failed", zap.String("url", link), zap.Error(err))
		return ""
	}
	if extract.LooksClientRendered(page.Body) {
		collector.RenderFlagFrom(ctx).Mark()
	}
	doc, err := extract.Parse(page.Body, link)
	if err != nil {
		e.logger.Debug("full content parse failed", zap.String("url", link), zap.Error(err))
		return ""
	}
	return extract.Content(doc)
}

func entryDate(entry *gofeed.Item) *time.Time {
	if entry.PublishedParsed != nil {
		return entry.PublishedParsed
	}
	return entry.UpdatedParsed
}

func entryLink(entry *gofeed.Item) string {
	if link := strings.TrimSpace(entry.Link); link != "" {
		return link
	}
	if strings.HasPrefix(entry.GUID, "http") {
		return entry.GUID
	}
	return ""
}

func entryImage(link string, entry *gofeed.Item, content string) string {
	if media, ok := entry.Extensions["media"]; ok {
		for _, name := range []string{"content", "thumbnail"} {
			for _, ext := range media[name] {
				if u := strings.TrimSpace(ext.Attrs["url"]); u != "" {
					return u
				}
			}
		}
	}
	if entry.Image != nil && entry.Image.URL != "" {
		return entry.Image.URL
	}
	for _, enc := range entry.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
			return enc.URL
		}
	}
	return extract.FirstImage(link, content)
}
