// Package web extracts items from ordinary HTML pages, either as a single
// article or by following the article links of a listing page.
package web

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/content-collector/internal/collector"
	"github.com/JakeFAU/content-collector/internal/extract"
	"github.com/JakeFAU/content-collector/internal/policy/retry"
)

// LinkSelectors locate candidate article links on a listing page, in order.
var LinkSelectors = []string{
	"article a[href]",
	".post a[href]",
	".entry a[href]",
	"h2 a[href]",
	"h3 a[href]",
	".post-title a[href]",
	`a[href*="/blog/"]`,
	`a[href*="/post/"]`,
	`a[href*="/article/"]`,
	`a[href*="/news/"]`,
}

// Config tunes the web extractor.
type Config struct {
	MinArticleChars int
	MinDetailChars  int
	MaxLinks        int
	DetailDelay     time.Duration
}

// DefaultConfig returns the defaults used in production.
func DefaultConfig() Config {
	return Config{
		MinArticleChars: 200,
		MinDetailChars:  100,
		MaxLinks:        10,
		DetailDelay:     500 * time.Millisecond,
	}
}

// Extractor implements collector.Extractor for HTML pages.
type Extractor struct {
	fetcher collector.Fetcher
	cfg     Config
	logger  *zap.Logger
}

// New builds a web Extractor. Zero config fields take their defaults; a
// negative DetailDelay disables the pause between detail pages.
func New(fetcher collector.Fetcher, cfg Config, logger *zap.Logger) *Extractor {
	def := DefaultConfig()
	if cfg.MinArticleChars <= 0 {
		cfg.MinArticleChars = def.MinArticleChars
	}
	if cfg.MinDetailChars <= 0 {
		cfg.MinDetailChars = def.MinDetailChars
	}
	if cfg.MaxLinks <= 0 {
		cfg.MaxLinks = def.MaxLinks
	}
	if cfg.DetailDelay == 0 {
		cfg.DetailDelay = def.DetailDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{fetcher: fetcher, cfg: cfg, logger: logger.Named("web")}
}

// Extract returns the page itself when it reads as an article, otherwise the
// articles linked from it.
func (e *Extractor) Extract(ctx context.Context, pageURL string) ([]collector.Item, error) {
	doc, err := e.load(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	article := extract.Article(doc)
	if utf8.RuneCountInString(article.Body) > e.cfg.MinArticleChars {
		return []collector.Item{article}, nil
	}

	links := ArticleLinks(doc)
	if len(links) > e.cfg.MaxLinks {
		links = links[:e.cfg.MaxLinks]
	}

	items := make([]collector.Item, 0, len(links))
	for i, link := range links {
		if i > 0 && e.cfg.DetailDelay > 0 {
			if err := retry.Sleep(ctx, e.cfg.DetailDelay); err != nil {
				return items, fmt.Errorf("extract listing: %w", err)
			}
		}
		detail, err := e.load(ctx, link)
		if err != nil {
			if ctx.Err() != nil {
				return items, fmt.Errorf("extract listing: %w", ctx.Err())
			}
			e.logger.Debug("detail page skipped", zap.String("url", link), zap.Error(err))
			continue
		}
		item := extract.Article(detail)
		if utf8.RuneCountInString(item.Body) > e.cfg.MinDetailChars {
			items = append(items, item)
		}
	}
	return items, nil
}

func (e *Extractor) load(ctx context.Context, rawURL string) (*extract.Document, error) {
	page, err := e.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	if extract.LooksClientRendered(page.Body) {
		collector.RenderFlagFrom(ctx).Mark()
		e.logger.Info("page looks client-rendered", zap.String("url", rawURL))
	}
	base := rawURL
	if page.URL != "" {
		base = page.URL
	}
	doc, err := extract.Parse(page.Body, base)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", collector.ErrParse, err)
	}
	return doc, nil
}

// ArticleLinks returns the same-host article links found on doc, in
// discovery order and without duplicates.
func ArticleLinks(doc *extract.Document) []string {
	var (
		links []string
		seen  = make(map[string]struct{})
	)
	for _, selector := range LinkSelectors {
		doc.Root.Find(selector).Each(func(_ int, s *goquery.Selection) {
			abs, ok := resolveLink(doc.URL, s.AttrOr("href", ""))
			if !ok {
				return
			}
			if _, dup := seen[abs]; dup {
				return
			}
			seen[abs] = struct{}{}
			links = append(links, abs)
		})
	}
	return links
}

func resolveLink(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" ||
		strings.HasPrefix(href, "#") ||
		strings.HasPrefix(href, "mailto:") ||
		strings.HasPrefix(href, "javascript:") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Hostname() != base.Hostname() {
		return "", false
	}
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	return abs.String(), true
}
