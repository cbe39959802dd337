// Package collyfetcher implements collector.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/content-collector/internal/collector"
	"github.com/JakeFAU/content-collector/internal/metrics"
	"github.com/JakeFAU/content-collector/internal/policy/retry"
)

// Browser-like defaults; many sites reject obvious bots outright.
const (
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	DefaultAccept         = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	DefaultAcceptLanguage = "zh-CN,zh;q=0.9,en;q=0.8"

	defaultTimeout      = 20 * time.Second
	defaultMaxRedirects = 5
)

// Config controls collector behavior.
type Config struct {
	UserAgent      string
	Accept         string
	AcceptLanguage string
	RespectRobots  bool
	Timeout        time.Duration
	MaxRedirects   int
}

// RetryPolicy decides whether and when to try a failed fetch again.
type RetryPolicy interface {
	MaxAttempts() int
	ShouldRetry(err error, attempt int) bool
	Wait(ctx context.Context, attempt int) error
}

// Pacer delays requests per host.
type Pacer interface {
	Wait(ctx context.Context, rawURL string) error
}

// Fetcher implements collector.Fetcher using the Colly collector.
type Fetcher struct {
	cfg       Config
	transport http.RoundTripper
	retry     RetryPolicy
	pacer     Pacer
	logger    *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. A nil policy uses retry defaults; a nil pacer never waits.
func New(cfg Config, policy RetryPolicy, pacer Pacer, logger *zap.Logger) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Accept == "" {
		cfg.Accept = DefaultAccept
	}
	if cfg.AcceptLanguage == "" {
		cfg.AcceptLanguage = DefaultAcceptLanguage
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = defaultMaxRedirects
	}
	if policy == nil {
		policy = retry.NewExponentialPolicy(retry.Config{})
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var transport http.RoundTripper = newHTTPTransport()
	if cfg.RespectRobots {
		transport = &robotsAwareTransport{base: transport}
	}

	return &Fetcher{
		cfg:       cfg,
		transport: transport,
		retry:     policy,
		pacer:     pacer,
		logger:    logger,
	}
}

// Fetch downloads rawURL, retrying failures up to the policy's bound. The
// returned error wraps collector.ErrFetch and the last underlying cause.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (collector.Page, error) {
	var lastErr error
	attempt := 1
	for ; ; attempt++ {
		if f.pacer != nil {
			if err := f.pacer.Wait(ctx, rawURL); err != nil {
				lastErr = err
				break
			}
		}
		page, err := f.fetchOnce(ctx, rawURL)
		if err == nil {
			metrics.ObserveFetch(rawURL, "ok", len(page.Body))
			return page, nil
		}
		lastErr = err
		metrics.ObserveFetch(rawURL, "error", 0)
		if errors.Is(err, colly.ErrRobotsTxtBlocked) || !f.retry.ShouldRetry(err, attempt) {
			break
		}
		f.logger.Debug("fetch attempt failed, retrying",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		metrics.ObserveFetchRetry(rawURL)
		if err := f.retry.Wait(ctx, attempt); err != nil {
			lastErr = err
			break
		}
	}
	return collector.Page{}, fmt.Errorf("%w: %s: attempt %d/%d: %w",
		collector.ErrFetch, rawURL, attempt, f.retry.MaxAttempts(), lastErr)
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) (collector.Page, error) {
	var (
		result   collector.Page
		fetchErr error
	)
	start := time.Now()
	c := f.buildCollector(ctx, start, &result, &fetchErr)
	if err := f.runCollector(ctx, c, rawURL, &fetchErr); err != nil {
		return collector.Page{}, err
	}
	if result.StatusCode == 0 {
		return collector.Page{}, errors.New("no response received")
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	ctx context.Context,
	start time.Time,
	result *collector.Page,
	fetchErr *error,
) *colly.Collector {
	c := colly.NewCollector(
		colly.StdlibContext(ctx),
		colly.AllowURLRevisit(),
		colly.UserAgent(f.cfg.UserAgent),
	)
	c.IgnoreRobotsTxt = !f.cfg.RespectRobots
	c.WithTransport(f.transport)
	c.SetRequestTimeout(f.cfg.Timeout)
	c.SetRedirectHandler(redirectLimit(f.cfg.MaxRedirects))
	f.configureCollectorHooks(c, start, result, fetchErr)
	return c
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *collector.Page,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.setHeaders(r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		finalURL := ""
		if r.Request != nil && r.Request.URL != nil {
			finalURL = r.Request.URL.String()
		}
		var header http.Header
		if r.Headers != nil {
			header = r.Headers.Clone()
		}
		*result = collector.Page{
			URL:        finalURL,
			StatusCode: r.StatusCode,
			Header:     header,
			Body:       append([]byte(nil), r.Body...),
			Elapsed:    time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, c *colly.Collector, rawURL string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- c.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func (f *Fetcher) setHeaders(r *colly.Request) {
	if r.Headers == nil {
		return
	}
	r.Headers.Set("User-Agent", f.cfg.UserAgent)
	r.Headers.Set("Accept", f.cfg.Accept)
	r.Headers.Set("Accept-Language", f.cfg.AcceptLanguage)
}

func redirectLimit(limit int) func(*http.Request, []*http.Request) error {
	return func(_ *http.Request, via []*http.Request) error {
		if len(via) > limit {
			return fmt.Errorf("stopped after %d redirects", limit)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
