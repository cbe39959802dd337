package web

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/content-collector/internal/collector"
	"github.com/JakeFAU/content-collector/internal/extract"
)

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) (collector.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, rawURL)
	body, ok := f.pages[rawURL]
	if !ok {
		return collector.Page{}, fmt.Errorf("%w: %s: status 404", collector.ErrFetch, rawURL)
	}
	return collector.Page{URL: rawURL, StatusCode: 200, Body: []byte(body)}, nil
}

func (f *fakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

const site = "https://site.example.com"

var paragraph = "<p>" + strings.Repeat("Wholesale prices edged higher in the latest survey. ", 5) + "</p>"

func articlePage(title string) string {
	return `<html><body><article><h1>` + title + `</h1>` + paragraph + `</article></body></html>`
}

// listingPage has a main container long enough to be taken as content but
// too short to pass as an article, so the link scan always runs.
func listingPage(links string) string {
	intro := "<p>" + strings.Repeat("Latest posts. ", 9) + "</p>"
	return `<html><body><nav>` + links + `</nav><main>` + intro + `</main></body></html>`
}

func TestExtractSingleArticle(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string]string{site + "/post": articlePage("Standalone")}}
	ext := New(fetcher, Config{}, nil)

	items, err := ext.Extract(context.Background(), site+"/post")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "Standalone", items[0].Title)
	require.Equal(t, site+"/post", items[0].URL)
	require.Equal(t, []string{site + "/post"}, fetcher.Calls())
}

func TestExtractListingFollowsSameHostLinks(t *testing.T) {
	t.Parallel()

	links := `
		<h2><a href="#top">top</a></h2>
		<h3><a href="mailto:editor@site.example.com">mail</a></h3>
		<h3><a href="javascript:void(0)">js</a></h3>
		<a href="/blog/a">A</a>
		<a href="https://other.example.com/blog/x">external</a>
		<a href="/blog/a">A again</a>
		<a href="./blog/b">B</a>
		<a href="/blog/thin">thin</a>
		<a href="/blog/gone">gone</a>`
	fetcher := &fakeFetcher{pages: map[string]string{
		site + "/":          listingPage(links),
		site + "/blog/a":    articlePage("Post A"),
		site + "/blog/b":    articlePage("Post B"),
		site + "/blog/thin": `<html><body><p>x</p></body></html>`,
	}}
	ext := New(fetcher, Config{DetailDelay: -1}, nil)

	items, err := ext.Extract(context.Background(), site+"/")
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "Post A", items[0].Title)
	require.Equal(t, site+"/blog/a", items[0].URL)
	require.Equal(t, "Post B", items[1].Title)

	require.Equal(t, []string{
		site + "/",
		site + "/blog/a",
		site + "/blog/b",
		site + "/blog/thin",
		site + "/blog/gone",
	}, fetcher.Calls())
}

func TestExtractListingCapsLinks(t *testing.T) {
	t.Parallel()

	var links strings.Builder
	pages := map[string]string{}
	for i := range 15 {
		path := fmt.Sprintf("/news/%d", i)
		fmt.Fprintf(&links, `<a href="%s">%d</a>`, path, i)
		pages[site+path] = articlePage(fmt.Sprintf("News %d", i))
	}
	pages[site+"/"] = listingPage(links.String())
	fetcher := &fakeFetcher{pages: pages}

	items, err := New(fetcher, Config{DetailDelay: -1}, nil).Extract(context.Background(), site+"/")
	require.NoError(t, err)
	require.Len(t, items, 10)
	require.Len(t, fetcher.Calls(), 11)

	fetcher = &fakeFetcher{pages: pages}
	items, err = New(fetcher, Config{DetailDelay: -1, MaxLinks: 2}, nil).Extract(context.Background(), site+"/")
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "News 0", items[0].Title)
}

func TestExtractListingDelaysBetweenDetails(t *testing.T) {
	t.Parallel()

	links := `<a href="/post/1">1</a><a href="/post/2">2</a><a href="/post/3">3</a>`
	fetcher := &fakeFetcher{pages: map[string]string{
		site + "/":       listingPage(links),
		site + "/post/1": articlePage("1"),
		site + "/post/2": articlePage("2"),
		site + "/post/3": articlePage("3"),
	}}
	ext := New(fetcher, Config{DetailDelay: 20 * time.Millisecond}, nil)

	start := time.Now()
	items, err := ext.Extract(context.Background(), site+"/")
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestExtractListingStopsWhenContextEnds(t *testing.T) {
	t.Parallel()

	links := `<a href="/post/1">1</a><a href="/post/2">2</a>`
	fetcher := &fakeFetcher{pages: map[string]string{
		site + "/":       listingPage(links),
		site + "/post/1": articlePage("1"),
		site + "/post/2": articlePage("2"),
	}}
	ext := New(fetcher, Config{DetailDelay: time.Hour}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	items, err := ext.Extract(ctx, site+"/")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Len(t, items, 1)
}

func TestExtractPageFetchFailure(t *testing.T) {
	t.Parallel()

	_, err := New(&fakeFetcher{}, Config{}, nil).Extract(context.Background(), site+"/missing")
	require.ErrorIs(t, err, collector.ErrFetch)
}

func TestExtractMarksClientRenderedPages(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string]string{
		site + "/app": `<html><body><div id="__next"></div></body></html>`,
	}}
	flag := &collector.RenderFlag{}
	ctx := collector.WithRenderFlag(context.Background(), flag)

	items, err := New(fetcher, Config{}, nil).Extract(ctx, site+"/app")
	require.NoError(t, err)
	require.Empty(t, items)
	require.True(t, flag.Seen())
}

func TestArticleLinksResolvesRelative(t *testing.T) {
	t.Parallel()

	doc, err := extract.Parse([]byte(`<html><body>
		<article><a href="../other/">up</a><a href="//site.example.com/blog/abs">abs</a></article>
		<a href="ftp://site.example.com/blog/file">ftp</a>
	</body></html>`), site+"/section/page")
	require.NoError(t, err)

	require.Equal(t, []string{
		site + "/other/",
		site + "/blog/abs",
	}, ArticleLinks(doc))
}
