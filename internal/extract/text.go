package extract

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// DefaultSummaryRunes is the summary length used by Article.
const DefaultSummaryRunes = 300

const ellipsis = "..."

// PlainText strips markup from an HTML fragment and collapses whitespace.
func PlainText(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return collapse(html)
	}
	doc.Find("script, style").Remove()
	return collapse(doc.Text())
}

// Summarize returns at most n runes of the fragment's plain text, followed by
// an ellipsis when it was cut.
func Summarize(html string, n int) string {
	return Truncate(PlainText(html), n)
}

// Truncate cuts s to n runes and appends an ellipsis when it was cut.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n])) + ellipsis
}

// Cap cuts s to n runes without any marker.
func Cap(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ResolveImage turns an image reference into an absolute URL. Protocol
// relative references are forced to https.
func ResolveImage(pageURL, src string) string {
	src = strings.TrimSpace(src)
	switch {
	case src == "", strings.HasPrefix(src, "data:"):
		return ""
	case strings.HasPrefix(src, "//"):
		return "https:" + src
	}
	ref, err := url.Parse(src)
	if err != nil {
		return ""
	}
	if ref.IsAbs() {
		return ref.String()
	}
	base, err := url.Parse(pageURL)
	if err != nil || !base.IsAbs() {
		return ""
	}
	return base.ResolveReference(ref).String()
}

// FirstImage returns the first <img src> in an HTML fragment.
func FirstImage(pageURL, html string) string {
	if !strings.Contains(html, "<img") {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	src, _ := doc.Find("img[src]").First().Attr("src")
	return ResolveImage(pageURL, src)
}
