package extract

import (
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// MinContentHTML is the length a candidate container must exceed, after
// boilerplate removal, to count as the page's content.
const MinContentHTML = 100

// Selector lists, in probe order.
var (
	TitleSelectors = []string{
		"article h1",
		".post-title",
		".entry-title",
		".article-title",
		"h1.title",
		`[role="article"] h1`,
		"main h1",
		"h1",
	}

	ContentSelectors = []string{
		"article",
		`[role="article"]`,
		".post-content",
		".entry-content",
		".article-content",
		".content",
		"main",
	}

	DateSelectors = []string{
		"time[datetime]",
		`[itemprop="datePublished"]`,
		".post-date",
		".entry-date",
		".publish-date",
		".date",
	}

	ImageSelectors = []string{
		"article img",
		".post-content img",
		".entry-content img",
		`meta[property="og:image"]`,
	}

	containerNoise = "script, style, nav, header, footer, aside, .comments, .share"
	bodyNoise      = "script, style, nav, header, footer, aside"
)

// Probe lists used by the exported heuristics.
var (
	TitleProbes   = titleProbes()
	ContentProbes = contentProbes()
	DateProbes    = dateProbes()
	ImageProbes   = imageProbes()
)

// Title returns the page headline, or "" when nothing matched.
func Title(doc *Document) string {
	v, _ := First(doc, TitleProbes...)
	return v
}

// Content returns the main content HTML. It never mutates doc.
func Content(doc *Document) string {
	v, _ := First(doc, ContentProbes...)
	return v
}

// PublishedAt returns the first parseable publication date.
func PublishedAt(doc *Document) *time.Time {
	v, ok := First(doc, DateProbes...)
	if !ok {
		return nil
	}
	return &v
}

// Image returns an absolute URL for the lead image, or "".
func Image(doc *Document) string {
	v, _ := First(doc, ImageProbes...)
	return v
}

func titleProbes() []Probe[string] {
	probes := make([]Probe[string], 0, len(TitleSelectors)+2)
	for _, sel := range TitleSelectors {
		probes = append(probes, textProbe(sel))
	}
	probes = append(probes, textProbe("title"), func(doc *Document) (string, bool) {
		title := strings.TrimSpace(doc.readability().title)
		return title, title != ""
	})
	return probes
}

func textProbe(selector string) Probe[string] {
	return func(doc *Document) (string, bool) {
		text := strings.TrimSpace(doc.Root.Find(selector).First().Text())
		return text, text != ""
	}
}

func contentProbes() []Probe[string] {
	probes := make([]Probe[string], 0, len(ContentSelectors)+2)
	for _, sel := range ContentSelectors {
		probes = append(probes, containerProbe(sel))
	}
	probes = append(probes, func(doc *Document) (string, bool) {
		content := strings.TrimSpace(doc.readability().content)
		return content, len(content) > MinContentHTML
	}, bodyProbe)
	return probes
}

func containerProbe(selector string) Probe[string] {
	return func(doc *Document) (string, bool) {
		match := doc.Root.Find(selector).First()
		if match.Length() == 0 {
			return "", false
		}
		html := strippedHTML(match, containerNoise)
		return html, len(html) > MinContentHTML
	}
}

func bodyProbe(doc *Document) (string, bool) {
	body := doc.Root.Find("body").First()
	if body.Length() == 0 {
		return "", false
	}
	html := strippedHTML(body, bodyNoise)
	return html, html != ""
}

func strippedHTML(sel *goquery.Selection, noise string) string {
	clone := sel.Clone()
	clone.Find(noise).Remove()
	html, err := clone.Html()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(html)
}

func dateProbes() []Probe[time.Time] {
	probes := make([]Probe[time.Time], 0, len(DateSelectors))
	for _, sel := range DateSelectors {
		probes = append(probes, dateProbe(sel))
	}
	return probes
}

func dateProbe(selector string) Probe[time.Time] {
	return func(doc *Document) (time.Time, bool) {
		var (
			found time.Time
			ok    bool
		)
		doc.Root.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			raw := s.AttrOr("datetime", "")
			if raw == "" {
				raw = s.AttrOr("content", "")
			}
			if raw == "" {
				raw = s.Text()
			}
			found, ok = ParseDate(raw)
			return !ok
		})
		return found, ok
	}
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
	"2006.01.02",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC850,
	time.RFC822Z,
	time.RFC822,
	time.UnixDate,
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 MST",
	"January 2, 2006 3:04 PM",
	"Jan 2, 2006 3:04 PM",
	"January 2, 2006 15:04",
	"Monday, January 2, 2006",
	"Mon, Jan 2, 2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"Jan. 2, 2006",
	"January 2 2006",
	"Jan 2 2006",
	"2 January 2006",
	"2 Jan 2006",
	"2 January, 2006",
	"01/02/2006",
	"2006年1月2日",
	"2006年01月02日",
}

var (
	dateLabel   = regexp.MustCompile(`(?i)^(?:(?:last\s+)?(?:published|posted|updated|modified|date)(?:\s+on)?|on)\s*:?\s+`)
	dateOrdinal = regexp.MustCompile(`(\d)(?:st|nd|rd|th)\b`)
)

// ParseDate parses the date formats commonly found in article markup. A
// leading label such as "Published" or "Posted on" and ordinal suffixes
// ("3rd") are ignored.
func ParseDate(raw string) (time.Time, bool) {
	raw = strings.Join(strings.Fields(raw), " ")
	if raw == "" {
		return time.Time{}, false
	}
	candidates := []string{raw}
	if cleaned := dateOrdinal.ReplaceAllString(dateLabel.ReplaceAllString(raw, ""), "$1"); cleaned != raw {
		candidates = append(candidates, cleaned)
	}
	for _, candidate := range candidates {
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, candidate); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func imageProbes() []Probe[string] {
	probes := make([]Probe[string], 0, len(ImageSelectors))
	for _, sel := range ImageSelectors {
		probes = append(probes, imageProbe(sel))
	}
	return probes
}

func imageProbe(selector string) Probe[string] {
	return func(doc *Document) (string, bool) {
		match := doc.Root.Find(selector).First()
		if match.Length() == 0 {
			return "", false
		}
		src := match.AttrOr("src", "")
		if src == "" {
			src = match.AttrOr("content", "")
		}
		abs := ResolveImage(doc.URL.String(), src)
		return abs, abs != ""
	}
}
