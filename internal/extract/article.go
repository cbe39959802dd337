package extract

import (
	"github.com/JakeFAU/content-collector/internal/collector"
)

// Article combines the heuristics into a single item for the document's URL.
func Article(doc *Document) collector.Item {
	body := Content(doc)
	return collector.Item{
		Title:       Title(doc),
		Body:        body,
		Summary:     Summarize(body, DefaultSummaryRunes),
		URL:         doc.URL.String(),
		ImageURL:    Image(doc),
		PublishedAt: PublishedAt(doc),
	}
}
