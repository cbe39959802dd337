package collector

import (
	"net/http"
	"strings"
	"time"
)

// SourceKind is the declared type of a source.
type SourceKind string

// Source kinds accepted from the recommendation layer.
const (
	KindRSS     SourceKind = "rss"
	KindAtom    SourceKind = "atom"
	KindFeed    SourceKind = "feed"
	KindBlog    SourceKind = "blog"
	KindNews    SourceKind = "news"
	KindWebsite SourceKind = "website"
)

// ParseSourceKind maps free-form input onto a known kind. Unknown values are
// treated as generic websites.
func ParseSourceKind(raw string) SourceKind {
	switch k := SourceKind(strings.ToLower(strings.TrimSpace(raw))); k {
	case KindRSS, KindAtom, KindFeed, KindBlog, KindNews, KindWebsite:
		return k
	default:
		return KindWebsite
	}
}

// IsFeed reports whether the kind declares a syndication format.
func (k SourceKind) IsFeed() bool {
	switch k {
	case KindRSS, KindAtom, KindFeed:
		return true
	default:
		return false
	}
}

// CollectionStatus is the last observed verdict for a source.
type CollectionStatus string

// Collection statuses persisted per source.
const (
	StatusUnknown CollectionStatus = "unknown"
	StatusSuccess CollectionStatus = "success"
	StatusSlow    CollectionStatus = "slow"
	StatusFailed  CollectionStatus = "failed"
)

// Source is a named endpoint configured for a task.
type Source struct {
	ID        string           `json:"id" yaml:"id"`
	TaskID    string           `json:"task_id" yaml:"-"`
	Name      string           `json:"name" yaml:"name"`
	URL       string           `json:"url" yaml:"url"`
	Kind      SourceKind       `json:"kind" yaml:"kind"`
	Selected  bool             `json:"selected" yaml:"selected"`
	Status    CollectionStatus `json:"collection_status" yaml:"-"`
	LastError *string          `json:"last_collection_error,omitempty" yaml:"-"`
}

// Item is a single piece of content produced by an extractor.
type Item struct {
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	Summary     string     `json:"summary"`
	URL         string     `json:"url"`
	ImageURL    string     `json:"image_url,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	SourceID    string     `json:"source_id,omitempty"`
	SourceName  string     `json:"source_name,omitempty"`
}

// Page is the raw result of one successful fetch.
type Page struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	Elapsed    time.Duration
}

// Outcome is the result of one source job after classification.
type Outcome struct {
	Source         Source
	Items          []Item
	Status         CollectionStatus
	Err            error
	Elapsed        time.Duration
	ClientRendered bool
}

// ErrorText returns the persisted error text, or nil when the job had none.
// Empty results carry ErrNoItems so the source record explains the failure.
func (o Outcome) ErrorText() *string {
	if o.Err == nil {
		return nil
	}
	msg := o.Err.Error()
	return &msg
}
