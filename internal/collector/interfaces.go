package collector

import (
	"context"
	"sync/atomic"
	"time"
)

// Fetcher downloads one URL, retrying internally.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (Page, error)
}

// Extractor turns one source URL into zero or more items. Implementations
// hold no run-scoped state and may be shared across concurrent jobs.
type Extractor interface {
	Extract(ctx context.Context, sourceURL string) ([]Item, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces identifiers for runs and persisted items.
type IDGenerator interface {
	NewID() (string, error)
}

type runStartKey struct{}

// WithRunStart records the wall-clock start of a run on ctx so extractors
// apply their recency windows against one shared instant.
func WithRunStart(ctx context.Context, at time.Time) context.Context {
	return context.WithValue(ctx, runStartKey{}, at)
}

// RunStart returns the run start stored on ctx.
func RunStart(ctx context.Context) (time.Time, bool) {
	at, ok := ctx.Value(runStartKey{}).(time.Time)
	return at, ok && !at.IsZero()
}

type clientRenderedKey struct{}

// RenderFlag collects whether any page fetched during a job looked
// client-rendered. It is written by extractors and read by the job runner.
type RenderFlag struct {
	seen atomic.Bool
}

// Mark records a client-rendered page.
func (f *RenderFlag) Mark() {
	if f != nil {
		f.seen.Store(true)
	}
}

// Seen reports whether Mark was called.
func (f *RenderFlag) Seen() bool {
	return f != nil && f.seen.Load()
}

// WithRenderFlag attaches a flag to ctx for one job.
func WithRenderFlag(ctx context.Context, flag *RenderFlag) context.Context {
	return context.WithValue(ctx, clientRenderedKey{}, flag)
}

// RenderFlagFrom returns the job's flag, or nil.
func RenderFlagFrom(ctx context.Context) *RenderFlag {
	flag, _ := ctx.Value(clientRenderedKey{}).(*RenderFlag)
	return flag
}
