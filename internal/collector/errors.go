package collector

import "errors"

// Error taxonomy for a single source. Callers match with errors.Is.
var (
	// ErrFetch wraps network, DNS, and non-2xx failures after retries.
	ErrFetch = errors.New("fetch failed")
	// ErrTimeout is synthesized when a source exceeds its time budget.
	ErrTimeout = errors.New("source timed out")
	// ErrParse marks a feed or document that could not be parsed.
	ErrParse = errors.New("parse failed")
	// ErrNoItems marks an extraction that finished cleanly with nothing to show.
	ErrNoItems = errors.New("no items extracted")
)
