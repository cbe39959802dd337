// Package collector defines the domain model shared by the collection
// pipeline: sources, extracted items, per-source outcomes, and the small
// interfaces the fetcher, extractors, and orchestrator are wired through.
package collector
