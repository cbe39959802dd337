// Package progress carries two kinds of progress. Stream is the lossless,
// ordered channel of client-facing messages for one collection run. Hub is
// the batched, non-blocking telemetry bus that fans run and source events out
// to sinks such as logs, Prometheus and the run history store.
package progress
