// Package sinks implements telemetry consumers for the progress Hub: a zap
// logger, Prometheus collectors and the run history repository. Each sink
// satisfies progress.Sink and tolerates repeated Consume/Close cycles.
package sinks
