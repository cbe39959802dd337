package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/content-collector/internal/progress"
)

// PrometheusSink exports run and source metrics derived from telemetry.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	sources        *prometheus.CounterVec
	sourceDuration *prometheus.HistogramVec
	sourceItems    *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "collector_runs_started_total",
			Help: "Total collection runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_runs_completed_total",
			Help: "Total collection runs completed partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "collector_runs_running",
			Help: "Current number of running collection runs.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "collector_run_duration_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{1, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"result"}),
		sources: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_sources_total",
			Help: "Source jobs finished partitioned by collection status.",
		}, []string{"status"}),
		sourceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "collector_source_duration_seconds",
			Help:    "Source job duration partitioned by collection status.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30},
		}, []string{"status"}),
		sourceItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_source_items_total",
			Help: "Items extracted per site.",
		}, []string{"site"}),
		tracker: newRunTracker(),
	}
	for _, c := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runDuration,
		s.sources,
		s.sourceDuration,
		s.sourceItems,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register telemetry collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
			s.handleRunEvent(evt)
		case progress.StageSourceDone:
			s.handleSourceEvent(evt)
		}
	}
	return nil
}

func (s *PrometheusSink) handleRunEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
		return
	case progress.StageRunDone:
		s.observeRun(evt, "success")
	case progress.StageRunError:
		s.observeRun(evt, "error")
	}
	if s.tracker.complete(evt.RunID) {
		s.runsRunning.Dec()
	}
}

func (s *PrometheusSink) observeRun(evt progress.Event, result string) {
	s.runsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleSourceEvent(evt progress.Event) {
	site := evt.Site
	if site == "" {
		site = "unknown"
	}
	s.sources.WithLabelValues(evt.Status).Inc()
	if evt.Dur > 0 {
		s.sourceDuration.WithLabelValues(evt.Status).Observe(evt.Dur.Seconds())
	}
	if evt.Items > 0 {
		s.sourceItems.WithLabelValues(site).Add(float64(evt.Items))
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
