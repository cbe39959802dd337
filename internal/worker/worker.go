// Package worker runs one source job: extraction raced against the source
// budget, followed by classification.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/content-collector/internal/clock/system"
	"github.com/JakeFAU/content-collector/internal/collector"
	"github.com/JakeFAU/content-collector/internal/metrics"
	"github.com/JakeFAU/content-collector/internal/progress"
)

const tracerName = "github.com/JakeFAU/content-collector/internal/worker"

// Selector picks the extractor for a source.
type Selector interface {
	Select(kind collector.SourceKind, rawURL string) collector.Extractor
}

// Runner executes source jobs. It holds no per-run state and is safe for
// concurrent use.
type Runner struct {
	selector   Selector
	clock      collector.Clock
	hub        progress.Emitter
	thresholds collector.Thresholds
	tracer     trace.Tracer
	logger     *zap.Logger
}

// New constructs a Runner. A nil clock falls back to the system clock and a
// nil emitter disables telemetry.
func New(
	selector Selector,
	clock collector.Clock,
	hub progress.Emitter,
	thresholds collector.Thresholds,
	logger *zap.Logger,
) *Runner {
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := collector.DefaultThresholds()
	if thresholds.Timeout <= 0 {
		thresholds.Timeout = defaults.Timeout
	}
	if thresholds.Slow <= 0 {
		thresholds.Slow = defaults.Slow
	}
	return &Runner{
		selector:   selector,
		clock:      clock,
		hub:        hub,
		thresholds: thresholds,
		tracer:     otel.Tracer(tracerName),
		logger:     logger.Named("worker"),
	}
}

type result struct {
	items []collector.Item
	err   error
}

// Run collects one source. It always returns an Outcome; failures are carried
// in Outcome.Err and reflected in Outcome.Status.
func (r *Runner) Run(ctx context.Context, src collector.Source) collector.Outcome {
	ctx, span := r.tracer.Start(ctx, "collect.source", trace.WithAttributes(
		attribute.String("source.id", src.ID),
		attribute.String("source.url", src.URL),
		attribute.String("source.kind", string(src.Kind)),
	))
	defer span.End()

	metrics.IncActiveJobs()
	defer metrics.DecActiveJobs()

	site := metrics.SanitizeSite(src.URL)
	runID, _ := progress.RunIDFrom(ctx)
	start := r.clock.Now()
	r.emit(progress.Event{
		RunID:      runID,
		TS:         start,
		Stage:      progress.StageSourceStart,
		SourceID:   src.ID,
		SourceName: src.Name,
		Site:       site,
	})

	flag := &collector.RenderFlag{}
	items, err := r.extract(collector.WithRenderFlag(ctx, flag), src)
	end := r.clock.Now()

	outcome := collector.Outcome{
		Source:         src,
		Elapsed:        end.Sub(start),
		ClientRendered: flag.Seen(),
	}
	if err == nil {
		outcome.Items = stampItems(src, items, r.logger)
		if len(outcome.Items) == 0 {
			err = collector.ErrNoItems
		}
	}
	outcome.Err = err
	outcome.Status = collector.Classify(len(outcome.Items), outcome.Elapsed, err, r.thresholds)

	if outcome.ClientRendered {
		metrics.ObserveClientRendered(site)
		r.logger.Info("source looks client-rendered",
			zap.String("source_id", src.ID),
			zap.String("url", src.URL))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(
		attribute.String("collection.status", string(outcome.Status)),
		attribute.Int("collection.items", len(outcome.Items)),
	)

	note := ""
	if text := outcome.ErrorText(); text != nil {
		note = *text
	}
	r.emit(progress.Event{
		RunID:      runID,
		TS:         end,
		Stage:      progress.StageSourceDone,
		SourceID:   src.ID,
		SourceName: src.Name,
		Site:       site,
		Items:      int64(len(outcome.Items)),
		Status:     string(outcome.Status),
		Dur:        max(outcome.Elapsed, 0),
		Note:       note,
	})
	return outcome
}

// extract races the extractor against the source budget. The extractor writes
// to a one-slot channel, so a result arriving after the deadline is dropped
// without blocking the goroutine.
func (r *Runner) extract(ctx context.Context, src collector.Source) ([]collector.Item, error) {
	if r.selector == nil {
		return nil, errors.New("no extractor selector configured")
	}
	extractor := r.selector.Select(src.Kind, src.URL)
	if extractor == nil {
		return nil, fmt.Errorf("no extractor for %s", src.URL)
	}

	jobCtx, cancel := context.WithTimeout(ctx, r.thresholds.Timeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("extractor panicked",
					zap.String("source_id", src.ID),
					zap.Any("panic", p))
				done <- result{err: fmt.Errorf("extractor panic: %v", p)}
			}
		}()
		items, err := extractor.Extract(jobCtx, src.URL)
		done <- result{items: items, err: err}
	}()

	select {
	case res := <-done:
		return res.items, res.err
	case <-jobCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("source canceled: %w", err)
		}
		return nil, fmt.Errorf("%w after %s", collector.ErrTimeout, r.thresholds.Timeout)
	}
}

// stampItems drops items without a usable URL and stamps the producing
// source on the rest.
func stampItems(src collector.Source, items []collector.Item, logger *zap.Logger) []collector.Item {
	out := make([]collector.Item, 0, len(items))
	for _, item := range items {
		if !collector.ValidItemURL(item.URL) {
			logger.Debug("dropping item with invalid url",
				zap.String("source_id", src.ID),
				zap.String("url", item.URL))
			continue
		}
		item.SourceID = src.ID
		item.SourceName = src.Name
		out = append(out, item)
	}
	return out
}

func (r *Runner) emit(evt progress.Event) {
	if r.hub == nil || evt.RunID == [16]byte{} {
		return
	}
	evt.TS = evt.TS.UTC()
	r.hub.Emit(evt)
}

// Timeout reports the per-source budget in effect.
func (r *Runner) Timeout() time.Duration {
	return r.thresholds.Timeout
}
