// Package orchestrator runs one collection for a task: it fans selected
// sources out to bounded concurrent jobs, folds their outcomes on a single
// coordinator goroutine, and persists the deduplicated result.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/content-collector/internal/archive"
	"github.com/JakeFAU/content-collector/internal/clock/system"
	"github.com/JakeFAU/content-collector/internal/collector"
	idgen "github.com/JakeFAU/content-collector/internal/id/uuid"
	"github.com/JakeFAU/content-collector/internal/progress"
	"github.com/JakeFAU/content-collector/internal/publisher"
	"github.com/JakeFAU/content-collector/internal/store"
)

const tracerName = "github.com/JakeFAU/content-collector/internal/orchestrator"

// Config tunes a run.
type Config struct {
	// Concurrency bounds simultaneously running source jobs.
	Concurrency int
	// MaxBodyChars caps persisted bodies, counted in runes.
	MaxBodyChars int
	// SummaryChars is the length of summaries derived from bodies.
	SummaryChars int
	// PreviewChars is the summary length shown in item messages.
	PreviewChars int
	// StatusWriteTimeout bounds status writes made after cancellation.
	StatusWriteTimeout time.Duration
	// TerminalSendTimeout bounds delivery of the final error message.
	TerminalSendTimeout time.Duration
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		Concurrency:         3,
		MaxBodyChars:        50000,
		SummaryChars:        200,
		PreviewChars:        100,
		StatusWriteTimeout:  5 * time.Second,
		TerminalSendTimeout: 5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.MaxBodyChars <= 0 {
		c.MaxBodyChars = d.MaxBodyChars
	}
	if c.SummaryChars <= 0 {
		c.SummaryChars = d.SummaryChars
	}
	if c.PreviewChars <= 0 {
		c.PreviewChars = d.PreviewChars
	}
	if c.StatusWriteTimeout <= 0 {
		c.StatusWriteTimeout = d.StatusWriteTimeout
	}
	if c.TerminalSendTimeout <= 0 {
		c.TerminalSendTimeout = d.TerminalSendTimeout
	}
	return c
}

// JobRunner executes one source job.
type JobRunner interface {
	Run(ctx context.Context, src collector.Source) collector.Outcome
}

// IDs issues run and item identifiers.
type IDs interface {
	NewID() (string, error)
	NewRunID() (uuid.UUID, error)
}

// Archiver stores a snapshot of a finished run.
type Archiver interface {
	Write(ctx context.Context, snap archive.Snapshot) (archive.Ref, error)
}

// Request names the task and its candidate sources. Only selected sources
// are collected.
type Request struct {
	TaskID  string
	Sources []collector.Source
}

// Result summarizes a finished run.
type Result struct {
	RunID      uuid.UUID
	Items      []store.ItemRecord
	Total      int // len(Items)
	Sources    progress.SourceCounts
	Outcomes   []collector.Outcome
	ArchiveURI string
	Checksum   string
}

// Orchestrator coordinates runs. It is safe for concurrent use; every run
// keeps its own state.
type Orchestrator struct {
	items     store.ItemRepository
	sources   store.SourceRepository
	runner    JobRunner
	cfg       Config
	ids       IDs
	clock     collector.Clock
	hub       progress.Emitter
	archiver  Archiver
	publisher publisher.Publisher
	tracer    trace.Tracer
	logger    *zap.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the wall clock.
func WithClock(clock collector.Clock) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

// WithIDs overrides identifier generation.
func WithIDs(ids IDs) Option {
	return func(o *Orchestrator) { o.ids = ids }
}

// WithHub attaches run telemetry.
func WithHub(hub progress.Emitter) Option {
	return func(o *Orchestrator) { o.hub = hub }
}

// WithArchiver enables run snapshots.
func WithArchiver(a Archiver) Option {
	return func(o *Orchestrator) { o.archiver = a }
}

// WithPublisher enables completion notifications.
func WithPublisher(p publisher.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// New constructs an Orchestrator.
func New(
	items store.ItemRepository,
	sources store.SourceRepository,
	runner JobRunner,
	cfg Config,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		items:   items,
		sources: sources,
		runner:  runner,
		cfg:     cfg.withDefaults(),
		ids:     idgen.New(),
		clock:   system.New(),
		tracer:  otel.Tracer(tracerName),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.Named("orchestrator")
	return o
}

// jobEvent is what jobs hand to the coordinator: a start notice or an
// outcome.
type jobEvent struct {
	index   int
	started bool
	outcome collector.Outcome
}

// Run collects req and reports progress through reporter, which is closed
// before Run returns. The stream always ends with a complete or an error
// message.
func (o *Orchestrator) Run(ctx context.Context, req Request, reporter progress.Reporter) (Result, error) {
	defer reporter.Close()

	runUUID, err := o.ids.NewRunID()
	if err != nil {
		runUUID = uuid.New()
	}
	runID := progress.UUIDToBytes(runUUID)
	start := o.clock.Now()
	ctx = collector.WithRunStart(ctx, start)
	ctx = progress.WithRunID(ctx, runID)
	ctx, span := o.tracer.Start(ctx, "collect.run", trace.WithAttributes(
		attribute.String("task.id", req.TaskID),
		attribute.String("run.id", runUUID.String()),
	))
	defer span.End()

	logger := o.logger.With(zap.String("task_id", req.TaskID), zap.Stringer("run_id", runUUID))
	r := &run{
		o:        o,
		ctx:      ctx,
		req:      req,
		reporter: reporter,
		runID:    runID,
		runUUID:  runUUID,
		start:    start,
		span:     span,
		logger:   logger,
	}
	o.emit(progress.Event{RunID: runID, TS: start, Stage: progress.StageRunStart, TaskID: req.TaskID})
	return r.execute()
}

// run carries the collaborators of one Run call.
type run struct {
	o        *Orchestrator
	ctx      context.Context
	req      Request
	reporter progress.Reporter
	runID    [16]byte
	runUUID  uuid.UUID
	start    time.Time
	span     trace.Span
	logger   *zap.Logger

	selected      []collector.Source
	state         *runState
	statusWritten bool
}

func (r *run) execute() (Result, error) {
	ctx := r.ctx
	r.send(progress.StageMessage(progress.StageInit, "Preparing collection"))

	for _, src := range r.req.Sources {
		if src.Selected {
			r.selected = append(r.selected, src)
		}
	}
	r.state = newRunState(r.o.cfg, len(r.selected))

	if err := ctx.Err(); err != nil {
		return r.fail("collection canceled", err)
	}
	removed, err := r.o.items.DeleteByTask(ctx, r.req.TaskID)
	if err != nil {
		return r.fail("failed to clear previous items", fmt.Errorf("delete previous items: %w", err))
	}
	r.logger.Debug("cleared previous items", zap.Int64("removed", removed))

	r.send(progress.StageMessage(progress.StageCollecting, "Collecting content"))
	r.send(progress.LogMessage(fmt.Sprintf("Collecting from %d sources", len(r.selected))))
	if err := r.collect(); err != nil {
		r.writeStatuses(true)
		return r.fail("collection canceled", err)
	}

	r.send(progress.StageMessage(progress.StageSaving, "Saving collected items"))
	if err := ctx.Err(); err != nil {
		r.writeStatuses(true)
		return r.fail("collection canceled", err)
	}
	records, err := r.records()
	if err != nil {
		r.writeStatuses(true)
		return r.fail("failed to prepare items", err)
	}
	if err := r.o.items.InsertBatch(ctx, r.req.TaskID, records); err != nil {
		r.writeStatuses(true)
		return r.fail("failed to save items", fmt.Errorf("insert items: %w", err))
	}
	r.writeStatuses(false)

	persisted, err := r.o.items.ListByTask(ctx, r.req.TaskID)
	if err != nil {
		return r.fail("failed to reload items", fmt.Errorf("reload items: %w", err))
	}
	if persisted == nil {
		persisted = []store.ItemRecord{}
	}

	res := Result{
		RunID:    r.runUUID,
		Items:    persisted,
		Total:    len(persisted),
		Sources:  r.state.counts(),
		Outcomes: r.state.outcomes,
	}
	r.afterPersist(&res)

	r.send(progress.ProgressMessage(100))
	r.send(progress.CompleteMessage(progress.CompleteData{
		Message: fmt.Sprintf("Collected %d items from %d sources", len(persisted), len(r.selected)),
		Items:   persisted,
		Total:   len(persisted),
		Sources: res.Sources,
	}))

	end := r.o.clock.Now()
	r.o.emit(progress.Event{
		RunID:  r.runID,
		TS:     end,
		Stage:  progress.StageRunDone,
		TaskID: r.req.TaskID,
		Items:  int64(len(records)),
		Dur:    max(end.Sub(r.start), 0),
	})
	r.span.SetAttributes(attribute.Int("collection.items", len(records)))
	r.logger.Info("collection finished",
		zap.Int("items", len(persisted)),
		zap.Int("sources", len(r.selected)),
		zap.Int("failed", res.Sources.Failed),
		zap.Duration("elapsed", end.Sub(r.start)))
	return res, nil
}

// collect fans jobs out and folds outcomes until every job reported or ctx
// ends. Only this goroutine touches r.state.
func (r *run) collect() error {
	n := len(r.selected)
	if n == 0 {
		return nil
	}
	jobCtx, cancelJobs := context.WithCancel(r.ctx)
	defer cancelJobs()

	// Two events per job fit, so jobs never block on an abandoned run.
	events := make(chan jobEvent, 2*n)
	g, gctx := errgroup.WithContext(jobCtx)
	g.SetLimit(r.o.cfg.Concurrency)
	go func() {
		for i, src := range r.selected {
			g.Go(func() error {
				if gctx.Err() != nil {
					return nil
				}
				events <- jobEvent{index: i, started: true}
				events <- jobEvent{index: i, outcome: r.o.runner.Run(gctx, src)}
				return nil
			})
		}
		_ = g.Wait()
		close(events)
	}()

	for {
		select {
		case <-r.ctx.Done():
			cancelJobs()
			return fmt.Errorf("collect sources: %w", r.ctx.Err())
		case ev, ok := <-events:
			if !ok {
				if err := r.ctx.Err(); err != nil {
					return fmt.Errorf("collect sources: %w", err)
				}
				return nil
			}
			if ev.started {
				src := r.selected[ev.index]
				r.send(progress.LogMessage(fmt.Sprintf("[%d/%d] collecting %s", ev.index+1, n, displayName(src))))
				continue
			}
			for _, msg := range r.state.fold(ev.outcome) {
				r.send(msg)
			}
		}
	}
}

func (r *run) fail(message string, err error) (Result, error) {
	r.logger.Error("collection failed", zap.String("reason", message), zap.Error(err))
	r.span.RecordError(err)
	r.span.SetStatus(codes.Error, message)

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), r.o.cfg.TerminalSendTimeout)
	defer cancel()
	if sendErr := r.reporter.Send(sendCtx, progress.ErrorMessage(message)); sendErr != nil {
		r.logger.Debug("error message not delivered", zap.Error(sendErr))
	}

	end := r.o.clock.Now()
	r.o.emit(progress.Event{
		RunID:  r.runID,
		TS:     end,
		Stage:  progress.StageRunError,
		TaskID: r.req.TaskID,
		Dur:    max(end.Sub(r.start), 0),
		Note:   err.Error(),
	})
	res := Result{RunID: r.runUUID}
	if r.state != nil {
		res.Sources = r.state.counts()
		res.Outcomes = r.state.outcomes
	}
	return res, fmt.Errorf("collection run %s: %w", r.runUUID, err)
}

// send delivers one message. Delivery failures are logged; the run's own
// cancellation checks decide whether to stop.
func (r *run) send(msg progress.Message) {
	if err := r.reporter.Send(r.ctx, msg); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Debug("progress message not delivered",
			zap.String("type", string(msg.Type)),
			zap.Error(err))
	}
}

func (o *Orchestrator) emit(evt progress.Event) {
	if o.hub == nil {
		return
	}
	evt.TS = evt.TS.UTC()
	o.hub.Emit(evt)
}

func displayName(src collector.Source) string {
	if src.Name != "" {
		return src.Name
	}
	return src.URL
}
