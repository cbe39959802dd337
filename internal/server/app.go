// Package server builds the collector's dependency graph from configuration
// and runs it, either as the HTTP service or as a one-shot collection.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	texporter "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/trace"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/content-collector/internal/api"
	"github.com/JakeFAU/content-collector/internal/archive"
	"github.com/JakeFAU/content-collector/internal/clock/system"
	"github.com/JakeFAU/content-collector/internal/collector"
	"github.com/JakeFAU/content-collector/internal/config"
	"github.com/JakeFAU/content-collector/internal/dispatcher"
	"github.com/JakeFAU/content-collector/internal/extract/feed"
	"github.com/JakeFAU/content-collector/internal/extract/web"
	collyfetcher "github.com/JakeFAU/content-collector/internal/fetcher/colly"
	"github.com/JakeFAU/content-collector/internal/hash/sha256"
	"github.com/JakeFAU/content-collector/internal/metrics"
	"github.com/JakeFAU/content-collector/internal/orchestrator"
	"github.com/JakeFAU/content-collector/internal/policy/ratelimit"
	"github.com/JakeFAU/content-collector/internal/policy/retry"
	"github.com/JakeFAU/content-collector/internal/progress"
	progresssinks "github.com/JakeFAU/content-collector/internal/progress/sinks"
	"github.com/JakeFAU/content-collector/internal/publisher"
	gcppublisher "github.com/JakeFAU/content-collector/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/content-collector/internal/storage/gcs"
	localstorage "github.com/JakeFAU/content-collector/internal/storage/local"
	memorystorage "github.com/JakeFAU/content-collector/internal/storage/memory"
	pgstore "github.com/JakeFAU/content-collector/internal/storage/postgres"
	"github.com/JakeFAU/content-collector/internal/store"
	"github.com/JakeFAU/content-collector/internal/telemetry"
	"github.com/JakeFAU/content-collector/internal/worker"
)

// App holds the long-lived services of one process.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	items   store.ItemRepository
	sources store.SourceRepository
	runs    store.RunRepository
	pingers []store.Pinger

	orchestrator *orchestrator.Orchestrator
	apiServer    *api.Server
	hub          *progress.Hub

	db              *pgstore.DB
	localBlobs      *localstorage.BlobStore
	storageClient   *storage.Client
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	tracerProvider  *sdktrace.TracerProvider
}

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	registerer prometheus.Registerer
	exporters  []sdktrace.SpanExporter
}

// WithRegisterer registers the telemetry sink's collectors on reg instead of
// the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *buildOptions) { o.registerer = reg }
}

// WithSpanExporters batches spans to the given exporters when tracing is
// enabled.
func WithSpanExporters(exporters ...sdktrace.SpanExporter) Option {
	return func(o *buildOptions) { o.exporters = append(o.exporters, exporters...) }
}

// Build creates every dependency described by cfg. On error, whatever was
// already opened is closed.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (app *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	bo := buildOptions{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&bo)
	}

	app = &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			app.Close(closeCtx)
			app = nil
		}
	}()

	metrics.Init()
	if err = app.setupTracing(ctx, bo.exporters); err != nil {
		return app, err
	}
	if err = app.setupRepositories(ctx); err != nil {
		return app, err
	}
	blobs, err := app.setupBlobStore(ctx)
	if err != nil {
		return app, err
	}
	pub, err := app.setupPublisher(ctx)
	if err != nil {
		return app, err
	}
	if err = app.setupHub(ctx, bo.registerer); err != nil {
		return app, err
	}

	orchOpts := []orchestrator.Option{
		orchestrator.WithHub(app.hub),
		orchestrator.WithLogger(logger),
	}
	if blobs != nil {
		orchOpts = append(orchOpts, orchestrator.WithArchiver(
			archive.New(blobs, sha256.New(), cfg.Storage.Prefix, logger),
		))
	}
	if pub != nil {
		orchOpts = append(orchOpts, orchestrator.WithPublisher(pub))
	}
	app.orchestrator = orchestrator.New(app.items, app.sources, app.newRunner(), orchestrator.Config{
		Concurrency:        cfg.Collector.Concurrency,
		MaxBodyChars:       cfg.Collector.MaxBodyChars,
		SummaryChars:       cfg.Collector.SummaryChars,
		PreviewChars:       cfg.Collector.PreviewChars,
		StatusWriteTimeout: cfg.Collector.StatusWriteTimeout,
	}, orchOpts...)

	app.apiServer = api.NewServer(api.Deps{
		Items:     app.items,
		Sources:   app.sources,
		Runs:      app.runs,
		Collector: app.orchestrator,
		Pingers:   app.pingers,
	}, api.Options{
		AuthEnabled:    cfg.Auth.Enabled,
		APIKey:         cfg.Auth.APIKey,
		RequestTimeout: cfg.Server.RequestTimeout,
		StreamBuffer:   cfg.Progress.StreamBuffer,
	}, logger.Named("api"))

	return app, nil
}

func (a *App) setupTracing(ctx context.Context, exporters []sdktrace.SpanExporter) error {
	if !a.cfg.Tracing.Enabled {
		return nil
	}
	if project := a.cfg.Tracing.ProjectID; project != "" {
		exp, err := texporter.New(texporter.WithProjectID(project))
		if err != nil {
			return fmt.Errorf("cloud trace exporter init failed: %w", err)
		}
		exporters = append(exporters, exp)
	}
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: a.cfg.Tracing.ServiceName,
		SampleRatio: a.cfg.Tracing.SampleRatio,
	}, exporters...)
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracerProvider = tp
	a.logger.Info("tracing enabled",
		zap.String("service", a.cfg.Tracing.ServiceName),
		zap.Float64("sample_ratio", a.cfg.Tracing.SampleRatio),
		zap.Int("exporters", len(exporters)),
	)
	return nil
}

func (a *App) setupRepositories(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no database DSN configured, using in-memory repositories")
		a.items = memorystorage.NewItemStore()
		a.sources = memorystorage.NewSourceStore()
		a.runs = memorystorage.NewRunStore()
		return nil
	}
	db, err := pgstore.Open(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("database init failed: %w", err)
	}
	a.db = db
	if a.cfg.DB.Migrate {
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("database migration failed: %w", err)
		}
		a.logger.Info("database schema applied")
	}
	a.items = pgstore.NewItemStore(db)
	a.sources = pgstore.NewSourceStore(db)
	a.runs = pgstore.NewRunStore(db)
	a.pingers = append(a.pingers, db)
	a.logger.Info("postgres repositories initialized", zap.Int32("max_conns", a.cfg.DB.MaxConns))
	return nil
}

func (a *App) setupBlobStore(ctx context.Context) (archive.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.StorageGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storageClient = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("archiving runs to GCS", zap.String("bucket", a.cfg.Storage.GCSBucket))
		return blobs, nil
	case config.StorageLocal:
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.localBlobs = blobs
		a.logger.Info("archiving runs to local disk", zap.String("dir", a.cfg.Storage.LocalDir))
		return blobs, nil
	case config.StorageMemory:
		a.logger.Info("archiving runs in memory")
		return memorystorage.NewBlobStore(), nil
	default:
		a.logger.Info("run archiving disabled")
		return nil, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (publisher.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" {
		a.logger.Info("no Pub/Sub topic configured, completion notifications disabled")
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.pubsubPublisher = gcppublisher.New(client.Publisher(a.cfg.PubSub.TopicName))
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return a.pubsubPublisher, nil
}

func (a *App) setupHub(ctx context.Context, reg prometheus.Registerer) error {
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinks := []progress.Sink{
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
		progresssinks.NewStoreSink(a.runs, a.logger.Named("progress_store")),
	}
	hubCfg := progress.HubConfig{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   a.cfg.Progress.MaxBatchWait,
		SinkTimeout:    a.cfg.Progress.SinkTimeout,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress_hub"),
	}
	a.hub = progress.NewHub(hubCfg, sinks...)
	a.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
	)
	return nil
}

func (a *App) newRunner() *worker.Runner {
	clock := system.New()
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:      a.cfg.HTTP.UserAgent,
		Accept:         a.cfg.HTTP.Accept,
		AcceptLanguage: a.cfg.HTTP.AcceptLanguage,
		RespectRobots:  a.cfg.HTTP.RespectRobots,
		Timeout:        a.cfg.HTTP.Timeout,
		MaxRedirects:   a.cfg.HTTP.MaxRedirects,
	}, retry.NewExponentialPolicy(retry.Config{
		MaxAttempts: a.cfg.HTTP.MaxAttempts,
		BaseDelay:   a.cfg.HTTP.BackoffInitial,
		MaxDelay:    a.cfg.HTTP.BackoffMax,
	}), ratelimit.New(ratelimit.Config{
		DefaultRPS:   a.cfg.RateLimit.DefaultRPS,
		DefaultBurst: a.cfg.RateLimit.DefaultBurst,
	}), a.logger)
	a.logger.Info("fetcher configured",
		zap.Duration("timeout", a.cfg.HTTP.Timeout),
		zap.Int("max_attempts", a.cfg.HTTP.MaxAttempts),
		zap.Float64("default_rps", a.cfg.RateLimit.DefaultRPS),
	)

	feeds := feed.New(fetcher, clock, feed.Config{
		RecencyMonths:   a.cfg.Feed.RecencyMonths,
		MinContentChars: a.cfg.Feed.MinContentChars,
	}, a.logger)
	pages := web.New(fetcher, web.Config{
		MinArticleChars: a.cfg.Web.MinArticleChars,
		MinDetailChars:  a.cfg.Web.MinDetailChars,
		MaxLinks:        a.cfg.Web.MaxLinks,
		DetailDelay:     a.cfg.Web.DetailDelay,
	}, a.logger)

	return worker.New(dispatcher.New(feeds, pages), clock, a.hub, collector.Thresholds{
		Slow:    a.cfg.Collector.SlowThreshold,
		Timeout: a.cfg.Collector.SourceTimeout,
	}, a.logger)
}

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Serve runs the HTTP server until ctx is canceled, then drains in-flight
// requests for up to server.shutdown_timeout.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return nil
}

// Collect runs one collection and writes its messages to w as NDJSON, one
// JSON object per line.
func (a *App) Collect(ctx context.Context, req orchestrator.Request, w io.Writer) (orchestrator.Result, error) {
	stream := progress.NewStream(a.cfg.Progress.StreamBuffer)
	type outcome struct {
		res orchestrator.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := a.orchestrator.Run(ctx, req, stream)
		done <- outcome{res, err}
	}()

	var writeErr error
	for msg := range stream.Messages() {
		if writeErr != nil {
			continue
		}
		line, err := progress.Encode(msg)
		if err != nil {
			writeErr = fmt.Errorf("encode %s message: %w", msg.Type, err)
			continue
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			writeErr = fmt.Errorf("write %s message: %w", msg.Type, err)
		}
	}
	out := <-done
	if out.err != nil {
		return out.res, out.err
	}
	return out.res, writeErr
}

// Sources returns the source repository in use.
func (a *App) Sources() store.SourceRepository {
	return a.sources
}

// Items returns the item repository in use.
func (a *App) Items() store.ItemRepository {
	return a.items
}

// Close releases every service in reverse dependency order. It is safe on a
// partially built App.
func (a *App) Close(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storageClient != nil {
		if err := a.storageClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.localBlobs != nil {
		if err := a.localBlobs.Close(); err != nil {
			a.logger.Warn("local blob store close failed", zap.Error(err))
		}
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
}
