// Package server builds the ingestor's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/bmsevents/event-ingestor/internal/api"
	"github.com/bmsevents/event-ingestor/internal/backend"
	"github.com/bmsevents/event-ingestor/internal/clock/system"
	"github.com/bmsevents/event-ingestor/internal/config"
	"github.com/bmsevents/event-ingestor/internal/dispatcher"
	"github.com/bmsevents/event-ingestor/internal/event"
	"github.com/bmsevents/event-ingestor/internal/hash/sha256"
	"github.com/bmsevents/event-ingestor/internal/id/uuid"
	"github.com/bmsevents/event-ingestor/internal/logging"
	"github.com/bmsevents/event-ingestor/internal/metrics"
	"github.com/bmsevents/event-ingestor/internal/normalizer"
	"github.com/bmsevents/event-ingestor/internal/orchestrator"
	"github.com/bmsevents/event-ingestor/internal/progress"
	progresssinks "github.com/bmsevents/event-ingestor/internal/progress/sinks"
	gcppublisher "github.com/bmsevents/event-ingestor/internal/publisher/pubsub"
	queuememory "github.com/bmsevents/event-ingestor/internal/queue/memory"
	"github.com/bmsevents/event-ingestor/internal/retention"
	"github.com/bmsevents/event-ingestor/internal/scheduler"
	badgerstore "github.com/bmsevents/event-ingestor/internal/storage/badger"
	gcsstorage "github.com/bmsevents/event-ingestor/internal/storage/gcs"
	localstorage "github.com/bmsevents/event-ingestor/internal/storage/local"
	memorystorage "github.com/bmsevents/event-ingestor/internal/storage/memory"
	mongostore "github.com/bmsevents/event-ingestor/internal/storage/mongo"
	pgstore "github.com/bmsevents/event-ingestor/internal/storage/postgres"
	"github.com/bmsevents/event-ingestor/internal/store"
	"github.com/bmsevents/event-ingestor/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// Options override process-wide defaults; tests use them to stay isolated.
type Options struct {
	// Logger replaces the logger built from cfg.Logging.
	Logger *zap.Logger
	// Registerer receives the progress collectors; nil uses the default registry.
	Registerer prometheus.Registerer
}

type closer struct {
	name string
	fn   func() error
}

// App contains the application's dependencies.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	clock        event.Clock
	events       event.Store
	progressRepo store.ProgressRepository
	hub          *progress.Hub
	queue        *queuememory.Queue
	dispatch     *dispatcher.Dispatcher
	orchestrator *orchestrator.Orchestrator
	retention    *retention.Job
	apiServer    *api.Server
	closers      []closer

	workersMu   sync.Mutex
	stopWorkers func()
}

// Build creates the application's dependencies. On error everything built so
// far is closed.
func Build(ctx context.Context, cfg config.Config, opts Options) (app *App, err error) {
	logger := opts.Logger
	if logger == nil {
		logger, err = logging.New(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}
	metrics.Init()
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
	)

	a := &App{cfg: cfg, logger: logger, clock: system.New()}
	defer func() {
		if err != nil {
			a.closeAll()
		}
	}()
	a.logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("archive", cfg.Archive.Backend))

	ids := uuid.New()
	if a.events, err = a.setupEventStore(ctx, ids); err != nil {
		return nil, err
	}
	blobs, err := a.setupArchive(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.setupProgress(ctx, opts.Registerer); err != nil {
		return nil, err
	}

	targets, err := cfg.Targets()
	if err != nil {
		return nil, fmt.Errorf("derive scrape targets: %w", err)
	}
	client, err := backend.New(backend.Config{
		BaseURL:        cfg.Scrape.BaseURL,
		ConnectTimeout: cfg.Scrape.ConnectTimeout,
		ReadTimeout:    cfg.Scrape.ReadTimeout,
		UserAgent:      cfg.Scrape.UserAgent,
	}, logger.Named("backend"))
	if err != nil {
		return nil, fmt.Errorf("backend client init failed: %w", err)
	}

	norm := normalizer.New(a.clock, logger.Named("normalizer"))
	a.queue = queuememory.NewQueue(max(cfg.Scrape.QueueDepth, len(targets)))
	a.closers = append(a.closers, closer{"task queue", func() error { a.queue.Close(); return nil }})

	deps := worker.Deps{
		Queue:      a.queue,
		Fetcher:    client,
		Normalizer: norm,
		Store:      a.events,
		Blobs:      blobs,
		Publisher:  publisher,
		Hasher:     sha256.New(),
		Clock:      a.clock,
		Emitter:    a.emitter(),
	}
	workerCfg := worker.Config{BlobPrefix: cfg.Archive.Prefix, Topic: a.topic()}
	runners := make([]dispatcher.Runner, 0, cfg.Scrape.Concurrency)
	for i := range cfg.Scrape.Concurrency {
		runners = append(runners, worker.New(deps, workerCfg, logger.Named("worker").With(zap.Int("worker", i))))
	}
	a.dispatch = dispatcher.New(a.queue, runners)
	a.orchestrator = orchestrator.New(targets, a.dispatch, ids, a.clock, a.emitter(), logger.Named("orchestrator"))
	a.retention = retention.New(a.events, a.clock, cfg.Retention.MaxAgeDays, logger.Named("retention"))

	a.apiServer = api.NewServer(api.Deps{
		Events:     a.events,
		Cycles:     a,
		Progress:   a.progressRepo,
		Normalizer: norm,
		Clock:      a.clock,
		Ready:      a.ready,
	}, api.Config{RequestTimeout: cfg.Server.RequestTimeout}, logger.Named("api"))

	a.logger.Info("application built",
		zap.Int("backends", len(targets)),
		zap.Int("workers", a.dispatch.Size()))
	return a, nil
}

func (a *App) setupEventStore(ctx context.Context, ids event.IDGenerator) (event.Store, error) {
	var (
		s   event.Store
		err error
	)
	switch a.cfg.Storage.Backend {
	case "", "memory":
		a.logger.Warn("using in-memory event store; events are lost on restart")
		s = memorystorage.NewEventStore(ids)
	case "postgres":
		pg := a.cfg.Storage.Postgres
		pool, connErr := pgstore.Connect(ctx, pgstore.PoolConfig{
			DSN: pg.DSN, MaxConns: pg.MaxConns, MinConns: pg.MinConns, MaxConnLifetime: pg.MaxConnLifetime,
		})
		if connErr != nil {
			return nil, fmt.Errorf("postgres event store: %w", connErr)
		}
		pgEvents, newErr := pgstore.NewEventStore(pool, pg.Table, ids)
		if newErr != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres event store: %w", newErr)
		}
		s, err = pgEvents, pgEvents.Migrate(ctx)
	case "mongo":
		m := a.cfg.Storage.Mongo
		mongoEvents, connErr := mongostore.Connect(ctx, mongostore.Config{
			URI: m.URI, Database: m.Database, Collection: m.Collection,
		}, ids)
		if connErr != nil {
			return nil, fmt.Errorf("mongo event store: %w", connErr)
		}
		s, err = mongoEvents, mongoEvents.EnsureIndexes(ctx)
	case "badger":
		b := a.cfg.Storage.Badger
		s, err = badgerstore.Open(badgerstore.Config{Path: b.Path, InMemory: b.InMemory, MemTableSize: b.MemTableSize}, ids, a.logger.Named("badger"))
		if err != nil {
			return nil, fmt.Errorf("badger event store: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown storage backend %q", a.cfg.Storage.Backend)
	}
	a.closers = append(a.closers, closer{"event store", s.Close})
	if err != nil {
		return nil, fmt.Errorf("prepare %s event store: %w", a.cfg.Storage.Backend, err)
	}
	return s, nil
}

// setupArchive returns a nil interface when archiving is disabled so the
// worker skips it.
func (a *App) setupArchive(ctx context.Context) (event.BlobStore, error) {
	switch a.cfg.Archive.Backend {
	case "", "none":
		return nil, nil
	case "memory":
		return memorystorage.NewBlobStore(), nil
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local archive: %w", err)
		}
		a.closers = append(a.closers, closer{"local archive", blobs.Close})
		return blobs, nil
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Archive.Bucket})
		if err != nil {
			return nil, errors.Join(fmt.Errorf("gcs archive: %w", err), client.Close())
		}
		a.closers = append(a.closers, closer{"gcs archive", blobs.Close})
		return blobs, nil
	default:
		return nil, fmt.Errorf("unknown archive backend %q", a.cfg.Archive.Backend)
	}
}

// setupPublisher returns a nil interface when no Pub/Sub project is set.
func (a *App) setupPublisher(ctx context.Context) (event.Publisher, error) {
	if a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("pubsub project not configured; batch notifications disabled")
		return nil, nil
	}
	pub, err := gcppublisher.Connect(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher: %w", err)
	}
	a.closers = append(a.closers, closer{"pubsub publisher", pub.Close})
	return pub, nil
}

func (a *App) topic() string {
	if a.cfg.PubSub.TopicName != "" {
		return a.cfg.PubSub.TopicName
	}
	return a.cfg.Scrape.Topic
}

func (a *App) setupProgress(ctx context.Context, reg prometheus.Registerer) error {
	pc := a.cfg.Progress
	if pc.DSN != "" {
		pool, err := pgstore.Connect(ctx, pgstore.PoolConfig{DSN: pc.DSN})
		if err != nil {
			return fmt.Errorf("progress repository: %w", err)
		}
		repo, err := pgstore.NewProgressStore(pool)
		if err != nil {
			pool.Close()
			return fmt.Errorf("progress repository: %w", err)
		}
		a.closers = append(a.closers, closer{"progress repository", repo.Close})
		if err := repo.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate progress repository: %w", err)
		}
		a.progressRepo = repo
	} else {
		a.progressRepo = memorystorage.NewProgressStore()
	}
	if !pc.Enabled {
		return nil
	}

	sinks := []progress.Sink{progresssinks.NewStoreSink(a.progressRepo, a.logger.Named("progress-store"))}
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("progress prometheus sink: %w", err)
	}
	sinks = append(sinks, promSink)
	if pc.LogEnabled {
		sinks = append(sinks, progresssinks.NewLogSink(a.logger.Named("progress")))
	}
	a.hub = progress.NewHub(progress.Config{
		BufferSize:     pc.BufferSize,
		MaxBatchEvents: pc.Batch.MaxEvents,
		MaxBatchWait:   time.Duration(pc.Batch.MaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(pc.SinkTimeoutMs) * time.Millisecond,
		Logger:         a.logger.Named("progress"),
	}, sinks...)
	return nil
}

// emitter avoids handing a typed-nil *Hub to collaborators.
func (a *App) emitter() progress.Emitter {
	if a.hub == nil {
		return progress.Discard
	}
	return a.hub
}

type pinger interface {
	Ping(ctx context.Context) error
}

func (a *App) ready(ctx context.Context) error {
	if p, ok := a.events.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Handler exposes the HTTP surface.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// StartWorkers runs the worker pool until the returned stop function is
// called or ctx ends. Calling it again while running is a no-op.
func (a *App) StartWorkers(ctx context.Context) (stop func()) {
	a.workersMu.Lock()
	defer a.workersMu.Unlock()
	if a.stopWorkers != nil {
		return a.stopWorkers
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.logger.Info("dispatcher started", zap.Int("workers", a.dispatch.Size()))
		a.dispatch.Run(ctx)
	}()
	var once sync.Once
	a.stopWorkers = func() {
		once.Do(func() {
			cancel()
			<-done
			a.workersMu.Lock()
			a.stopWorkers = nil
			a.workersMu.Unlock()
		})
	}
	return a.stopWorkers
}

// RunCycle runs one scrape cycle, starting the worker pool if needed.
func (a *App) RunCycle(ctx context.Context) (event.CycleReport, error) {
	a.StartWorkers(context.WithoutCancel(ctx))
	return a.orchestrator.RunCycle(ctx)
}

// Cleanup runs one retention pass.
func (a *App) Cleanup(ctx context.Context) (int64, error) {
	return a.retention.Run(ctx)
}

// Run serves HTTP, runs the worker pool and the scheduler, and blocks until
// ctx is canceled or SIGINT/SIGTERM arrives. In-flight backend calls are
// abandoned on shutdown.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stopWorkers := a.StartWorkers(ctx)
	defer stopWorkers()

	if a.cfg.Schedule.Enabled {
		loc, err := time.LoadLocation(a.cfg.Schedule.Timezone)
		if err != nil {
			return fmt.Errorf("schedule timezone: %w", err)
		}
		sched, err := scheduler.New(ctx, scheduler.Config{
			ScrapeCron:  a.cfg.Schedule.ScrapeCron,
			CleanupCron: a.cfg.Schedule.CleanupCron,
			Location:    loc,
		}, a, a.retention, a.logger.Named("scheduler"))
		if err != nil {
			return err
		}
		sched.Start()
		defer func() {
			if err := sched.Shutdown(); err != nil {
				a.logger.Warn("scheduler shutdown failed", zap.Error(err))
			}
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close stops the worker pool, flushes progress and releases every client.
func (a *App) Close(ctx context.Context) error {
	a.workersMu.Lock()
	stopWorkers := a.stopWorkers
	a.workersMu.Unlock()
	if stopWorkers != nil {
		stopWorkers()
	}
	var errs []error
	if err := a.hub.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, a.closeAll()...)
	_ = a.logger.Sync()
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

// closeAll releases resources in reverse order of acquisition.
func (a *App) closeAll() []error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Warn("close failed", zap.String("resource", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errs
}
