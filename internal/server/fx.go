// Package server builds and runs the composed application.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/epiworldlab/epirunner/internal/api"
	"github.com/epiworldlab/epirunner/internal/clock/system"
	"github.com/epiworldlab/epirunner/internal/config"
	"github.com/epiworldlab/epirunner/internal/dispatcher"
	"github.com/epiworldlab/epirunner/internal/hash/sha256"
	"github.com/epiworldlab/epirunner/internal/id/uuid"
	"github.com/epiworldlab/epirunner/internal/logging"
	"github.com/epiworldlab/epirunner/internal/metrics"
	"github.com/epiworldlab/epirunner/internal/model"
	"github.com/epiworldlab/epirunner/internal/policy/ratelimit"
	"github.com/epiworldlab/epirunner/internal/policy/simple"
	"github.com/epiworldlab/epirunner/internal/progress"
	progresssinks "github.com/epiworldlab/epirunner/internal/progress/sinks"
	memorypublisher "github.com/epiworldlab/epirunner/internal/publisher/memory"
	gcppublisher "github.com/epiworldlab/epirunner/internal/publisher/pubsub"
	queueMemory "github.com/epiworldlab/epirunner/internal/queue/memory"
	"github.com/epiworldlab/epirunner/internal/sheet"
	gcsstorage "github.com/epiworldlab/epirunner/internal/storage/gcs"
	localstorage "github.com/epiworldlab/epirunner/internal/storage/local"
	memoryStorage "github.com/epiworldlab/epirunner/internal/storage/memory"
	pgstore "github.com/epiworldlab/epirunner/internal/storage/postgres"
	"github.com/epiworldlab/epirunner/internal/store"
	"github.com/epiworldlab/epirunner/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg          *config.Config
	logger       *zap.Logger
	apiServer    *api.Server
	registry     *model.Registry
	dispatch     *dispatcher.Dispatcher
	progressHub  *progress.Hub
	queue        *queueMemory.Queue
	pubsubClient *pubsub.Client
	gcpPublisher *gcppublisher.Publisher
	gcsClient    *storage.Client
	pgRunStore   *pgstore.RunStore
	statsRepo    store.StatsRepository
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		a.logger.Info("dispatcher started")
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	a.queue.Close()
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.gcpPublisher != nil {
		a.gcpPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgRunStore != nil {
		a.pgRunStore.Close()
	}
	if pgRepo, ok := a.statsRepo.(*pgstore.StatsStore); ok {
		pgRepo.Close()
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.String("app", cfg.App.Name),
		zap.Int("port", cfg.Server.Port),
	)

	app.registry = model.NewRegistry()
	sheetFactory := func(path string) (model.Model, error) {
		return sheet.NewModel(path, logger.Named("sheet"))
	}
	if err = app.registry.Discover(cfg.Models.Dir, sheetFactory, logger.Named("registry")); err != nil {
		return nil, fmt.Errorf("model discovery failed: %w", err)
	}
	logger.Info("models registered", zap.Int("count", len(app.registry.List())))

	blobStore, err := setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}

	runStore, err := setupDatabase(ctx, app)
	if err != nil {
		return nil, err
	}

	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	progressEmitter := setupProgress(ctx, app)

	app.queue = queueMemory.NewQueue(cfg.Runner.QueueDepth)
	app.dispatch = setupDispatcher(app, runStore, blobStore, publisher, progressEmitter)

	app.apiServer = api.NewServer(
		app.registry,
		runStore,
		app.dispatch,
		uuid.NewUUIDGenerator(),
		system.New(),
		sheetFactory,
		api.NewStatsHandler(app.statsRepo, logger.Named("stats")),
		*cfg,
		logger.Named("api"),
	)

	return app, nil
}

func setupStorage(ctx context.Context, app *App) (model.BlobStore, error) {
	switch app.cfg.Storage.Backend {
	case "gcs":
		app.logger.Info("using GCS storage backend", zap.String("bucket", app.cfg.Storage.GCSBucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.gcsClient = client
		blobStore, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket: app.cfg.Storage.GCSBucket,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobStore, nil
	case "local":
		app.logger.Info("using local storage backend", zap.String("dir", app.cfg.Storage.LocalDir))
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobStore, nil
	default:
		app.logger.Info("using in-memory storage backend")
		return memoryStorage.NewBlobStore(), nil
	}
}

func setupDatabase(ctx context.Context, app *App) (model.RunStore, error) {
	if app.cfg.DB.DSN == "" {
		app.logger.Info("no database DSN configured, keeping runs in memory")
		return memoryStorage.NewRunStore(), nil
	}
	runStore, err := pgstore.NewRunStore(ctx, pgstore.RunStoreConfig{
		DSN:   app.cfg.DB.DSN,
		Table: app.cfg.DB.RunsTable,
	})
	if err != nil {
		return nil, fmt.Errorf("run store init failed: %w", err)
	}
	app.pgRunStore = runStore
	app.logger.Info("run store initialized", zap.String("table", app.cfg.DB.RunsTable))

	statsRepo, err := pgstore.NewStatsStore(ctx, app.cfg.DB.DSN)
	if err != nil {
		return nil, fmt.Errorf("stats store init failed: %w", err)
	}
	app.statsRepo = statsRepo
	return runStore, nil
}

func setupPublisher(ctx context.Context, app *App) (model.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	pub, err := gcppublisher.NewFromClient(ctx, client, app.cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.gcpPublisher = pub
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return pub, nil
}

func setupProgress(ctx context.Context, app *App) progress.Emitter {
	sinkList := []progress.Sink{
		progresssinks.NewLogSink(app.logger.Named("progress_log")),
	}
	if promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer); err != nil {
		app.logger.Warn("prometheus progress sink init failed", zap.Error(err))
	} else {
		sinkList = append(sinkList, promSink)
	}
	if app.statsRepo != nil {
		sinkList = append(
			sinkList,
			progresssinks.NewStoreSink(app.statsRepo, app.logger.Named("progress_store")),
		)
	}
	hubCfg := progress.Config{
		BaseContext: ctx,
		Logger:      app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized", zap.Int("sinks", len(sinkList)))
	return app.progressHub
}

func setupDispatcher(
	app *App,
	runStore model.RunStore,
	blobStore model.BlobStore,
	publisher model.Publisher,
	progressEmitter progress.Emitter,
) *dispatcher.Dispatcher {
	hasher := sha256.New()
	clock := system.New()

	var policy model.Policy
	if app.cfg.Runner.MaxRunsPerSecond > 0 {
		policy = ratelimit.New(ratelimit.Config{
			DefaultRPS:   app.cfg.Runner.MaxRunsPerSecond,
			DefaultBurst: app.cfg.Runner.RunBurst,
		})
		app.logger.Info("run rate limiter enabled",
			zap.Float64("max_runs_per_second", app.cfg.Runner.MaxRunsPerSecond),
			zap.Int("run_burst", app.cfg.Runner.RunBurst),
		)
	} else {
		policy = simple.New()
		app.logger.Info("run rate limiter disabled, admitting all runs")
	}

	workerCfg := worker.Config{
		BlobPrefix: app.cfg.Storage.Prefix,
		Topic:      app.cfg.PubSub.TopicName,
		RunTimeout: app.cfg.RunBudget(),
	}
	app.logger.Info("worker config",
		zap.String("blob_prefix", workerCfg.BlobPrefix),
		zap.String("topic", workerCfg.Topic),
		zap.Duration("run_timeout", workerCfg.RunTimeout),
	)

	var workers []*worker.Worker
	for i := 0; i < app.cfg.Runner.Workers; i++ {
		workers = append(workers, worker.New(
			app.queue,
			app.registry,
			runStore,
			blobStore,
			publisher,
			hasher,
			clock,
			policy,
			progressEmitter,
			workerCfg,
			app.logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	return dispatcher.New(app.queue, workers)
}
