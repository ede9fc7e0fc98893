// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/insfound/internal/admission"
	"github.com/JakeFAU/insfound/internal/api"
	"github.com/JakeFAU/insfound/internal/clock/system"
	"github.com/JakeFAU/insfound/internal/config"
	"github.com/JakeFAU/insfound/internal/dispatcher"
	"github.com/JakeFAU/insfound/internal/embedding"
	collyfetcher "github.com/JakeFAU/insfound/internal/fetcher/colly"
	"github.com/JakeFAU/insfound/internal/hash/sha256"
	"github.com/JakeFAU/insfound/internal/id/uuid"
	"github.com/JakeFAU/insfound/internal/inspiration"
	"github.com/JakeFAU/insfound/internal/logging"
	"github.com/JakeFAU/insfound/internal/metrics"
	"github.com/JakeFAU/insfound/internal/policy/ratelimit"
	kafkapublisher "github.com/JakeFAU/insfound/internal/publisher/kafka"
	gcppublisher "github.com/JakeFAU/insfound/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/insfound/internal/queue/memory"
	"github.com/JakeFAU/insfound/internal/search"
	gcsstorage "github.com/JakeFAU/insfound/internal/storage/gcs"
	localstorage "github.com/JakeFAU/insfound/internal/storage/local"
	memoryStorage "github.com/JakeFAU/insfound/internal/storage/memory"
	pgstore "github.com/JakeFAU/insfound/internal/storage/postgres"
	"github.com/JakeFAU/insfound/internal/telemetry"
	"github.com/JakeFAU/insfound/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg             *config.Config
	logger          *zap.Logger
	apiServer       *api.Server
	dispatch        *dispatcher.Dispatcher
	worker          *worker.Worker
	queue           *queueMemory.Queue
	pool            *pgxpool.Pool
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	kafkaPublisher  *kafkapublisher.Publisher
	storage         *storage.Client
	tracerProvider  *sdktrace.TracerProvider
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	logger.Info("creating application",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("store", cfg.Store.Backend),
		zap.String("queue", cfg.Queue.Backend),
		zap.String("embedding", cfg.Embedding.Provider),
		zap.String("corpus", cfg.Corpus.Source),
	)
	return &App{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Handler exposes the HTTP router, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workerDone := make(chan struct{})
	if a.worker != nil {
		go func() {
			defer close(workerDone)
			a.logger.Info("worker started", zap.Int("concurrency", a.cfg.Worker.Concurrency))
			a.worker.Run(ctx)
		}()
	} else {
		close(workerDone)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(a.cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(a.cfg.Server.WriteTimeoutSeconds) * time.Second,
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("worker did not stop before the shutdown deadline")
	}

	return a.Close(shutdownCtx)
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(a.cfg.Server.ShutdownTimeoutSeconds) * time.Second
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure()
	a.closeObservability(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.kafkaPublisher != nil {
		if err := a.kafkaPublisher.Close(); err != nil {
			a.logger.Warn("kafka writer close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer provider shutdown failed", zap.Error(err))
		}
	}
}

// ready reports whether the database, when configured, is reachable.
func (a *App) ready(ctx context.Context) error {
	if a.pool == nil {
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := a.pool.Ping(pingCtx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}
	defer func() {
		if err != nil {
			app.closeInfrastructure()
			app.closeObservability(context.WithoutCancel(ctx))
		}
	}()

	app.logger.Info("building application dependencies")
	app.tracerProvider, err = telemetry.InitTracerProvider(ctx, "insfound")
	if err != nil {
		return nil, fmt.Errorf("tracing init failed: %w", err)
	}
	if err = setupDatabase(ctx, app); err != nil {
		return nil, err
	}
	jobStore, err := setupJobStore(ctx, app)
	if err != nil {
		return nil, err
	}
	enqueuer, err := setupQueue(ctx, app)
	if err != nil {
		return nil, err
	}
	corpus, err := setupCorpus(ctx, app)
	if err != nil {
		return nil, err
	}
	embedder, err := setupEmbedder(app)
	if err != nil {
		return nil, err
	}

	clock := system.New()
	app.dispatch = dispatcher.New(
		admission.New(admission.Config{DenyDomains: cfg.Admission.DenyDomains}),
		jobStore,
		enqueuer,
		uuid.New(),
		clock,
		dispatcher.Config{EnqueueTimeout: cfg.EnqueueTimeout()},
		logger,
	)
	orchestrator := search.NewOrchestrator(
		embedder,
		search.NewEngine(corpus),
		search.Config{QueryTimeout: cfg.QueryTimeout()},
		logger,
	)
	app.apiServer = api.NewServer(app.dispatch, orchestrator, api.Options{
		Auth:           cfg.Auth,
		RequestTimeout: cfg.RequestTimeout(),
		Ready:          app.ready,
	}, logger)

	setupWorker(app)
	return app, nil
}

func setupDatabase(ctx context.Context, app *App) error {
	if app.cfg.Store.Backend != config.BackendPostgres && app.cfg.Corpus.Source != config.BackendPostgres {
		return nil
	}
	pool, err := pgstore.NewPool(ctx, pgstore.PoolConfig{
		DSN:             app.cfg.Database.DSN,
		MaxConns:        app.cfg.Database.MaxConns,
		MinConns:        app.cfg.Database.MinConns,
		MaxConnLifetime: time.Duration(app.cfg.Database.MaxConnLifetimeSeconds) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("postgres pool init failed: %w", err)
	}
	app.pool = pool
	app.logger.Info("postgres pool initialized", zap.Int32("max_conns", app.cfg.Database.MaxConns))
	return nil
}

func setupJobStore(ctx context.Context, app *App) (inspiration.JobStore, error) {
	if app.cfg.Store.Backend != config.BackendPostgres {
		app.logger.Info("using in-memory job store", zap.Duration("cache_ttl", app.cfg.CacheTTL()))
		return memoryStorage.NewJobStore(memoryStorage.WithCacheTTL(app.cfg.CacheTTL())), nil
	}
	store, err := pgstore.NewJobStore(app.pool, pgstore.JobStoreOptions{
		Table:    app.cfg.Database.JobsTable,
		CacheTTL: app.cfg.CacheTTL(),
	})
	if err != nil {
		return nil, fmt.Errorf("job store init failed: %w", err)
	}
	if app.cfg.Database.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("job store migration failed: %w", err)
		}
		app.logger.Info("job store migrated", zap.String("table", app.cfg.Database.JobsTable))
	}
	app.logger.Info("using postgres job store", zap.String("table", app.cfg.Database.JobsTable))
	return store, nil
}

func setupQueue(ctx context.Context, app *App) (inspiration.Enqueuer, error) {
	switch app.cfg.Queue.Backend {
	case config.BackendPubSub:
		var err error
		app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		app.pubsubPublisher = app.pubsubClient.Publisher(app.cfg.PubSub.TopicName)
		app.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", app.cfg.PubSub.ProjectID),
			zap.String("topic", app.cfg.PubSub.TopicName),
		)
		return gcppublisher.New(app.pubsubPublisher), nil
	case config.BackendKafka:
		publisher, err := kafkapublisher.New(kafkapublisher.Config{
			Brokers:      app.cfg.Kafka.Brokers,
			Topic:        app.cfg.Kafka.Topic,
			WriteTimeout: app.cfg.EnqueueTimeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("kafka publisher init failed: %w", err)
		}
		app.kafkaPublisher = publisher
		app.logger.Info("Kafka publisher initialized",
			zap.Strings("brokers", app.cfg.Kafka.Brokers),
			zap.String("topic", app.cfg.Kafka.Topic),
		)
		return publisher, nil
	default:
		app.queue = queueMemory.NewQueue(app.cfg.Queue.Depth)
		app.logger.Info("using in-memory work queue", zap.Int("depth", app.cfg.Queue.Depth))
		return app.queue, nil
	}
}

func setupCorpus(ctx context.Context, app *App) (inspiration.Corpus, error) {
	switch app.cfg.Corpus.Source {
	case config.BackendPostgres:
		corpus, err := pgstore.NewCorpus(app.pool, app.cfg.Database.CorpusTable)
		if err != nil {
			return nil, fmt.Errorf("postgres corpus init failed: %w", err)
		}
		app.logger.Info("using postgres corpus", zap.String("table", app.cfg.Database.CorpusTable))
		return corpus, nil
	case config.BackendGCS:
		var err error
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		source, err := gcsstorage.New(app.storage, gcsstorage.Config{
			Bucket: app.cfg.Corpus.GCSBucket,
			Object: app.cfg.Corpus.GCSObject,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs corpus init failed: %w", err)
		}
		records, err := source.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs corpus load failed: %w", err)
		}
		app.logger.Info("loaded corpus snapshot", zap.String("uri", source.URI()), zap.Int("records", len(records)))
		return memoryStorage.NewCorpus(records...), nil
	default:
		corpus := memoryStorage.NewCorpus()
		if app.cfg.Corpus.SeedPath == "" {
			app.logger.Warn("no corpus seed configured, search results will be empty")
			return corpus, nil
		}
		records, err := localstorage.LoadSnapshot(app.cfg.Corpus.SeedPath)
		if err != nil {
			return nil, fmt.Errorf("corpus seed load failed: %w", err)
		}
		corpus.Add(records...)
		app.logger.Info("loaded corpus seed", zap.String("path", app.cfg.Corpus.SeedPath), zap.Int("records", corpus.Len()))
		return corpus, nil
	}
}

func setupEmbedder(app *App) (*embedding.Client, error) {
	var backend inspiration.Embedder
	if app.cfg.Embedding.Provider == config.BackendOpenAI {
		openaiBackend, err := embedding.NewOpenAIBackend(embedding.OpenAIConfig{
			APIKey:     app.cfg.Embedding.APIKey,
			BaseURL:    app.cfg.Embedding.BaseURL,
			Model:      app.cfg.Embedding.Model,
			Timeout:    time.Duration(app.cfg.Embedding.TimeoutMs) * time.Millisecond,
			MaxRetries: app.cfg.Embedding.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("embedding backend init failed: %w", err)
		}
		backend = openaiBackend
		app.logger.Info("using OpenAI embeddings", zap.String("model", openaiBackend.Model()))
	} else {
		app.logger.Info("embedding backend disabled, search is filter-only")
	}
	client, err := embedding.NewClient(backend, embedding.ClientConfig{
		Hasher:    sha256.New(),
		Timeout:   app.cfg.EmbedTimeout(),
		CacheSize: app.cfg.Embedding.CacheSize,
	}, app.logger)
	if err != nil {
		return nil, fmt.Errorf("embedding client init failed: %w", err)
	}
	return client, nil
}

func setupWorker(app *App) {
	if !app.cfg.Worker.Enabled || app.queue == nil {
		return
	}
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     app.cfg.Worker.UserAgent,
		RespectRobots: app.cfg.Worker.RespectRobots,
		Timeout:       app.cfg.FetchTimeout(),
	}, nil)
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   app.cfg.Worker.RateLimitRPS,
		DefaultBurst: app.cfg.Worker.RateLimitBurst,
	})
	app.worker = worker.New(app.queue, fetcher, app.dispatch, worker.Config{
		Concurrency: app.cfg.Worker.Concurrency,
		MaxRetries:  app.cfg.Worker.MaxRetries,
		Limiter:     limiter,
	}, app.logger)
	app.logger.Info("development worker enabled",
		zap.Int("concurrency", app.cfg.Worker.Concurrency),
		zap.String("user_agent", app.cfg.Worker.UserAgent),
	)
}
