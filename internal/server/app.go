// Package server builds the application's dependency graph and runs the HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/page-insights/internal/api"
	"github.com/JakeFAU/page-insights/internal/archive"
	"github.com/JakeFAU/page-insights/internal/cache"
	"github.com/JakeFAU/page-insights/internal/clock"
	"github.com/JakeFAU/page-insights/internal/config"
	"github.com/JakeFAU/page-insights/internal/extractor"
	collyfetcher "github.com/JakeFAU/page-insights/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/page-insights/internal/fetcher/headless"
	"github.com/JakeFAU/page-insights/internal/headless/detector"
	"github.com/JakeFAU/page-insights/internal/id/uuid"
	"github.com/JakeFAU/page-insights/internal/insights"
	"github.com/JakeFAU/page-insights/internal/logging"
	"github.com/JakeFAU/page-insights/internal/metrics"
	"github.com/JakeFAU/page-insights/internal/pipeline"
	memorypublisher "github.com/JakeFAU/page-insights/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/page-insights/internal/publisher/pubsub"
	"github.com/JakeFAU/page-insights/internal/ratelimit"
	"github.com/JakeFAU/page-insights/internal/retry"
	gcsstorage "github.com/JakeFAU/page-insights/internal/storage/gcs"
	localstorage "github.com/JakeFAU/page-insights/internal/storage/local"
	memorystorage "github.com/JakeFAU/page-insights/internal/storage/memory"
	mongostore "github.com/JakeFAU/page-insights/internal/storage/mongo"
	pgstore "github.com/JakeFAU/page-insights/internal/storage/postgres"
	"github.com/JakeFAU/page-insights/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	apiServer *api.Server
	service   *pipeline.Service

	store           insights.Store
	headless        *headlessfetcher.Fetcher
	gcsClient       *storage.Client
	pubsubPublisher *gcppublisher.Publisher
	tracerShutdown  func(context.Context) error
}

// Handler exposes the API router, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Service returns the ingestion pipeline.
func (a *App) Service() *pipeline.Service {
	return a.service
}

// Run starts the HTTP server and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

// Close releases every long-lived client. Failures are logged, not returned.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.headless != nil {
		a.headless.Close()
	}
	if a.pubsubPublisher != nil {
		if err := a.pubsubPublisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(ctx); err != nil {
			a.logger.Warn("store close failed", zap.Error(err))
		}
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// Build creates the application's dependencies. A store that cannot be
// reached does not fail the build; the service starts degraded instead.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger is Build with a caller-supplied logger.
func BuildWithLogger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("store_backend", cfg.Store.Backend),
		zap.String("archive_backend", cfg.Archive.Backend),
		zap.String("events_backend", cfg.Events.Backend),
	)
	metrics.Init()

	if cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName: cfg.Tracing.ServiceName,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("tracer init failed: %w", err)
		}
		app.tracerShutdown = tp.Shutdown
	}

	clk := clock.New()
	app.store = setupStore(ctx, app, clk)

	archiver, err := setupArchive(ctx, app, clk)
	if err != nil {
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	deps := pipeline.Dependencies{
		Store:   app.store,
		Cache:   setupCache(app),
		Fetcher: setupFetcher(app),
		Limiter: ratelimit.New(ratelimit.Config{
			RatePerSecond: cfg.Fetch.RatePerSecond,
			Burst:         cfg.Fetch.Burst,
		}, ratelimit.WithObserver(metrics.ObserveRateLimitDelay)),
		Extractor: extractor.New(extractor.Config{
			SourceDomain: cfg.Extract.SourceDomain,
			PostLimit:    cfg.Extract.PostLimit,
			CommentLimit: cfg.Extract.CommentLimit,
			MaxFollowers: cfg.Extract.MaxFollowers,
		}, clk),
		Archiver:  archiver,
		Publisher: publisher,
		Clock:     clk,
	}
	if cfg.Headless.Enabled {
		setupHeadless(app, &deps)
	}

	eventType := ""
	if publisher != nil {
		eventType = pipeline.EventIngested
	}
	app.service, err = pipeline.New(deps, pipeline.Config{
		BaseURL:   cfg.Fetch.BaseURL,
		EventType: eventType,
	}, logger.Named("pipeline"),
		pipeline.WithIngestionObserver(metrics.ObserveIngestion),
		pipeline.WithFetchObserver(metrics.ObserveFetch),
	)
	if err != nil {
		return nil, fmt.Errorf("pipeline init failed: %w", err)
	}

	app.apiServer = api.NewServer(app.service, api.Config{RequestTimeout: cfg.Server.RequestTimeout}, logger.Named("api"))
	return app, nil
}

func setupStore(ctx context.Context, app *App, clk insights.Clock) insights.Store {
	cfg := app.cfg.Store
	policy := retry.Config{MaxAttempts: cfg.MaxRetries, Delay: cfg.RetryDelay()}
	logger := app.logger.Named("store")

	var store insights.Store
	switch cfg.Backend {
	case config.BackendPostgres:
		store = pgstore.Connect(ctx, pgstore.Config{
			DSN:        cfg.DSN,
			MaxConns:   int32(cfg.MaxConns),
			MinConns:   int32(cfg.MinConns),
			TextSearch: cfg.TextSearch,
			Retry:      policy,
		}, logger,
			pgstore.WithClock(clk),
			pgstore.WithIDGenerator(uuid.New()),
			pgstore.WithAttemptHook(metrics.StoreConnectHook(config.BackendPostgres)),
		)
	case config.BackendMongo:
		store = mongostore.Connect(ctx, mongostore.Config{
			URI:                    cfg.URI,
			Database:               cfg.Database,
			MaxPoolSize:            uint64(max(cfg.MaxConns, 0)),
			MinPoolSize:            uint64(max(cfg.MinConns, 0)),
			ConnectTimeout:         cfg.ConnectTimeout,
			ServerSelectionTimeout: cfg.ServerSelectionTimeout,
			TextSearch:             cfg.TextSearch,
			Retry:                  policy,
		}, logger,
			mongostore.WithClock(clk),
			mongostore.WithAttemptHook(metrics.StoreConnectHook(config.BackendMongo)),
		)
	default:
		app.logger.Info("using in-memory store")
		store = memorystorage.NewStore(memorystorage.WithClock(clk), memorystorage.WithIDGenerator(uuid.New()))
	}

	if !store.Available() {
		app.logger.Error("store unavailable, serving degraded", zap.String("backend", cfg.Backend))
		return store
	}
	report := store.EnsureIndexes(ctx)
	if report.OK() {
		app.logger.Info("all database indexes created successfully")
	} else {
		app.logger.Warn("some database indexes could not be created", zap.Any("indexes", report))
	}
	return store
}

func setupCache(app *App) insights.DocumentCache {
	if !app.cfg.Cache.Enabled {
		app.logger.Info("document cache disabled")
		return cache.Noop[insights.PageDocument]{}
	}
	return cache.NewLRU[insights.PageDocument](cache.Config{
		Capacity: app.cfg.Cache.Capacity,
		TTL:      app.cfg.Cache.TTL,
	}, cache.WithObserver(metrics.ObserveCache))
}

func setupFetcher(app *App) insights.Fetcher {
	cfg := app.cfg.Fetch
	app.logger.Info("using colly fetcher",
		zap.Duration("timeout", cfg.Timeout),
		zap.Bool("respect_robots", cfg.RespectRobots),
	)
	return collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.UserAgent,
		RespectRobots: cfg.RespectRobots,
		Timeout:       cfg.Timeout,
	})
}

func setupHeadless(app *App, deps *pipeline.Dependencies) {
	cfg := app.cfg.Headless
	fetcher, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		MaxParallel:       cfg.MaxParallel,
		UserAgent:         app.cfg.Fetch.UserAgent,
		NavigationTimeout: cfg.NavigationTimeout,
		WaitSelector:      cfg.WaitSelector,
		SettleDelay:       cfg.SettleDelay,
	})
	if err != nil {
		app.logger.Warn("headless fetcher init failed", zap.Error(err))
		return
	}
	app.headless = fetcher
	deps.Headless = fetcher
	deps.Detector = detector.NewHeuristic(cfg.BodyThreshold)
	app.logger.Info("using headless fetcher", zap.Int("max_parallel", cfg.MaxParallel))
}

func setupArchive(ctx context.Context, app *App, clk insights.Clock) (pipeline.Archiver, error) {
	cfg := app.cfg.Archive
	var blobs insights.BlobStore
	switch cfg.Backend {
	case config.BackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.gcsClient = client
		blobs, err = gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Info("archiving raw pages to GCS", zap.String("bucket", cfg.Bucket))
	case config.BackendLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		blobs = store
		app.logger.Info("archiving raw pages locally", zap.String("path", cfg.BaseDir))
	case config.BackendMemory:
		blobs = memorystorage.NewBlobStore()
		app.logger.Info("archiving raw pages in memory")
	default:
		app.logger.Info("raw page archive disabled")
		return nil, nil
	}
	return archive.New(blobs, clk, cfg.Prefix), nil
}

func setupPublisher(ctx context.Context, app *App) (insights.Publisher, error) {
	cfg := app.cfg.Events
	switch cfg.Backend {
	case config.BackendPubSub:
		publisher, err := gcppublisher.Connect(ctx, cfg.ProjectID, cfg.Topic)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		app.pubsubPublisher = publisher
		app.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", cfg.ProjectID),
			zap.String("topic", cfg.Topic),
		)
		return publisher, nil
	case config.BackendMemory:
		app.logger.Info("using in-memory publisher")
		return memorypublisher.New(), nil
	default:
		app.logger.Info("ingestion events disabled")
		return nil, nil
	}
}
