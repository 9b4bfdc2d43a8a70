package server

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-orchestrator/internal/api"
	"github.com/JakeFAU/crawl-orchestrator/internal/artifact"
	"github.com/JakeFAU/crawl-orchestrator/internal/challenge"
	"github.com/JakeFAU/crawl-orchestrator/internal/config"
	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/crawl-orchestrator/internal/dispatcher"
	"github.com/JakeFAU/crawl-orchestrator/internal/eventlog"
	"github.com/JakeFAU/crawl-orchestrator/internal/extract"
	"github.com/JakeFAU/crawl-orchestrator/internal/hash/sha256"
	"github.com/JakeFAU/crawl-orchestrator/internal/id/uuid"
	"github.com/JakeFAU/crawl-orchestrator/internal/lifecycle"
	"github.com/JakeFAU/crawl-orchestrator/internal/lifecycle/redislock"
	"github.com/JakeFAU/crawl-orchestrator/internal/logging"
	"github.com/JakeFAU/crawl-orchestrator/internal/metrics"
	"github.com/JakeFAU/crawl-orchestrator/internal/orchestrator"
	"github.com/JakeFAU/crawl-orchestrator/internal/policy/ratelimit"
	"github.com/JakeFAU/crawl-orchestrator/internal/progress"
	progresssinks "github.com/JakeFAU/crawl-orchestrator/internal/progress/sinks"
	kafkapublisher "github.com/JakeFAU/crawl-orchestrator/internal/publisher/kafka"
	memorypublisher "github.com/JakeFAU/crawl-orchestrator/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/crawl-orchestrator/internal/publisher/pubsub"
	queuemem "github.com/JakeFAU/crawl-orchestrator/internal/queue/memory"
	"github.com/JakeFAU/crawl-orchestrator/internal/render/headless"
	"github.com/JakeFAU/crawl-orchestrator/internal/render/static"
	"github.com/JakeFAU/crawl-orchestrator/internal/scheduler"
	gcsstorage "github.com/JakeFAU/crawl-orchestrator/internal/storage/gcs"
	localstorage "github.com/JakeFAU/crawl-orchestrator/internal/storage/local"
	memorystorage "github.com/JakeFAU/crawl-orchestrator/internal/storage/memory"
	pgstore "github.com/JakeFAU/crawl-orchestrator/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/crawl-orchestrator/internal/storage/sqlite"
	"github.com/JakeFAU/crawl-orchestrator/internal/telemetry"
)

const serviceName = "crawl-orchestrator"

// Options adjust Build for callers other than the long-running service.
type Options struct {
	// Logger replaces the configured logger when set.
	Logger *zap.Logger
	// Registerer receives the progress collectors. Nil uses the default
	// registry.
	Registerer prometheus.Registerer
}

// Build creates the application's dependencies. On error everything built so
// far is released.
func Build(ctx context.Context, cfg config.Config, opts Options) (app *App, err error) {
	logger := opts.Logger
	if logger == nil {
		logger, err = logging.New(cfg.Logging.Development,
			logging.WithLevel(cfg.Logging.Level),
			logging.WithService(serviceName),
		)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}

	app = NewApp(cfg, logger)
	defer func() {
		if err != nil {
			_ = app.Close(context.WithoutCancel(ctx)) //nolint:errcheck // already failing
		}
	}()

	app.tracerShutdown, err = telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: serviceName,
		SampleRatio: cfg.Tracing.SampleRatio,
		Logger:      logger.Named("trace"),
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	metrics.Init()

	app.logger.Info("building application dependencies")

	blobs, err := setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}
	if err = setupRepository(ctx, app); err != nil {
		return nil, err
	}
	locks := setupLocks(app)

	emitter, err := setupProgress(ctx, app, opts.Registerer)
	if err != nil {
		return nil, err
	}
	events := eventlog.New(app.repo, emitter, crawler.SystemClock, logger)

	sched, err := setupScheduler(app, blobs, events)
	if err != nil {
		return nil, err
	}

	templates, err := cfg.JobTemplates()
	if err != nil {
		return nil, fmt.Errorf("job templates: %w", err)
	}

	app.queue = &observedQueue{Queue: queuemem.NewQueue(cfg.Crawler.QueueDepth)}
	app.engine = orchestrator.New(orchestrator.Config{
		LockTTL:   cfg.LockTTL(),
		Defaults:  cfg.JobDefaults(),
		Templates: templates,
		QueryMode: cfg.QueryMode(),
	}, orchestrator.Deps{
		Repo:      app.repo,
		Events:    events,
		Scheduler: sched,
		Queue:     app.queue,
		Locks:     locks,
		IDs:       uuid.New(),
		Clock:     crawler.SystemClock,
	}, logger)

	app.dispatch = dispatcher.NewPool(
		cfg.Crawler.Concurrency,
		app.queue,
		conflictCounter{next: app.engine},
		workerHooks(),
		logger,
	)

	apiOpts := api.Options{
		Defaults: cfg.JobDefaults(),
		Ready:    app.ready,
	}
	if cfg.Auth.Enabled {
		apiOpts.APIKey = cfg.Auth.APIKey
	}
	app.apiServer = api.NewServer(app.engine, apiOpts, logger)

	return app, nil
}

// ready reports whether the repository answers queries.
func (a *App) ready(ctx context.Context) error {
	if _, err := a.repo.ListJobs(ctx, nil, 1, 0); err != nil {
		return fmt.Errorf("repository: %w", err)
	}
	return nil
}

func setupStorage(ctx context.Context, app *App) (crawler.BlobStore, error) {
	cfg := app.cfg.Storage
	switch cfg.Backend {
	case config.BackendGCS:
		app.logger.Info("using GCS storage backend", zap.String("bucket", cfg.Bucket))
		store, closeFn, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: cfg.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.onClose("gcs", closeFn)
		return store, nil
	case config.BackendLocal:
		app.logger.Info("using local storage backend", zap.String("path", cfg.LocalDir))
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return store, nil
	default:
		app.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func setupRepository(ctx context.Context, app *App) error {
	cfg := app.cfg.Store
	switch cfg.Backend {
	case config.BackendPostgres:
		repo, err := pgstore.New(ctx, pgstore.Config{
			DSN:             cfg.DSN,
			MaxConns:        cfg.MaxConns,
			MinConns:        1,
			MaxConnLifetime: 30 * time.Minute,
		})
		if err != nil {
			return fmt.Errorf("postgres repository init failed: %w", err)
		}
		app.onClose("postgres", repo.Close)
		if err := repo.Migrate(ctx); err != nil {
			return fmt.Errorf("postgres migrate failed: %w", err)
		}
		app.repo = repo
		app.logger.Info("using postgres repository")
	case config.BackendSQLite:
		repo, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("sqlite repository init failed: %w", err)
		}
		app.onClose("sqlite", repo.Close)
		app.repo = repo
		app.logger.Info("using sqlite repository", zap.String("path", cfg.SQLitePath))
	default:
		app.repo = memorystorage.NewRepository()
		app.logger.Warn("using in-memory repository; jobs do not survive restarts")
	}
	return nil
}

func setupLocks(app *App) lifecycle.LockRegistry {
	cfg := app.cfg.Lock
	if cfg.Backend != config.BackendRedis {
		return lifecycle.NewMemoryLocks()
	}
	locks := redislock.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.Prefix)
	app.onClose("redis", locks.Close)
	app.logger.Info("using redis job locks", zap.String("addr", cfg.RedisAddr))
	return locks
}

func setupProgress(ctx context.Context, app *App, reg prometheus.Registerer) (progress.Emitter, error) {
	cfg := app.cfg.Events
	app.alerts = progresssinks.NewAlertSink(progresssinks.AlertConfig{
		ErrorRate:  cfg.AlertErrorRate,
		MinPages:   cfg.AlertMinPages,
		StuckAfter: time.Duration(cfg.AlertStuckMins) * time.Minute,
	}, app.logger.Named("alerts"), nil)
	sinkList := []progress.Sink{
		progresssinks.NewLogSink(app.logger.Named("progress_log")),
		app.alerts,
	}
	if cfg.PrometheusEnable {
		promSink, err := progresssinks.NewPrometheusSink(reg)
		if err != nil {
			return nil, err
		}
		sinkList = append(sinkList, promSink)
	}

	switch cfg.Publisher {
	case config.PublisherMemory:
		pub := memorypublisher.New()
		sinkList = append(sinkList, progresssinks.NewPublishSink(pub, cfg.Topic, pub.Close))
		app.logger.Info("in-memory event publisher initialized", zap.String("topic", cfg.Topic))
	case config.PublisherPubSub:
		pub, err := gcppublisher.New(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		sinkList = append(sinkList, progresssinks.NewPublishSink(pub, cfg.Topic, pub.Close))
		app.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", cfg.ProjectID),
			zap.String("topic", cfg.Topic),
		)
	case config.PublisherKafka:
		pub, err := kafkapublisher.New(cfg.Brokers)
		if err != nil {
			return nil, fmt.Errorf("kafka publisher init failed: %w", err)
		}
		sinkList = append(sinkList, progresssinks.NewPublishSink(pub, cfg.Topic, pub.Close))
		app.logger.Info("kafka publisher initialized",
			zap.Strings("brokers", cfg.Brokers),
			zap.String("topic", cfg.Topic),
		)
	}

	hubCfg := progress.Config{
		BufferSize:     cfg.BufferSize,
		MaxBatchEvents: cfg.MaxBatchEvents,
		MaxBatchWait:   time.Duration(cfg.MaxBatchWaitMs) * time.Millisecond,
		Logger:         app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return app.progressHub, nil
}

func setupScheduler(app *App, blobs crawler.BlobStore, events scheduler.EventAppender) (*scheduler.Scheduler, error) {
	cfg := app.cfg
	render, err := setupRenderer(app)
	if err != nil {
		return nil, err
	}
	detector, err := challenge.New(cfg.DetectorConfig())
	if err != nil {
		return nil, fmt.Errorf("challenge detector init failed: %w", err)
	}

	var limiter crawler.HostLimiter
	if cfg.RateLimit.RPS > 0 {
		limiter = ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.RateLimit.RPS,
			DefaultBurst: cfg.RateLimit.Burst,
			OnDelay:      metrics.ObserveRateLimitDelay,
		})
		app.logger.Info("host rate limiter enabled",
			zap.Float64("rps", cfg.RateLimit.RPS),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
	}

	return scheduler.New(scheduler.Deps{
		Render:    render,
		Detector:  detector,
		Extractor: extract.New(cfg.ExtractorConfig(), app.logger),
		Artifacts: artifact.New(blobs, sha256.New(), cfg.Storage.Prefix, app.logger),
		Pages:     app.repo,
		Events:    events,
		Limiter:   limiter,
		Robots: crawler.NewRobotsEnforcer(
			crawler.NewRobotsClient(10*time.Second, metrics.ObserveRobotsFallback),
			cfg.Crawler.UserAgent,
			app.logger.Named("robots"),
		),
		Clock: crawler.SystemClock,
	}, app.logger), nil
}

func setupRenderer(app *App) (crawler.RenderPort, error) {
	cfg := app.cfg.Render
	if cfg.Backend == config.BackendStatic {
		app.logger.Info("using static renderer")
		return static.New(static.Config{
			UserAgent: app.cfg.Crawler.UserAgent,
			Timeout:   crawler.SecondsToDuration(cfg.StaticTimeoutSec),
		}, app.logger), nil
	}
	window, err := crawler.ParseWindowSize(cfg.Window)
	if err != nil {
		return nil, fmt.Errorf("render window: %w", err)
	}
	r, err := headless.New(headless.Config{
		MaxParallel: cfg.MaxParallel,
		UserAgent:   app.cfg.Crawler.UserAgent,
		Timeout:     crawler.SecondsToDuration(cfg.NavTimeoutSec),
		Settle:      time.Duration(cfg.SettleMillis) * time.Millisecond,
		Screenshot:  cfg.Screenshot,
		Window:      window,
		ExecPath:    cfg.ExecPath,
	}, app.logger)
	if err != nil {
		return nil, fmt.Errorf("headless renderer init failed: %w", err)
	}
	app.onClose("browser", func() error {
		r.Close()
		return nil
	})
	app.logger.Info("using headless renderer", zap.Int("max_parallel", cfg.MaxParallel))
	return r, nil
}
