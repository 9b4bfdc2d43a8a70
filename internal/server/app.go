// Package server assembles the crawl engine, its backends and the HTTP API
// from configuration, and runs them until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-orchestrator/internal/api"
	"github.com/JakeFAU/crawl-orchestrator/internal/config"
	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/crawl-orchestrator/internal/dispatcher"
	"github.com/JakeFAU/crawl-orchestrator/internal/orchestrator"
	"github.com/JakeFAU/crawl-orchestrator/internal/progress"
	progresssinks "github.com/JakeFAU/crawl-orchestrator/internal/progress/sinks"
)

// App contains the application's dependencies.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	engine      *orchestrator.Engine
	apiServer   *api.Server
	dispatch    *dispatcher.Dispatcher
	progressHub *progress.Hub
	alerts      *progresssinks.AlertSink
	queue       *observedQueue
	repo        crawler.Repository

	// closers release backends in reverse construction order.
	closers        []namedCloser
	tracerShutdown func(context.Context) error
}

type namedCloser struct {
	name  string
	close func() error
}

// NewApp creates an App shell; Build fills in the dependencies.
func NewApp(cfg config.Config, logger *zap.Logger) *App {
	logger.Info("creating application",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("render_backend", cfg.Render.Backend),
		zap.String("store_backend", cfg.Store.Backend),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("lock_backend", cfg.Lock.Backend),
		zap.String("publisher", cfg.Events.Publisher),
	)
	return &App{cfg: cfg, logger: logger}
}

// Engine exposes the command surface for callers that bypass HTTP.
func (a *App) Engine() *orchestrator.Engine {
	return a.engine
}

// Handler returns the HTTP API handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run recovers interrupted jobs, starts the worker pool and the HTTP server,
// and blocks until ctx is canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.dispatch.Size()))
		a.dispatch.Run(ctx)
	}()

	go a.sweepStuckJobs(ctx, time.Minute)

	if n, err := a.engine.Recover(ctx); err != nil {
		a.logger.Error("job recovery failed", zap.Error(err))
	} else if n > 0 {
		a.logger.Info("jobs recovered", zap.Int("count", n))
	}

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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.queue.Close()
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers still busy at shutdown deadline")
	}

	return a.Close(shutdownCtx)
}

// sweepStuckJobs runs the stuck-job alert rule on a timer so a job that stops
// emitting events is still reported.
func (a *App) sweepStuckJobs(ctx context.Context, every time.Duration) {
	if a.alerts == nil {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			a.alerts.Sweep(now)
		}
	}
}

// Crawl creates and starts one job and executes it in the calling goroutine
// until it stops running. The worker pool is not used.
func (a *App) Crawl(ctx context.Context, req orchestrator.CreateRequest) (crawler.Job, crawler.JobStats, error) {
	job, err := a.engine.Create(ctx, req)
	if err != nil {
		return crawler.Job{}, crawler.JobStats{}, fmt.Errorf("create job: %w", err)
	}
	if err := a.engine.Start(ctx, job.ID); err != nil {
		return job, crawler.JobStats{}, fmt.Errorf("start job: %w", err)
	}
	for {
		item, err := a.dispatch.Dequeue(ctx)
		if err != nil {
			return job, crawler.JobStats{}, err
		}
		if err := a.engine.Execute(ctx, item.JobID); err != nil {
			return job, crawler.JobStats{}, fmt.Errorf("execute job: %w", err)
		}
		job, err = a.engine.Get(ctx, job.ID)
		if err != nil {
			return job, crawler.JobStats{}, err
		}
		if job.State != crawler.StatePending && job.State != crawler.StateRunning {
			break
		}
	}
	stats, err := a.engine.Stats(ctx, job.ID)
	if err != nil {
		return job, crawler.JobStats{}, fmt.Errorf("job stats: %w", err)
	}
	return job, stats, nil
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	// The hub flushes into the publisher, so it goes first.
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync() //nolint:errcheck // stderr sync fails on some platforms
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}
