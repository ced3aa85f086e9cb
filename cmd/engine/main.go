// Package main provides the stress-engine entry point. The engine claims
// load-test tasks from the shared database, drives loadrunner subprocesses,
// and persists their results.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmeterx/st-engine/internal/adapter/observability"
	"github.com/lmeterx/st-engine/internal/adapter/repo/postgres"
	"github.com/lmeterx/st-engine/internal/app"
	"github.com/lmeterx/st-engine/internal/config"
	"github.com/lmeterx/st-engine/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()
	go func() {
		srv := observability.NewMetricsServer(cfg.MetricsPort)
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting engine", slog.String("env", cfg.AppEnv))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	taskRepo := postgres.NewTaskRepo(pool)
	commonRepo := postgres.NewCommonTaskRepo(pool)
	resultRepo := postgres.NewResultRepo(pool)

	sup := supervisor.New(cfg)
	engine := app.NewEngine(cfg, sup,
		&app.LLMStore{Cfg: cfg, Tasks: taskRepo, Results: resultRepo},
		&app.CommonStore{Cfg: cfg, Tasks: commonRepo, Results: resultRepo},
	)

	go engine.RunCreatePoller(ctx)
	go engine.RunStopPoller(ctx)

	cleanup := postgres.NewCleanupService(pool, 0)
	go cleanup.RunPeriodic(ctx, 24*time.Hour)

	slog.Info("engine started, waiting for shutdown signal")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	slog.Info("signal received, shutting down", slog.String("signal", sig.String()))
	cancel()
	slog.Info("engine stopped")
}
