package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ad-tracker/analytics-sync-go/internal/app"
	"github.com/ad-tracker/analytics-sync-go/internal/config"
	"github.com/ad-tracker/analytics-sync-go/internal/platform"
	"github.com/ad-tracker/analytics-sync-go/internal/queue"
	"github.com/ad-tracker/analytics-sync-go/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	log := logger.Named("worker")

	ctx := context.Background()
	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to initialize application", zap.Error(err))
	}
	defer a.Close()

	server, err := queue.NewServer(cfg.Redis.URL, cfg.Schedule.Concurrency, queue.NewTaskHandler(a.Syncer, a.Capturer))
	if err != nil {
		log.Fatal("Failed to create task server", zap.Error(err))
	}

	scheduler, err := queue.NewScheduler(cfg.Redis.URL, cfg.Schedule, platform.All)
	if err != nil {
		log.Fatal("Failed to create scheduler", zap.Error(err))
	}

	if err := server.Start(); err != nil {
		log.Fatal("Failed to start task server", zap.Error(err))
	}
	if err := scheduler.Start(); err != nil {
		server.Stop()
		log.Fatal("Failed to start scheduler", zap.Error(err))
	}

	log.Info("Worker started",
		zap.Int("concurrency", cfg.Schedule.Concurrency),
		zap.String("incremental_cron", cfg.Schedule.Incremental),
		zap.String("snapshot_cron", cfg.Schedule.Snapshot),
	)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	sig := <-shutdown

	log.Info("Shutdown signal received", zap.String("signal", sig.String()))
	scheduler.Stop()
	server.Stop()
	log.Info("Worker stopped gracefully")
}
