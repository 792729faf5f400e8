package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ad-tracker/analytics-sync-go/internal/app"
	"github.com/ad-tracker/analytics-sync-go/internal/config"
	"github.com/ad-tracker/analytics-sync-go/internal/handler"
	"github.com/ad-tracker/analytics-sync-go/internal/middleware"
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

	log := logger.Named("server")

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to initialize application", zap.Error(err))
	}
	defer a.Close()

	if len(cfg.Auth.ServiceKeys) == 0 && cfg.Auth.JWTSecret == "" {
		log.Warn("No service keys or session secret configured; every API request will be rejected")
	}

	queueClient, err := queue.NewClient(cfg.Redis.URL)
	if err != nil {
		log.Fatal("Failed to create queue client", zap.Error(err))
	}
	defer func() { _ = queueClient.Close() }()

	var publisherHealth handler.HealthChecker
	if a.Publisher != nil {
		publisherHealth = a.Publisher
	}

	router := handler.NewRouter(handler.Handlers{
		Health:   handler.NewHealthHandler(a.Pool, publisherHealth),
		Sync:     handler.NewSyncHandler(a.Syncer, queueClient),
		Snapshot: handler.NewSnapshotHandler(a.Capturer),
		Account:  handler.NewAccountHandler(a.Deltas, a.States, a.Metrics, a.Budget),
	}, middleware.NewAuth(cfg.Auth.ServiceKeys, cfg.Auth.JWTSecret))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", zap.Int("port", cfg.Server.Port))
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", zap.Error(err))
		}

	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("Graceful shutdown failed", zap.Error(err))
			if err := server.Close(); err != nil {
				log.Error("Failed to close server", zap.Error(err))
			}
		}

		log.Info("Server stopped gracefully")
	}
}
