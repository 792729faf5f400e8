// Package app builds the pipeline components shared by the server and worker.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ad-tracker/analytics-sync-go/internal/config"
	"github.com/ad-tracker/analytics-sync-go/internal/db"
	"github.com/ad-tracker/analytics-sync-go/internal/db/repository"
	"github.com/ad-tracker/analytics-sync-go/internal/platform"
	"github.com/ad-tracker/analytics-sync-go/internal/service/apiclient"
	"github.com/ad-tracker/analytics-sync-go/internal/service/delta"
	"github.com/ad-tracker/analytics-sync-go/internal/service/events"
	"github.com/ad-tracker/analytics-sync-go/internal/service/instagram"
	"github.com/ad-tracker/analytics-sync-go/internal/service/lock"
	"github.com/ad-tracker/analytics-sync-go/internal/service/quota"
	"github.com/ad-tracker/analytics-sync-go/internal/service/snapshot"
	"github.com/ad-tracker/analytics-sync-go/internal/service/syncer"
	"github.com/ad-tracker/analytics-sync-go/internal/service/token"
	"github.com/ad-tracker/analytics-sync-go/internal/service/youtube"
	"github.com/ad-tracker/analytics-sync-go/pkg/logger"
)

// App holds the wired components.
type App struct {
	Config   *config.Config
	Pool     *pgxpool.Pool
	Registry *platform.Registry
	Budget   *quota.Tracker
	States   repository.SyncStateRepository
	Metrics  repository.DailyMetricRepository
	Syncer   *syncer.Orchestrator
	Capturer *snapshot.Capturer
	Deltas   *delta.Service

	// Publisher is nil when RabbitMQ is disabled or unreachable at startup.
	Publisher *events.Publisher

	redis *redis.Client
}

// New connects to Postgres, Redis and optionally RabbitMQ and wires every
// service on top of them.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logger.Named("app")

	registry, err := platform.RegistryFromConfig(cfg.Platforms)
	if err != nil {
		return nil, fmt.Errorf("build platform registry: %w", err)
	}

	pool, err := db.NewPool(ctx, db.ConfigFrom(cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	log.Info("Database connection established",
		zap.String("host", cfg.Database.Host),
		zap.Int("port", cfg.Database.Port),
		zap.String("database", cfg.Database.Name),
	)

	rdb, err := lock.NewClient(cfg.Redis.URL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	a := &App{
		Config:   cfg,
		Pool:     pool,
		Registry: registry,
		redis:    rdb,
	}

	if cfg.RabbitMQ.Enabled {
		publisher, err := events.NewPublisher(&cfg.RabbitMQ)
		if err != nil {
			log.Warn("RabbitMQ unavailable, sync events disabled", zap.Error(err))
		} else {
			a.Publisher = publisher
			log.Info("RabbitMQ publisher initialized", zap.String("exchange", cfg.RabbitMQ.Exchange))
		}
	}

	a.wire()
	return a, nil
}

func (a *App) wire() {
	cfg := a.Config
	policy := apiclient.PolicyFromConfig(cfg.HTTP)
	httpClient := &http.Client{Timeout: policy.AttemptTimeout}

	credentials := repository.NewCredentialRepository(a.Pool)
	snapshots := repository.NewSnapshotRepository(a.Pool)
	a.States = repository.NewSyncStateRepository(a.Pool)
	a.Metrics = repository.NewDailyMetricRepository(a.Pool)

	a.Budget = quota.NewTracker(repository.NewQuotaRepository(a.Pool), a.Registry, cfg.Quota.Warning, cfg.Quota.Critical)

	tokens := token.NewManager(credentials, a.Registry, map[platform.Platform]token.Refresher{
		platform.YouTube:   token.NewGoogleRefresher(cfg.OAuth.Google, httpClient, policy.AttemptTimeout),
		platform.Instagram: token.NewInstagramRefresher(cfg.OAuth.Instagram.RefreshURL, httpClient, policy.AttemptTimeout),
	}, token.WithSkew(cfg.Token.RefreshSkew))

	youtubeClient := apiclient.NewClient("youtube", httpClient, policy)
	instagramClient := apiclient.NewClient("instagram", httpClient, policy)

	syncOpts := []syncer.Option{
		syncer.WithLocker(lock.NewRedisLocker(a.redis, cfg.Redis.LockTTL)),
	}
	if a.Publisher != nil {
		syncOpts = append(syncOpts, syncer.WithPublisher(a.Publisher))
	}

	a.Syncer = syncer.NewOrchestrator(syncer.Deps{
		Sources: []syncer.Source{
			youtube.NewReportSource(youtubeClient, cfg.Platforms.YouTube.ReportURL, cfg.Sync.IncludeRevenue),
			instagram.NewInsightsSource(instagramClient, cfg.Platforms.Instagram.ReportURL, a.Registry.Location(platform.Instagram)),
		},
		Tokens:   tokens,
		Budget:   a.Budget,
		Accounts: credentials,
		Metrics:  a.Metrics,
		Archive:  repository.NewRawResponseRepository(a.Pool),
		States:   a.States,
		Registry: a.Registry,
	}, syncer.OptionsFromConfig(cfg.Sync), syncOpts...)

	a.Capturer = snapshot.NewCapturer(
		[]snapshot.Source{
			youtube.NewSnapshotSource(cfg.Platforms.YouTube.ResourceURL, httpClient, cfg.Sync.SnapshotVideoLimit, policy.AttemptTimeout),
			instagram.NewSnapshotSource(instagramClient, cfg.Platforms.Instagram.ResourceURL),
		},
		tokens,
		a.Budget,
		credentials,
		snapshots,
		snapshot.WithAccountDelay(cfg.Sync.AccountDelay),
	)

	a.Deltas = delta.NewService(snapshots, a.Registry, nil)
}

// Close releases every connection.
func (a *App) Close() {
	log := logger.Named("app")
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			log.Error("Error closing RabbitMQ publisher", zap.Error(err))
		}
	}
	if err := a.redis.Close(); err != nil {
		log.Error("Error closing Redis client", zap.Error(err))
	}
	db.Close(a.Pool)
}
