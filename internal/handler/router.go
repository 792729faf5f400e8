package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ad-tracker/analytics-sync-go/internal/middleware"
)

// Handlers groups every route handler.
type Handlers struct {
	Health   *HealthHandler
	Sync     *SyncHandler
	Snapshot *SnapshotHandler
	Account  *AccountHandler
}

// NewRouter wires routes onto a gin engine.
func NewRouter(h Handlers, auth *middleware.Auth) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.Logger(), middleware.Metrics())

	router.GET("/health/live", h.Health.LivenessProbe)
	router.GET("/health/ready", h.Health.ReadinessProbe)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1", auth.Middleware())

	api.POST("/sync/:platform/backfill", h.Sync.Backfill)
	api.POST("/sync/:platform/incremental", h.Sync.Incremental)

	api.POST("/snapshots/:platform/capture", middleware.RequireService(), h.Snapshot.Capture)

	accounts := api.Group("/accounts/:accountId/:platform")
	accounts.GET("/deltas", h.Account.Deltas)
	accounts.GET("/sync-state", h.Account.SyncState)
	accounts.GET("/quota", h.Account.Quota)
	accounts.GET("/daily-metrics", h.Account.DailyMetrics)

	return router
}
