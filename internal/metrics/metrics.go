// Package metrics holds the Prometheus collectors shared by the sync services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "analytics_sync"

var (
	// APIAttempts counts upstream HTTP attempts by client and outcome (ok, retry, permanent, error).
	APIAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_attempts_total",
		Help:      "Upstream API attempts by client and outcome",
	}, []string{"client", "outcome"})

	// TokenRefreshes counts token refresh attempts by platform and outcome.
	TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_refreshes_total",
		Help:      "OAuth token refreshes by platform and outcome",
	}, []string{"platform", "outcome"})

	// QuotaUnits counts API quota units spent per platform.
	QuotaUnits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "quota_units_total",
		Help:      "API quota units consumed",
	}, []string{"platform"})

	// QuotaThresholds counts usage writes that landed at or above a threshold.
	QuotaThresholds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "quota_threshold_hits_total",
		Help:      "Quota writes at or above the warning or critical level",
	}, []string{"platform", "level"})

	// SyncRuns counts finished account syncs.
	SyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_runs_total",
		Help:      "Account sync runs by platform, mode and final status",
	}, []string{"platform", "mode", "status"})

	// SyncDuration observes account sync duration.
	SyncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sync_duration_seconds",
		Help:      "Account sync duration",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
	}, []string{"platform", "mode"})

	// SyncRows counts upserted time-series rows.
	SyncRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_rows_total",
		Help:      "Daily metric rows upserted by platform and entity type",
	}, []string{"platform", "entity_type"})

	// SyncChunks counts processed backfill/incremental chunks by result.
	SyncChunks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_chunks_total",
		Help:      "Report chunks by platform and result",
	}, []string{"platform", "result"})

	// SnapshotsCaptured counts appended intraday snapshots.
	SnapshotsCaptured = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "snapshots_captured_total",
		Help:      "Intraday snapshots appended by platform",
	}, []string{"platform"})

	// HTTPRequests counts trigger-surface requests.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status",
	}, []string{"method", "path", "status"})

	// HTTPDuration observes trigger-surface latency.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration by method and route",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})
)
