// Package syncer drives per-account report ingestion into the daily time series.
package syncer

import (
	"context"

	"github.com/ad-tracker/analytics-sync-go/internal/db/models"
	"github.com/ad-tracker/analytics-sync-go/internal/platform"
	"github.com/ad-tracker/analytics-sync-go/internal/service/daterange"
	"github.com/ad-tracker/analytics-sync-go/internal/service/events"
	"github.com/ad-tracker/analytics-sync-go/internal/service/report"
	"github.com/ad-tracker/analytics-sync-go/internal/service/token"
)

// Source is one platform's reporting API.
type Source interface {
	Platform() platform.Platform
	Granularity() daterange.Granularity

	// Reports lists report types in fetch order: the channel or account
	// report first, then the per-entity report.
	Reports() []string

	// EstimatedCost is the quota reserved before fetching reportType.
	EstimatedCost(reportType string) int

	// Fetch runs one report over one range, returning one Call per page
	// requested. The calls are returned even when err is non-nil so that
	// every upstream answer can be archived and charged.
	Fetch(ctx context.Context, tok *token.Token, reportType string, r daterange.Range) ([]*report.Call, error)

	// Map turns one successful page into rows keyed by (account, entity, day).
	Map(accountID string, tok *token.Token, call *report.Call) ([]*models.DailyMetric, error)
}

// Locker provides per-key mutual exclusion.
type Locker interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// EventPublisher announces finished runs.
type EventPublisher interface {
	PublishSyncEvent(ctx context.Context, event *events.SyncEvent) error
}
