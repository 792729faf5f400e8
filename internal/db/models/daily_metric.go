package models

import (
	"time"

	"github.com/ad-tracker/analytics-sync-go/internal/platform"
)

// Entity types stored in daily_metrics.
const (
	EntityChannel = "channel"
	EntityVideo   = "video"
	EntityAccount = "account"
	EntityMedia   = "media"
)

// DailyMetric is one row of the per-day time series, keyed by
// (account_id, entity_id, day). Account-level rows use the platform account
// id as EntityID.
type DailyMetric struct {
	ID                     int64             `db:"id" json:"id"`
	AccountID              string            `db:"account_id" json:"account_id"`
	Platform               platform.Platform `db:"platform" json:"platform"`
	EntityType             string            `db:"entity_type" json:"entity_type"`
	EntityID               string            `db:"entity_id" json:"entity_id"`
	Day                    time.Time         `db:"day" json:"day"`
	Views                  int64             `db:"views" json:"views"`
	WatchMinutes           *float64          `db:"watch_minutes" json:"watch_minutes,omitempty"`
	AvgViewDurationSeconds *float64          `db:"avg_view_duration_seconds" json:"avg_view_duration_seconds,omitempty"`
	Likes                  int64             `db:"likes" json:"likes"`
	Comments               int64             `db:"comments" json:"comments"`
	Shares                 int64             `db:"shares" json:"shares"`
	SubscribersGained      *int64            `db:"subscribers_gained" json:"subscribers_gained,omitempty"`
	SubscribersLost        *int64            `db:"subscribers_lost" json:"subscribers_lost,omitempty"`
	EstimatedRevenue       *float64          `db:"estimated_revenue" json:"estimated_revenue,omitempty"`
	Impressions            *int64            `db:"impressions" json:"impressions,omitempty"`
	Reach                  *int64            `db:"reach" json:"reach,omitempty"`
	ProfileViews           *int64            `db:"profile_views" json:"profile_views,omitempty"`
	FollowerCount          *int64            `db:"follower_count" json:"follower_count,omitempty"`
	Extra                  map[string]any    `db:"extra" json:"extra,omitempty"`
	SyncedAt               time.Time         `db:"synced_at" json:"synced_at"`
}

// NewDailyMetric creates a row for one entity on one day.
func NewDailyMetric(accountID string, p platform.Platform, entityType, entityID string, day time.Time) *DailyMetric {
	return &DailyMetric{
		AccountID:  accountID,
		Platform:   p,
		EntityType: entityType,
		EntityID:   entityID,
		Day:        time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC),
		Extra:      map[string]any{},
	}
}
