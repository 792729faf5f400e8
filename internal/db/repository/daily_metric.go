package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ad-tracker/analytics-sync-go/internal/db"
	"github.com/ad-tracker/analytics-sync-go/internal/db/models"
	"github.com/ad-tracker/analytics-sync-go/internal/platform"
)

// DailyMetricRepository defines operations for the daily time series.
type DailyMetricRepository interface {
	// UpsertBatch writes rows keyed by (account_id, entity_id, day) and
	// returns how many rows were written. Re-running with the same rows
	// leaves the table unchanged apart from synced_at.
	UpsertBatch(ctx context.Context, rows []*models.DailyMetric) (int, error)

	// List retrieves rows for an account between two days inclusive, ordered by day then entity.
	List(ctx context.Context, accountID string, p platform.Platform, entityType string, from, to time.Time) ([]*models.DailyMetric, error)
}

type dailyMetricRepository struct {
	pool *pgxpool.Pool
}

// NewDailyMetricRepository creates a new DailyMetricRepository.
func NewDailyMetricRepository(pool *pgxpool.Pool) DailyMetricRepository {
	return &dailyMetricRepository{pool: pool}
}

const upsertDailyMetricQuery = `
	INSERT INTO daily_metrics (account_id, platform, entity_type, entity_id, day,
	                           views, watch_minutes, avg_view_duration_seconds, likes, comments, shares,
	                           subscribers_gained, subscribers_lost, estimated_revenue,
	                           impressions, reach, profile_views, follower_count, extra, synced_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, NOW())
	ON CONFLICT (account_id, entity_id, day) DO UPDATE
	SET platform = EXCLUDED.platform,
	    entity_type = EXCLUDED.entity_type,
	    views = EXCLUDED.views,
	    watch_minutes = EXCLUDED.watch_minutes,
	    avg_view_duration_seconds = EXCLUDED.avg_view_duration_seconds,
	    likes = EXCLUDED.likes,
	    comments = EXCLUDED.comments,
	    shares = EXCLUDED.shares,
	    subscribers_gained = EXCLUDED.subscribers_gained,
	    subscribers_lost = EXCLUDED.subscribers_lost,
	    estimated_revenue = EXCLUDED.estimated_revenue,
	    impressions = EXCLUDED.impressions,
	    reach = EXCLUDED.reach,
	    profile_views = EXCLUDED.profile_views,
	    follower_count = EXCLUDED.follower_count,
	    extra = EXCLUDED.extra,
	    synced_at = EXCLUDED.synced_at
`

func (r *dailyMetricRepository) UpsertBatch(ctx context.Context, rows []*models.DailyMetric) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, m := range rows {
		extra := m.Extra
		if extra == nil {
			extra = map[string]any{}
		}
		batch.Queue(upsertDailyMetricQuery,
			m.AccountID,
			m.Platform.String(),
			m.EntityType,
			m.EntityID,
			m.Day,
			m.Views,
			m.WatchMinutes,
			m.AvgViewDurationSeconds,
			m.Likes,
			m.Comments,
			m.Shares,
			m.SubscribersGained,
			m.SubscribersLost,
			m.EstimatedRevenue,
			m.Impressions,
			m.Reach,
			m.ProfileViews,
			m.FollowerCount,
			extra,
		)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, db.WrapError(err, "begin daily metrics upsert")
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	results := tx.SendBatch(ctx, batch)
	written := 0
	for range rows {
		tag, err := results.Exec()
		if err != nil {
			_ = results.Close()
			return 0, db.WrapError(err, "upsert daily metric")
		}
		written += int(tag.RowsAffected())
	}
	if err := results.Close(); err != nil {
		return 0, db.WrapError(err, "close daily metrics batch")
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, db.WrapError(err, "commit daily metrics upsert")
	}

	return written, nil
}

func (r *dailyMetricRepository) List(ctx context.Context, accountID string, p platform.Platform, entityType string, from, to time.Time) ([]*models.DailyMetric, error) {
	query := `
		SELECT id, account_id, platform, entity_type, entity_id, day,
		       views, watch_minutes, avg_view_duration_seconds, likes, comments, shares,
		       subscribers_gained, subscribers_lost, estimated_revenue,
		       impressions, reach, profile_views, follower_count, extra, synced_at
		FROM daily_metrics
		WHERE account_id = $1 AND platform = $2
		  AND ($3::text = '' OR entity_type = $3::text)
		  AND day BETWEEN $4 AND $5
		ORDER BY day, entity_id
	`

	rows, err := r.pool.Query(ctx, query, accountID, p.String(), entityType, from, to)
	if err != nil {
		return nil, db.WrapError(err, "list daily metrics")
	}
	defer rows.Close()

	var metrics []*models.DailyMetric
	for rows.Next() {
		m := &models.DailyMetric{}
		err := rows.Scan(
			&m.ID,
			&m.AccountID,
			&m.Platform,
			&m.EntityType,
			&m.EntityID,
			&m.Day,
			&m.Views,
			&m.WatchMinutes,
			&m.AvgViewDurationSeconds,
			&m.Likes,
			&m.Comments,
			&m.Shares,
			&m.SubscribersGained,
			&m.SubscribersLost,
			&m.EstimatedRevenue,
			&m.Impressions,
			&m.Reach,
			&m.ProfileViews,
			&m.FollowerCount,
			&m.Extra,
			&m.SyncedAt,
		)
		if err != nil {
			return nil, db.WrapError(err, "scan daily metric")
		}
		metrics = append(metrics, m)
	}

	return metrics, rows.Err()
}
