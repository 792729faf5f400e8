package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ad-tracker/analytics-sync-go/internal/db"
	"github.com/ad-tracker/analytics-sync-go/internal/db/models"
	"github.com/ad-tracker/analytics-sync-go/internal/platform"
)

// QuotaRepository defines operations for per-account daily API quota usage.
type QuotaRepository interface {
	// GetUsage retrieves usage for one platform-local day. Returns db.ErrNotFound when nothing was spent.
	GetUsage(ctx context.Context, accountID string, p platform.Platform, day time.Time) (*models.QuotaUsage, error)

	// AddUsage atomically adds units to the day's usage and returns the new total.
	AddUsage(ctx context.Context, accountID string, p platform.Platform, day time.Time, units, available int) (int, error)

	// GetHistory retrieves usage for days on or after since, newest first.
	GetHistory(ctx context.Context, accountID string, p platform.Platform, since time.Time) ([]*models.QuotaUsage, error)
}

type quotaRepository struct {
	pool *pgxpool.Pool
}

// NewQuotaRepository creates a new QuotaRepository.
func NewQuotaRepository(pool *pgxpool.Pool) QuotaRepository {
	return &quotaRepository{pool: pool}
}

func (r *quotaRepository) GetUsage(ctx context.Context, accountID string, p platform.Platform, day time.Time) (*models.QuotaUsage, error) {
	query := `
		SELECT account_id, platform, usage_date, units_used, units_available, call_count, updated_at
		FROM api_quota_usage
		WHERE account_id = $1 AND platform = $2 AND usage_date = $3
	`

	usage := &models.QuotaUsage{}
	err := r.pool.QueryRow(ctx, query, accountID, p.String(), day).Scan(
		&usage.AccountID,
		&usage.Platform,
		&usage.UsageDate,
		&usage.UnitsUsed,
		&usage.UnitsAvailable,
		&usage.CallCount,
		&usage.UpdatedAt,
	)

	if err != nil {
		return nil, db.WrapError(err, "get quota usage")
	}

	return usage, nil
}

// AddUsage is the only write path for api_quota_usage. The increment happens
// inside a single statement so concurrent writers never lose updates.
func (r *quotaRepository) AddUsage(ctx context.Context, accountID string, p platform.Platform, day time.Time, units, available int) (int, error) {
	query := `
		INSERT INTO api_quota_usage (account_id, platform, usage_date, units_used, units_available, call_count)
		VALUES ($1, $2, $3, $4, $5, 1)
		ON CONFLICT (account_id, platform, usage_date) DO UPDATE
		SET units_used = api_quota_usage.units_used + EXCLUDED.units_used,
		    units_available = EXCLUDED.units_available,
		    call_count = api_quota_usage.call_count + 1,
		    updated_at = NOW()
		RETURNING units_used
	`

	var total int
	err := r.pool.QueryRow(ctx, query, accountID, p.String(), day, units, available).Scan(&total)
	if err != nil {
		return 0, db.WrapError(err, "add quota usage")
	}

	return total, nil
}

func (r *quotaRepository) GetHistory(ctx context.Context, accountID string, p platform.Platform, since time.Time) ([]*models.QuotaUsage, error) {
	query := `
		SELECT account_id, platform, usage_date, units_used, units_available, call_count, updated_at
		FROM api_quota_usage
		WHERE account_id = $1 AND platform = $2 AND usage_date >= $3
		ORDER BY usage_date DESC
	`

	rows, err := r.pool.Query(ctx, query, accountID, p.String(), since)
	if err != nil {
		return nil, db.WrapError(err, "get quota history")
	}
	defer rows.Close()

	var history []*models.QuotaUsage
	for rows.Next() {
		usage := &models.QuotaUsage{}
		err := rows.Scan(
			&usage.AccountID,
			&usage.Platform,
			&usage.UsageDate,
			&usage.UnitsUsed,
			&usage.UnitsAvailable,
			&usage.CallCount,
			&usage.UpdatedAt,
		)
		if err != nil {
			return nil, db.WrapError(err, "scan quota history")
		}
		history = append(history, usage)
	}

	return history, rows.Err()
}
