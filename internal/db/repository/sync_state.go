package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ad-tracker/analytics-sync-go/internal/db"
	"github.com/ad-tracker/analytics-sync-go/internal/db/models"
	"github.com/ad-tracker/analytics-sync-go/internal/platform"
)

// SyncStateRepository defines operations for per-account sync state.
type SyncStateRepository interface {
	// Get retrieves the sync state for an account on a platform.
	Get(ctx context.Context, accountID string, p platform.Platform) (*models.SyncState, error)

	// MarkRunning records that a sync has started, keeping the last completed date.
	MarkRunning(ctx context.Context, accountID string, p platform.Platform, mode string) error

	// Upsert writes the final state of a sync run. Last write wins.
	Upsert(ctx context.Context, state *models.SyncState) error
}

type syncStateRepository struct {
	pool *pgxpool.Pool
}

// NewSyncStateRepository creates a new SyncStateRepository.
func NewSyncStateRepository(pool *pgxpool.Pool) SyncStateRepository {
	return &syncStateRepository{pool: pool}
}

func (r *syncStateRepository) Get(ctx context.Context, accountID string, p platform.Platform) (*models.SyncState, error) {
	query := `
		SELECT account_id, platform, last_sync_date, last_sync_at, status, last_error,
		       rows_inserted, mode, updated_at
		FROM sync_state
		WHERE account_id = $1 AND platform = $2
	`

	state := &models.SyncState{}
	err := r.pool.QueryRow(ctx, query, accountID, p.String()).Scan(
		&state.AccountID,
		&state.Platform,
		&state.LastSyncDate,
		&state.LastSyncAt,
		&state.Status,
		&state.LastError,
		&state.RowsInserted,
		&state.Mode,
		&state.UpdatedAt,
	)

	if err != nil {
		return nil, db.WrapError(err, "get sync state")
	}

	return state, nil
}

func (r *syncStateRepository) MarkRunning(ctx context.Context, accountID string, p platform.Platform, mode string) error {
	query := `
		INSERT INTO sync_state (account_id, platform, status, mode)
		VALUES ($1, $2, 'running', $3)
		ON CONFLICT (account_id, platform) DO UPDATE
		SET status = 'running',
		    mode = EXCLUDED.mode,
		    updated_at = NOW()
	`

	if _, err := r.pool.Exec(ctx, query, accountID, p.String(), mode); err != nil {
		return db.WrapError(err, "mark sync running")
	}

	return nil
}

func (r *syncStateRepository) Upsert(ctx context.Context, state *models.SyncState) error {
	query := `
		INSERT INTO sync_state (account_id, platform, last_sync_date, last_sync_at, status,
		                        last_error, rows_inserted, mode)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (account_id, platform) DO UPDATE
		SET last_sync_date = COALESCE(EXCLUDED.last_sync_date, sync_state.last_sync_date),
		    last_sync_at = EXCLUDED.last_sync_at,
		    status = EXCLUDED.status,
		    last_error = EXCLUDED.last_error,
		    rows_inserted = EXCLUDED.rows_inserted,
		    mode = EXCLUDED.mode,
		    updated_at = NOW()
		RETURNING updated_at
	`

	err := r.pool.QueryRow(ctx, query,
		state.AccountID,
		state.Platform.String(),
		state.LastSyncDate,
		state.LastSyncAt,
		state.Status,
		state.LastError,
		state.RowsInserted,
		state.Mode,
	).Scan(&state.UpdatedAt)

	if err != nil {
		return db.WrapError(err, "upsert sync state")
	}

	return nil
}
