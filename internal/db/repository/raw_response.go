package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ad-tracker/analytics-sync-go/internal/db"
	"github.com/ad-tracker/analytics-sync-go/internal/db/models"
)

// RawResponseRepository defines operations for the raw response archive.
type RawResponseRepository interface {
	// Insert archives one upstream response. ID and CapturedAt are filled in when empty.
	Insert(ctx context.Context, raw *models.RawResponse) error
}

type rawResponseRepository struct {
	pool *pgxpool.Pool
}

// NewRawResponseRepository creates a new RawResponseRepository.
func NewRawResponseRepository(pool *pgxpool.Pool) RawResponseRepository {
	return &rawResponseRepository{pool: pool}
}

func (r *rawResponseRepository) Insert(ctx context.Context, raw *models.RawResponse) error {
	if raw.ID == uuid.Nil {
		raw.ID = uuid.New()
	}

	query := `
		INSERT INTO raw_api_responses (id, account_id, platform, report_type, request_json,
		                               response_json, response_hash, status_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING captured_at
	`

	err := r.pool.QueryRow(ctx, query,
		raw.ID,
		raw.AccountID,
		raw.Platform.String(),
		raw.ReportType,
		raw.RequestJSON,
		raw.ResponseJSON,
		raw.ResponseHash,
		raw.StatusCode,
	).Scan(&raw.CapturedAt)

	if err != nil {
		return db.WrapError(err, "insert raw response")
	}

	return nil
}
