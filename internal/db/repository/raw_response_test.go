//go:build integration

package repository

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ad-tracker/analytics-sync-go/internal/db"
	"github.com/ad-tracker/analytics-sync-go/internal/db/models"
	"github.com/ad-tracker/analytics-sync-go/internal/db/testutil"
	"github.com/ad-tracker/analytics-sync-go/internal/platform"
)

func TestRawResponseRepository(t *testing.T) {
	td := testutil.SetupTestDatabase(t, migrationsDir)
	defer td.Cleanup(t)

	repo := NewRawResponseRepository(td.Pool)
	ctx := context.Background()
	td.TruncateTables(t)

	body := []byte(`{"columnHeaders":[{"name":"day"}],"rows":[["2024-01-01"]]}`)
	raw := &models.RawResponse{
		AccountID:    "acct-1",
		Platform:     platform.YouTube,
		ReportType:   "channel_daily",
		RequestJSON:  json.RawMessage(`{"startDate":"2024-01-01","endDate":"2024-01-31"}`),
		ResponseJSON: json.RawMessage(body),
		ResponseHash: db.ContentHash(body),
		StatusCode:   200,
	}
	require.NoError(t, repo.Insert(ctx, raw))
	assert.NotEqual(t, uuid.Nil, raw.ID)
	assert.NotZero(t, raw.CapturedAt)

	var (
		reportType string
		stored     []byte
		hash       string
	)
	err := td.Pool.QueryRow(ctx,
		`SELECT report_type, response_json, response_hash FROM raw_api_responses WHERE id = $1`, raw.ID,
	).Scan(&reportType, &stored, &hash)
	require.NoError(t, err)
	assert.Equal(t, "channel_daily", reportType)
	assert.JSONEq(t, string(body), string(stored))
	assert.Equal(t, raw.ResponseHash, hash)

	_, err = td.Pool.Exec(ctx, `UPDATE raw_api_responses SET status_code = 500`)
	assert.ErrorIs(t, db.WrapError(err, "update raw response"), db.ErrAppendOnly)
}
