package models

import (
	"time"

	"github.com/ad-tracker/analytics-sync-go/internal/platform"
)

// Sync statuses.
const (
	SyncStatusRunning   = "running"
	SyncStatusCompleted = "completed"
	SyncStatusFailed    = "failed"
)

// Sync modes.
const (
	SyncModeBackfill    = "backfill"
	SyncModeIncremental = "incremental"
)

// SyncState is the last known outcome of syncing one account on one platform.
type SyncState struct {
	AccountID    string            `db:"account_id" json:"account_id"`
	Platform     platform.Platform `db:"platform" json:"platform"`
	LastSyncDate *time.Time        `db:"last_sync_date" json:"last_sync_date,omitempty"`
	LastSyncAt   *time.Time        `db:"last_sync_at" json:"last_sync_at,omitempty"`
	Status       string            `db:"status" json:"status"`
	LastError    *string           `db:"last_error" json:"last_error,omitempty"`
	RowsInserted int               `db:"rows_inserted" json:"rows_inserted"`
	Mode         string            `db:"mode" json:"mode"`
	UpdatedAt    time.Time         `db:"updated_at" json:"updated_at"`
}
