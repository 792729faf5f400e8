package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ad-tracker/analytics-sync-go/internal/platform"
)

// RawResponse is an archived upstream request/response pair.
type RawResponse struct {
	ID           uuid.UUID         `db:"id" json:"id"`
	AccountID    string            `db:"account_id" json:"account_id"`
	Platform     platform.Platform `db:"platform" json:"platform"`
	ReportType   string            `db:"report_type" json:"report_type"`
	RequestJSON  json.RawMessage   `db:"request_json" json:"request_json"`
	ResponseJSON json.RawMessage   `db:"response_json" json:"response_json"`
	ResponseHash string            `db:"response_hash" json:"response_hash"`
	StatusCode   int               `db:"status_code" json:"status_code"`
	CapturedAt   time.Time         `db:"captured_at" json:"captured_at"`
}
