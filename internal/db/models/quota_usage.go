package models

import (
	"time"

	"github.com/ad-tracker/analytics-sync-go/internal/platform"
)

// QuotaUsage is the API budget consumed by one account on one platform-local day.
type QuotaUsage struct {
	AccountID      string            `db:"account_id" json:"account_id"`
	Platform       platform.Platform `db:"platform" json:"platform"`
	UsageDate      time.Time         `db:"usage_date" json:"usage_date"`
	UnitsUsed      int               `db:"units_used" json:"units_used"`
	UnitsAvailable int               `db:"units_available" json:"units_available"`
	CallCount      int               `db:"call_count" json:"call_count"`
	UpdatedAt      time.Time         `db:"updated_at" json:"updated_at"`
}
