package models

import (
	"time"

	"github.com/ad-tracker/analytics-sync-go/internal/platform"
)

// Credential is a stored OAuth credential for one account on one platform.
type Credential struct {
	AccountID         string            `db:"account_id" json:"account_id"`
	Platform          platform.Platform `db:"platform" json:"platform"`
	AccessToken       string            `db:"access_token" json:"-"`
	RefreshToken      *string           `db:"refresh_token" json:"-"`
	TokenExpiry       *time.Time        `db:"token_expiry" json:"token_expiry,omitempty"`
	PlatformAccountID string            `db:"platform_account_id" json:"platform_account_id"`
	CreatedAt         time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time         `db:"updated_at" json:"updated_at"`
}

// HasRefreshToken reports whether a non-empty refresh token is stored.
func (c *Credential) HasRefreshToken() bool {
	return c.RefreshToken != nil && *c.RefreshToken != ""
}

// ExpiredAt reports whether the access token is expired at now. A nil expiry
// never counts as expired.
func (c *Credential) ExpiredAt(now time.Time) bool {
	return c.TokenExpiry != nil && !c.TokenExpiry.After(now)
}

// ConnectedAccount is an account with a stored credential for a platform.
type ConnectedAccount struct {
	AccountID         string            `db:"account_id" json:"account_id"`
	Platform          platform.Platform `db:"platform" json:"platform"`
	PlatformAccountID string            `db:"platform_account_id" json:"platform_account_id"`
}
