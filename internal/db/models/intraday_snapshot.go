package models

import (
	"time"

	"github.com/ad-tracker/analytics-sync-go/internal/platform"
)

// IntradaySnapshot is a point-in-time reading of cumulative counters.
// EntityID is nil for account-level snapshots.
type IntradaySnapshot struct {
	ID                int64             `db:"id" json:"id"`
	AccountID         string            `db:"account_id" json:"account_id"`
	Platform          platform.Platform `db:"platform" json:"platform"`
	EntityID          *string           `db:"entity_id" json:"entity_id,omitempty"`
	CapturedAt        time.Time         `db:"captured_at" json:"captured_at"`
	ViewCount         int64             `db:"view_count" json:"view_count"`
	LikeCount         int64             `db:"like_count" json:"like_count"`
	CommentCount      int64             `db:"comment_count" json:"comment_count"`
	FollowerCount     int64             `db:"follower_count" json:"follower_count"`
	VideoCount        int64             `db:"video_count" json:"video_count"`
	IsLive            bool              `db:"is_live" json:"is_live"`
	ConcurrentViewers *int64            `db:"concurrent_viewers" json:"concurrent_viewers,omitempty"`
}

// IsAccountLevel reports whether the snapshot describes the whole account.
func (s *IntradaySnapshot) IsAccountLevel() bool {
	return s.EntityID == nil
}
