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

// SnapshotRepository defines operations for append-only intraday snapshots.
type SnapshotRepository interface {
	// Append inserts snapshots and returns how many were written.
	Append(ctx context.Context, snapshots []*models.IntradaySnapshot) (int, error)

	// ListSince retrieves snapshots captured at or after since, ordered by captured_at.
	ListSince(ctx context.Context, accountID string, p platform.Platform, since time.Time) ([]*models.IntradaySnapshot, error)
}

type snapshotRepository struct {
	pool *pgxpool.Pool
}

// NewSnapshotRepository creates a new SnapshotRepository.
func NewSnapshotRepository(pool *pgxpool.Pool) SnapshotRepository {
	return &snapshotRepository{pool: pool}
}

var snapshotColumns = []string{
	"account_id", "platform", "entity_id", "captured_at",
	"view_count", "like_count", "comment_count", "follower_count", "video_count",
	"is_live", "concurrent_viewers",
}

func (r *snapshotRepository) Append(ctx context.Context, snapshots []*models.IntradaySnapshot) (int, error) {
	if len(snapshots) == 0 {
		return 0, nil
	}

	n, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"intraday_snapshots"},
		snapshotColumns,
		pgx.CopyFromSlice(len(snapshots), func(i int) ([]any, error) {
			s := snapshots[i]
			return []any{
				s.AccountID,
				s.Platform.String(),
				s.EntityID,
				s.CapturedAt,
				s.ViewCount,
				s.LikeCount,
				s.CommentCount,
				s.FollowerCount,
				s.VideoCount,
				s.IsLive,
				s.ConcurrentViewers,
			}, nil
		}),
	)
	if err != nil {
		return 0, db.WrapError(err, "append snapshots")
	}

	return int(n), nil
}

func (r *snapshotRepository) ListSince(ctx context.Context, accountID string, p platform.Platform, since time.Time) ([]*models.IntradaySnapshot, error) {
	query := `
		SELECT id, account_id, platform, entity_id, captured_at,
		       view_count, like_count, comment_count, follower_count, video_count,
		       is_live, concurrent_viewers
		FROM intraday_snapshots
		WHERE account_id = $1 AND platform = $2 AND captured_at >= $3
		ORDER BY captured_at, id
	`

	rows, err := r.pool.Query(ctx, query, accountID, p.String(), since)
	if err != nil {
		return nil, db.WrapError(err, "list snapshots")
	}
	defer rows.Close()

	var snapshots []*models.IntradaySnapshot
	for rows.Next() {
		s := &models.IntradaySnapshot{}
		err := rows.Scan(
			&s.ID,
			&s.AccountID,
			&s.Platform,
			&s.EntityID,
			&s.CapturedAt,
			&s.ViewCount,
			&s.LikeCount,
			&s.CommentCount,
			&s.FollowerCount,
			&s.VideoCount,
			&s.IsLive,
			&s.ConcurrentViewers,
		)
		if err != nil {
			return nil, db.WrapError(err, "scan snapshot")
		}
		snapshots = append(snapshots, s)
	}

	return snapshots, rows.Err()
}
