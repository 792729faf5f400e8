package instagram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/quartz"

	"github.com/ad-tracker/analytics-sync-go/internal/db/models"
	"github.com/ad-tracker/analytics-sync-go/internal/platform"
	"github.com/ad-tracker/analytics-sync-go/internal/service/apiclient"
	"github.com/ad-tracker/analytics-sync-go/internal/service/token"
)

// SnapshotSource reads the account's current follower and media counts.
type SnapshotSource struct {
	client   *apiclient.Client
	graphURL string
	clock    quartz.Clock
}

// SnapshotOption configures a SnapshotSource.
type SnapshotOption func(*SnapshotSource)

// WithClock replaces the clock that stamps captured snapshots.
func WithClock(clock quartz.Clock) SnapshotOption {
	return func(s *SnapshotSource) { s.clock = clock }
}

// NewSnapshotSource creates a SnapshotSource.
func NewSnapshotSource(client *apiclient.Client, graphURL string, opts ...SnapshotOption) *SnapshotSource {
	s := &SnapshotSource{client: client, graphURL: strings.TrimRight(graphURL, "/"), clock: quartz.NewReal()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SnapshotSource) Platform() platform.Platform { return platform.Instagram }

func (s *SnapshotSource) EstimatedCost() int { return callCost }

type accountFields struct {
	ID             string `json:"id"`
	FollowersCount int64  `json:"followers_count"`
	MediaCount     int64  `json:"media_count"`
}

// Capture returns a single account-level snapshot and the calls spent.
func (s *SnapshotSource) Capture(ctx context.Context, accountID string, tok *token.Token) ([]*models.IntradaySnapshot, int, error) {
	var fields accountFields
	resp, err := s.client.CallJSON(ctx, &apiclient.Request{
		Method: http.MethodGet,
		URL:    s.graphURL + "/" + tok.PlatformAccountID,
		Query:  url.Values{"fields": {"id,followers_count,media_count"}},
		Token:  tok.AccessToken,
	}, &fields)
	cost := s.client.AttemptsFor(resp) * callCost
	if err != nil {
		return nil, cost, fmt.Errorf("failed to fetch account counters: %w", err)
	}

	return []*models.IntradaySnapshot{{
		AccountID:     accountID,
		Platform:      platform.Instagram,
		CapturedAt:    s.clock.Now().UTC(),
		FollowerCount: fields.FollowersCount,
		VideoCount:    fields.MediaCount,
	}}, cost, nil
}
