// Package youtube reads YouTube Analytics reports and YouTube Data API statistics.
package youtube

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/ad-tracker/analytics-sync-go/internal/db/models"
	"github.com/ad-tracker/analytics-sync-go/internal/platform"
	"github.com/ad-tracker/analytics-sync-go/internal/service/token"
)

const (
	// maxBatchSize is the most ids videos.list accepts per call.
	maxBatchSize = 50

	// defaultCallTimeout bounds one Data API call.
	defaultCallTimeout = 30 * time.Second
)

// SnapshotSource captures current channel and video statistics through the
// YouTube Data API v3.
type SnapshotSource struct {
	endpoint   string
	httpClient *http.Client
	videoLimit int
	timeout    time.Duration
	now        func() time.Time
}

// NewSnapshotSource creates a SnapshotSource. An empty endpoint uses the
// public API; videoLimit caps how many recent uploads are sampled. Each Data
// API call is bounded by timeout, or 30s when it is not positive.
func NewSnapshotSource(endpoint string, httpClient *http.Client, videoLimit int, timeout time.Duration) *SnapshotSource {
	if videoLimit <= 0 || videoLimit > maxBatchSize {
		videoLimit = maxBatchSize
	}
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &SnapshotSource{
		endpoint:   endpoint,
		httpClient: httpClient,
		videoLimit: videoLimit,
		timeout:    timeout,
		now:        time.Now,
	}
}

func (s *SnapshotSource) Platform() platform.Platform { return platform.YouTube }

// EstimatedCost covers channels.list, playlistItems.list and one videos.list batch.
func (s *SnapshotSource) EstimatedCost() int { return 3 }

func (s *SnapshotSource) service(ctx context.Context, tok *token.Token) (*youtube.Service, error) {
	if s.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	}
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok.AccessToken}))

	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if s.endpoint != "" {
		opts = append(opts, option.WithEndpoint(s.endpoint))
	}

	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create YouTube service: %w", err)
	}
	return svc, nil
}

// Capture returns one account-level snapshot plus one per recently uploaded
// video, and the quota units spent.
func (s *SnapshotSource) Capture(ctx context.Context, accountID string, tok *token.Token) ([]*models.IntradaySnapshot, int, error) {
	svc, err := s.service(ctx, tok)
	if err != nil {
		return nil, 0, err
	}

	cost := 0
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	channels, err := svc.Channels.List([]string{"statistics", "contentDetails"}).Mine(true).Context(callCtx).Do()
	cancel()
	cost++
	if err != nil {
		return nil, cost, fmt.Errorf("failed to fetch channel statistics: %w", err)
	}
	if len(channels.Items) == 0 {
		return nil, cost, fmt.Errorf("no channel found for account %s", accountID)
	}

	channel := channels.Items[0]
	capturedAt := s.now().UTC()

	account := &models.IntradaySnapshot{
		AccountID:  accountID,
		Platform:   platform.YouTube,
		CapturedAt: capturedAt,
	}
	if channel.Statistics != nil {
		account.ViewCount = int64(channel.Statistics.ViewCount)         //nolint:gosec // counts fit in int64
		account.FollowerCount = int64(channel.Statistics.SubscriberCount) //nolint:gosec // counts fit in int64
		account.VideoCount = int64(channel.Statistics.VideoCount)       //nolint:gosec // counts fit in int64
	}
	snapshots := []*models.IntradaySnapshot{account}

	if channel.ContentDetails == nil || channel.ContentDetails.RelatedPlaylists == nil ||
		channel.ContentDetails.RelatedPlaylists.Uploads == "" {
		return snapshots, cost, nil
	}

	callCtx, cancel = context.WithTimeout(ctx, s.timeout)
	uploads, err := svc.PlaylistItems.List([]string{"contentDetails"}).
		PlaylistId(channel.ContentDetails.RelatedPlaylists.Uploads).
		MaxResults(int64(s.videoLimit)).
		Context(callCtx).Do()
	cancel()
	cost++
	if err != nil {
		return nil, cost, fmt.Errorf("failed to list uploads: %w", err)
	}

	videoIDs := make([]string, 0, len(uploads.Items))
	for _, item := range uploads.Items {
		if item.ContentDetails != nil && item.ContentDetails.VideoId != "" {
			videoIDs = append(videoIDs, item.ContentDetails.VideoId)
		}
	}

	for _, batch := range BatchVideoIDs(videoIDs, maxBatchSize) {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		resp, err := svc.Videos.List([]string{"snippet", "statistics", "liveStreamingDetails"}).
			Id(batch...).Context(callCtx).Do()
		cancel()
		cost++
		if err != nil {
			return nil, cost, fmt.Errorf("failed to fetch video statistics: %w", err)
		}
		for _, v := range resp.Items {
			snapshots = append(snapshots, videoSnapshot(accountID, capturedAt, v))
		}
	}

	return snapshots, cost, nil
}

func videoSnapshot(accountID string, capturedAt time.Time, v *youtube.Video) *models.IntradaySnapshot {
	id := v.Id
	snap := &models.IntradaySnapshot{
		AccountID:  accountID,
		Platform:   platform.YouTube,
		EntityID:   &id,
		CapturedAt: capturedAt,
	}
	if v.Statistics != nil {
		snap.ViewCount = int64(v.Statistics.ViewCount)       //nolint:gosec // counts fit in int64
		snap.LikeCount = int64(v.Statistics.LikeCount)       //nolint:gosec // counts fit in int64
		snap.CommentCount = int64(v.Statistics.CommentCount) //nolint:gosec // counts fit in int64
	}
	if v.Snippet != nil && v.Snippet.LiveBroadcastContent == "live" {
		snap.IsLive = true
		if v.LiveStreamingDetails != nil {
			viewers := int64(v.LiveStreamingDetails.ConcurrentViewers) //nolint:gosec // counts fit in int64
			snap.ConcurrentViewers = &viewers
		}
	}
	return snap
}

// BatchVideoIDs splits a large list of video IDs into batches of 50
func BatchVideoIDs(videoIDs []string, batchSize int) [][]string {
	if batchSize <= 0 || batchSize > maxBatchSize {
		batchSize = maxBatchSize
	}

	var batches [][]string
	for i := 0; i < len(videoIDs); i += batchSize {
		end := i + batchSize
		if end > len(videoIDs) {
			end = len(videoIDs)
		}
		batches = append(batches, videoIDs[i:end])
	}

	return batches
}
