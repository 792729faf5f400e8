package youtube

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchVideoIDs(t *testing.T) {
	ids := make([]string, 120)
	for i := range ids {
		ids[i] = "v"
	}

	batches := BatchVideoIDs(ids, 50)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 50)
	assert.Len(t, batches[2], 20)

	assert.Len(t, BatchVideoIDs(ids, 0), 3)
	assert.Empty(t, BatchVideoIDs(nil, 50))
}

func newDataAPIServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/youtube/v3/channels", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer access", r.Header.Get("Authorization"))
		assert.Equal(t, "true", r.URL.Query().Get("mine"))
		_, _ = w.Write([]byte(`{"items":[{"id":"UC123",
		  "statistics":{"viewCount":"1000","subscriberCount":"50","videoCount":"2"},
		  "contentDetails":{"relatedPlaylists":{"uploads":"UU123"}}}]}`))
	})
	mux.HandleFunc("/youtube/v3/playlistItems", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "UU123", r.URL.Query().Get("playlistId"))
		_, _ = w.Write([]byte(`{"items":[
		  {"contentDetails":{"videoId":"vid-a"}},
		  {"contentDetails":{"videoId":"vid-b"}}]}`))
	})
	mux.HandleFunc("/youtube/v3/videos", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[
		  {"id":"vid-a","snippet":{"liveBroadcastContent":"none"},
		   "statistics":{"viewCount":"700","likeCount":"30","commentCount":"4"}},
		  {"id":"vid-b","snippet":{"liveBroadcastContent":"live"},
		   "statistics":{"viewCount":"300","likeCount":"10","commentCount":"1"},
		   "liveStreamingDetails":{"concurrentViewers":"25"}}]}`))
	})
	return httptest.NewServer(mux)
}

func TestSnapshotSource_Capture(t *testing.T) {
	srv := newDataAPIServer(t)
	defer srv.Close()

	src := NewSnapshotSource(srv.URL+"/youtube/v3/", srv.Client(), 50, 0)
	snaps, cost, err := src.Capture(context.Background(), "acct-1", testToken)

	require.NoError(t, err)
	assert.Equal(t, 3, cost)
	require.Len(t, snaps, 3)

	account := snaps[0]
	assert.True(t, account.IsAccountLevel())
	assert.Equal(t, int64(1000), account.ViewCount)
	assert.Equal(t, int64(50), account.FollowerCount)
	assert.Equal(t, int64(2), account.VideoCount)

	assert.Equal(t, "vid-a", *snaps[1].EntityID)
	assert.False(t, snaps[1].IsLive)
	assert.Nil(t, snaps[1].ConcurrentViewers)

	live := snaps[2]
	assert.True(t, live.IsLive)
	require.NotNil(t, live.ConcurrentViewers)
	assert.Equal(t, int64(25), *live.ConcurrentViewers)
	assert.Equal(t, account.CapturedAt, live.CapturedAt)
}

func TestSnapshotSource_CaptureNoChannel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[]}`))
	}))
	defer srv.Close()

	src := NewSnapshotSource(srv.URL+"/", srv.Client(), 10, 0)
	_, cost, err := src.Capture(context.Background(), "acct-1", testToken)

	assert.Error(t, err)
	assert.Equal(t, 1, cost)
}

func TestSnapshotSource_CaptureUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"quotaExceeded"}}`))
	}))
	defer srv.Close()

	src := NewSnapshotSource(srv.URL+"/", srv.Client(), 10, 0)
	_, _, err := src.Capture(context.Background(), "acct-1", testToken)
	assert.ErrorContains(t, err, "channel statistics")
}

func TestSnapshotSource_CaptureTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	src := NewSnapshotSource(srv.URL+"/", srv.Client(), 10, 50*time.Millisecond)

	start := time.Now()
	_, cost, err := src.Capture(context.Background(), "acct-1", testToken)

	require.Error(t, err)
	assert.Equal(t, 1, cost)
	assert.Less(t, time.Since(start), 2*time.Second)
}
