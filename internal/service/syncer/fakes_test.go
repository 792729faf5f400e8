package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/ad-tracker/analytics-sync-go/internal/apperr"
	"github.com/ad-tracker/analytics-sync-go/internal/db/models"
	"github.com/ad-tracker/analytics-sync-go/internal/platform"
	"github.com/ad-tracker/analytics-sync-go/internal/service/daterange"
	"github.com/ad-tracker/analytics-sync-go/internal/service/events"
	"github.com/ad-tracker/analytics-sync-go/internal/service/quota"
	"github.com/ad-tracker/analytics-sync-go/internal/service/report"
	"github.com/ad-tracker/analytics-sync-go/internal/service/token"
)

// fakeSource emits one channel row per day and two entity rows per day. With
// entityPages > 1 the entity rows are split across that many pages.
type fakeSource struct {
	granularity daterange.Granularity
	failures    map[string]error
	entityPages int

	mu      sync.Mutex
	fetched []string
}

// fakePage is the archived request of one fake page.
type fakePage struct {
	Range daterange.Range
	IDs   []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{granularity: daterange.Month, failures: map[string]error{}, entityPages: 1}
}

func (s *fakeSource) Platform() platform.Platform         { return platform.YouTube }
func (s *fakeSource) Granularity() daterange.Granularity { return s.granularity }
func (s *fakeSource) Reports() []string                  { return []string{"channel", "entity"} }
func (s *fakeSource) EstimatedCost(string) int           { return 1 }

func (s *fakeSource) failOn(reportType string, r string, err error) {
	s.failures[reportType+" "+r] = err
}

func (s *fakeSource) Fetch(_ context.Context, _ *token.Token, reportType string, r daterange.Range) ([]*report.Call, error) {
	key := reportType + " " + r.String()

	s.mu.Lock()
	s.fetched = append(s.fetched, key)
	s.mu.Unlock()

	if err, ok := s.failures[key]; ok {
		return []*report.Call{{
			ReportType: reportType,
			Request:    fakePage{Range: r},
			Response:   []byte(`{"error":{"message":"backend error"}}`),
			StatusCode: 503,
			Cost:       1,
		}}, err
	}

	pages := [][]string{nil}
	if reportType == "entity" {
		pages = [][]string{{"vid-a", "vid-b"}}
		if s.entityPages > 1 {
			pages = [][]string{{"vid-a"}, {"vid-b"}}
		}
	}

	calls := make([]*report.Call, 0, len(pages))
	for i, ids := range pages {
		calls = append(calls, &report.Call{
			ReportType: reportType,
			Request:    fakePage{Range: r, IDs: ids},
			Response:   []byte(fmt.Sprintf(`{"range":%q,"page":%d}`, r.String(), i+1)),
			StatusCode: 200,
			Cost:       1,
		})
	}
	return calls, nil
}

func (s *fakeSource) Map(accountID string, tok *token.Token, call *report.Call) ([]*models.DailyMetric, error) {
	page := call.Request.(fakePage)
	var rows []*models.DailyMetric
	for d := page.Range.Start; !d.After(page.Range.End); d = d.AddDate(0, 0, 1) {
		if call.ReportType == "channel" {
			m := models.NewDailyMetric(accountID, platform.YouTube, models.EntityChannel, tok.PlatformAccountID, d)
			m.Views = int64(d.Day())
			rows = append(rows, m)
			continue
		}
		for _, id := range page.IDs {
			m := models.NewDailyMetric(accountID, platform.YouTube, models.EntityVideo, id, d)
			m.Views = int64(d.Day() * 10)
			rows = append(rows, m)
		}
	}
	return rows, nil
}

func (s *fakeSource) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.fetched...)
}

// memRows is an in-memory DailyMetricRepository keyed like the real table.
type memRows struct {
	mu   sync.Mutex
	rows map[string]models.DailyMetric
	err  error
}

func newMemRows() *memRows {
	return &memRows{rows: map[string]models.DailyMetric{}}
}

func (r *memRows) UpsertBatch(_ context.Context, rows []*models.DailyMetric) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range rows {
		key := m.AccountID + "|" + m.EntityID + "|" + m.Day.Format(daterange.DateLayout)
		copied := *m
		copied.SyncedAt = time.Time{}
		r.rows[key] = copied
	}
	return len(rows), nil
}

func (r *memRows) List(context.Context, string, platform.Platform, string, time.Time, time.Time) ([]*models.DailyMetric, error) {
	return nil, nil
}

func (r *memRows) snapshot() map[string]models.DailyMetric {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]models.DailyMetric, len(r.rows))
	for k, v := range r.rows {
		out[k] = v
	}
	return out
}

type memArchive struct {
	mu   sync.Mutex
	rows []*models.RawResponse
}

func (a *memArchive) Insert(_ context.Context, raw *models.RawResponse) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rows = append(a.rows, raw)
	return nil
}

type memStates struct {
	mu      sync.Mutex
	running []string
	final   []*models.SyncState
}

func (s *memStates) Get(context.Context, string, platform.Platform) (*models.SyncState, error) {
	return nil, nil
}

func (s *memStates) MarkRunning(_ context.Context, accountID string, _ platform.Platform, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = append(s.running, accountID)
	return nil
}

func (s *memStates) Upsert(_ context.Context, state *models.SyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.final = append(s.final, state)
	return nil
}

func (s *memStates) last() *models.SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.final) == 0 {
		return nil
	}
	return s.final[len(s.final)-1]
}

type mockTokens struct {
	mock.Mock
}

func (m *mockTokens) GetValidToken(ctx context.Context, accountID string, p platform.Platform) (*token.Token, error) {
	args := m.Called(ctx, accountID, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*token.Token), args.Error(1)
}

type mockBudget struct {
	mock.Mock
}

func (m *mockBudget) CanProceed(ctx context.Context, accountID string, p platform.Platform, units int) (*quota.Usage, error) {
	args := m.Called(ctx, accountID, p, units)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*quota.Usage), args.Error(1)
}

func (m *mockBudget) TrackUsage(ctx context.Context, accountID string, p platform.Platform, units int) (bool, error) {
	args := m.Called(ctx, accountID, p, units)
	return args.Bool(0), args.Error(1)
}

type mockAccounts struct {
	mock.Mock
}

func (m *mockAccounts) Get(ctx context.Context, accountID string, p platform.Platform) (*models.Credential, error) {
	args := m.Called(ctx, accountID, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Credential), args.Error(1)
}

func (m *mockAccounts) UpdateToken(ctx context.Context, accountID string, p platform.Platform, accessToken string, refreshToken *string, expiry time.Time) error {
	return m.Called(ctx, accountID, p, accessToken, refreshToken, expiry).Error(0)
}

func (m *mockAccounts) ListConnected(ctx context.Context, p platform.Platform) ([]*models.ConnectedAccount, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ConnectedAccount), args.Error(1)
}

type mockLocker struct {
	mock.Mock
}

func (m *mockLocker) Acquire(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *mockLocker) Release(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishSyncEvent(ctx context.Context, event *events.SyncEvent) error {
	return m.Called(ctx, event).Error(0)
}

func allowed() *quota.Usage {
	return &quota.Usage{Allowed: true, DailyLimit: 10000, Critical: 9000, Level: quota.LevelOK}
}

func exhausted() *quota.Usage {
	return &quota.Usage{Allowed: false, CurrentUsage: 9000, DailyLimit: 10000, Critical: 9000, Level: quota.LevelCritical}
}

var errUpstream = &apperr.APIError{Status: 503, Body: `{"error":{"message":"backend error"}}`}
