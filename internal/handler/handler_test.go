package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ad-tracker/analytics-sync-go/internal/db/models"
	"github.com/ad-tracker/analytics-sync-go/internal/middleware"
	"github.com/ad-tracker/analytics-sync-go/internal/platform"
	"github.com/ad-tracker/analytics-sync-go/internal/service/delta"
	"github.com/ad-tracker/analytics-sync-go/internal/service/quota"
	"github.com/ad-tracker/analytics-sync-go/internal/service/snapshot"
	"github.com/ad-tracker/analytics-sync-go/internal/service/syncer"
)

const (
	testServiceKey = "svc-key"
	testJWTSecret  = "session-secret"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockSyncer struct {
	mock.Mock
}

func (m *mockSyncer) Backfill(ctx context.Context, accountID string, p platform.Platform, from, to time.Time) (*syncer.Result, error) {
	args := m.Called(ctx, accountID, p, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*syncer.Result), args.Error(1)
}

func (m *mockSyncer) Incremental(ctx context.Context, accountID string, p platform.Platform) (*syncer.Result, error) {
	args := m.Called(ctx, accountID, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*syncer.Result), args.Error(1)
}

type mockEnqueuer struct {
	mock.Mock
}

func (m *mockEnqueuer) EnqueueBackfill(ctx context.Context, p platform.Platform, accountID, fromDate, toDate string) (*asynq.TaskInfo, error) {
	args := m.Called(ctx, p, accountID, fromDate, toDate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*asynq.TaskInfo), args.Error(1)
}

type mockCapturer struct {
	mock.Mock
}

func (m *mockCapturer) Capture(ctx context.Context, accountID string, p platform.Platform) (int, error) {
	args := m.Called(ctx, accountID, p)
	return args.Int(0), args.Error(1)
}

func (m *mockCapturer) CaptureAll(ctx context.Context, p platform.Platform) (*snapshot.Result, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*snapshot.Result), args.Error(1)
}

type mockDeltas struct {
	mock.Mock
}

func (m *mockDeltas) AccountDeltas(ctx context.Context, accountID string, p platform.Platform) (*delta.Rollup, error) {
	args := m.Called(ctx, accountID, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*delta.Rollup), args.Error(1)
}

type mockStates struct {
	mock.Mock
}

func (m *mockStates) Get(ctx context.Context, accountID string, p platform.Platform) (*models.SyncState, error) {
	args := m.Called(ctx, accountID, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SyncState), args.Error(1)
}

func (m *mockStates) MarkRunning(ctx context.Context, accountID string, p platform.Platform, mode string) error {
	return m.Called(ctx, accountID, p, mode).Error(0)
}

func (m *mockStates) Upsert(ctx context.Context, state *models.SyncState) error {
	return m.Called(ctx, state).Error(0)
}

type mockMetrics struct {
	mock.Mock
}

func (m *mockMetrics) UpsertBatch(ctx context.Context, rows []*models.DailyMetric) (int, error) {
	args := m.Called(ctx, rows)
	return args.Int(0), args.Error(1)
}

func (m *mockMetrics) List(ctx context.Context, accountID string, p platform.Platform, entityType string, from, to time.Time) ([]*models.DailyMetric, error) {
	args := m.Called(ctx, accountID, p, entityType, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.DailyMetric), args.Error(1)
}

type mockBudget struct {
	mock.Mock
}

func (m *mockBudget) CanProceed(ctx context.Context, accountID string, p platform.Platform, estimatedUnits int) (*quota.Usage, error) {
	args := m.Called(ctx, accountID, p, estimatedUnits)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*quota.Usage), args.Error(1)
}

func (m *mockBudget) History(ctx context.Context, accountID string, p platform.Platform, days int) ([]*models.QuotaUsage, error) {
	args := m.Called(ctx, accountID, p, days)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.QuotaUsage), args.Error(1)
}

type mockPinger struct {
	mock.Mock
}

func (m *mockPinger) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type fakeHealth bool

func (f fakeHealth) IsHealthy() bool { return bool(f) }

type fixture struct {
	syncer   *mockSyncer
	queue    *mockEnqueuer
	capturer *mockCapturer
	deltas   *mockDeltas
	states   *mockStates
	metrics  *mockMetrics
	budget   *mockBudget
	pinger   *mockPinger
	router   *gin.Engine
}

func newFixture() *fixture {
	f := &fixture{
		syncer:   new(mockSyncer),
		queue:    new(mockEnqueuer),
		capturer: new(mockCapturer),
		deltas:   new(mockDeltas),
		states:   new(mockStates),
		metrics:  new(mockMetrics),
		budget:   new(mockBudget),
		pinger:   new(mockPinger),
	}
	f.router = NewRouter(Handlers{
		Health:   NewHealthHandler(f.pinger, nil),
		Sync:     NewSyncHandler(f.syncer, f.queue),
		Snapshot: NewSnapshotHandler(f.capturer),
		Account:  NewAccountHandler(f.deltas, f.states, f.metrics, f.budget),
	}, middleware.NewAuth([]string{testServiceKey}, testJWTSecret))
	return f
}

type caller func(t *testing.T, req *http.Request)

func asService(_ *testing.T, req *http.Request) {
	req.Header.Set("X-API-Key", testServiceKey)
}

func asUser(accountID string) caller {
	return func(t *testing.T, req *http.Request) {
		claims := jwt.RegisteredClaims{
			Subject:   accountID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+signed)
	}
}

func anonymous(*testing.T, *http.Request) {}

func (f *fixture) do(t *testing.T, method, path string, body any, as caller) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	as(t, req)

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var decoded map[string]any
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &decoded)
	}
	return w, decoded
}
