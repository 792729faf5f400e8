package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ad-tracker/analytics-sync-go/internal/apperr"
	"github.com/ad-tracker/analytics-sync-go/internal/db/models"
	"github.com/ad-tracker/analytics-sync-go/internal/platform"
	"github.com/ad-tracker/analytics-sync-go/internal/service/quota"
	"github.com/ad-tracker/analytics-sync-go/internal/service/token"
)

var testTok = &token.Token{AccessToken: "access", PlatformAccountID: "UC123"}

type mockSource struct {
	mock.Mock
}

func (m *mockSource) Platform() platform.Platform { return platform.YouTube }
func (m *mockSource) EstimatedCost() int          { return 3 }

func (m *mockSource) Capture(ctx context.Context, accountID string, tok *token.Token) ([]*models.IntradaySnapshot, int, error) {
	args := m.Called(ctx, accountID, tok)
	var snaps []*models.IntradaySnapshot
	if v := args.Get(0); v != nil {
		snaps = v.([]*models.IntradaySnapshot)
	}
	return snaps, args.Int(1), args.Error(2)
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
	return nil, args.Error(1)
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

type mockSnapshots struct {
	mock.Mock
}

func (m *mockSnapshots) Append(ctx context.Context, snapshots []*models.IntradaySnapshot) (int, error) {
	args := m.Called(ctx, snapshots)
	return args.Int(0), args.Error(1)
}

func (m *mockSnapshots) ListSince(ctx context.Context, accountID string, p platform.Platform, since time.Time) ([]*models.IntradaySnapshot, error) {
	args := m.Called(ctx, accountID, p, since)
	return nil, args.Error(1)
}

type fixture struct {
	capturer  *Capturer
	source    *mockSource
	tokens    *mockTokens
	budget    *mockBudget
	accounts  *mockAccounts
	snapshots *mockSnapshots
	clock     *quartz.Mock
}

var captureTime = time.Date(2024, 5, 1, 10, 15, 0, 0, time.UTC)

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	clock := quartz.NewMock(t)
	clock.Set(captureTime)

	f := &fixture{
		source:    new(mockSource),
		tokens:    new(mockTokens),
		budget:    new(mockBudget),
		accounts:  new(mockAccounts),
		snapshots: new(mockSnapshots),
		clock:     clock,
	}
	f.capturer = NewCapturer([]Source{f.source}, f.tokens, f.budget, f.accounts, f.snapshots,
		append([]Option{WithClock(clock)}, opts...)...)
	return f
}

func videoSnap(id string) *models.IntradaySnapshot {
	return &models.IntradaySnapshot{EntityID: &id, CapturedAt: time.Now(), ViewCount: 10}
}

func TestCapture_AppendsWithSharedTimestamp(t *testing.T) {
	f := newFixture(t)
	f.tokens.On("GetValidToken", mock.Anything, "acct-1", platform.YouTube).Return(testTok, nil)
	f.budget.On("CanProceed", mock.Anything, "acct-1", platform.YouTube, 3).Return(&quota.Usage{Allowed: true}, nil)
	f.budget.On("TrackUsage", mock.Anything, "acct-1", platform.YouTube, 3).Return(true, nil)
	f.source.On("Capture", mock.Anything, "acct-1", testTok).Return([]*models.IntradaySnapshot{
		{ViewCount: 1000},
		videoSnap("vid-a"),
	}, 3, nil)
	f.snapshots.On("Append", mock.Anything, mock.MatchedBy(func(snaps []*models.IntradaySnapshot) bool {
		for _, s := range snaps {
			if !s.CapturedAt.Equal(captureTime) || s.AccountID != "acct-1" || s.Platform != platform.YouTube {
				return false
			}
		}
		return len(snaps) == 2
	})).Return(2, nil)

	n, err := f.capturer.Capture(context.Background(), "acct-1", platform.YouTube)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	f.snapshots.AssertExpectations(t)
	f.budget.AssertExpectations(t)
}

func TestCapture_QuotaExhausted(t *testing.T) {
	f := newFixture(t)
	f.tokens.On("GetValidToken", mock.Anything, "acct-1", platform.YouTube).Return(testTok, nil)
	f.budget.On("CanProceed", mock.Anything, "acct-1", platform.YouTube, 3).Return(&quota.Usage{Allowed: false}, nil)

	_, err := f.capturer.Capture(context.Background(), "acct-1", platform.YouTube)
	assert.ErrorIs(t, err, apperr.ErrQuotaExceeded)
	f.source.AssertNotCalled(t, "Capture", mock.Anything, mock.Anything, mock.Anything)
}

func TestCapture_UpstreamErrorStillTracksCost(t *testing.T) {
	f := newFixture(t)
	f.tokens.On("GetValidToken", mock.Anything, "acct-1", platform.YouTube).Return(testTok, nil)
	f.budget.On("CanProceed", mock.Anything, "acct-1", platform.YouTube, 3).Return(&quota.Usage{Allowed: true}, nil)
	f.budget.On("TrackUsage", mock.Anything, "acct-1", platform.YouTube, 1).Return(true, nil)
	f.source.On("Capture", mock.Anything, "acct-1", testTok).Return(nil, 1, errors.New("channel statistics: 403"))

	_, err := f.capturer.Capture(context.Background(), "acct-1", platform.YouTube)
	assert.Error(t, err)
	f.budget.AssertExpectations(t)
	f.snapshots.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestCapture_UnknownPlatform(t *testing.T) {
	f := newFixture(t)
	_, err := f.capturer.Capture(context.Background(), "acct-1", platform.Instagram)
	assert.Error(t, err)
}

func TestCaptureAll(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	f := newFixture(t, WithAccountDelay(250*time.Millisecond))
	f.accounts.On("ListConnected", mock.Anything, platform.YouTube).Return([]*models.ConnectedAccount{
		{AccountID: "acct-1"},
		{AccountID: "acct-2"},
	}, nil)
	f.tokens.On("GetValidToken", mock.Anything, "acct-1", platform.YouTube).Return(testTok, nil)
	f.tokens.On("GetValidToken", mock.Anything, "acct-2", platform.YouTube).Return(nil, apperr.ErrRefreshFailed)
	f.budget.On("CanProceed", mock.Anything, "acct-1", platform.YouTube, 3).Return(&quota.Usage{Allowed: true}, nil)
	f.budget.On("TrackUsage", mock.Anything, "acct-1", platform.YouTube, 1).Return(true, nil)
	f.source.On("Capture", mock.Anything, "acct-1", testTok).Return([]*models.IntradaySnapshot{{ViewCount: 5}}, 1, nil)
	f.snapshots.On("Append", mock.Anything, mock.Anything).Return(1, nil)

	trap := f.clock.Trap().NewTimer("snapshot", "account_delay")
	defer trap.Close()

	done := make(chan *Result, 1)
	go func() {
		result, _ := f.capturer.CaptureAll(ctx, platform.YouTube)
		done <- result
	}()

	call := trap.MustWait(ctx)
	assert.Equal(t, 250*time.Millisecond, call.Duration)
	call.MustRelease(ctx)
	f.clock.Advance(250 * time.Millisecond).MustWait(ctx)

	select {
	case result := <-done:
		require.NotNil(t, result)
		assert.Equal(t, 2, result.Accounts)
		assert.Equal(t, 1, result.Captured)
		assert.Equal(t, 1, result.Snapshots)
		assert.Contains(t, result.Failures["acct-2"], "token refresh failed")
	case <-ctx.Done():
		t.Fatal("CaptureAll did not finish")
	}
}
