// Package token keeps stored platform OAuth credentials usable.
package token

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ad-tracker/analytics-sync-go/internal/apperr"
	"github.com/ad-tracker/analytics-sync-go/internal/db"
	"github.com/ad-tracker/analytics-sync-go/internal/db/models"
	"github.com/ad-tracker/analytics-sync-go/internal/db/repository"
	"github.com/ad-tracker/analytics-sync-go/internal/metrics"
	"github.com/ad-tracker/analytics-sync-go/internal/platform"
	"github.com/ad-tracker/analytics-sync-go/pkg/logger"
)

const (
	// DefaultRefreshSkew is how close to expiry a token is refreshed.
	DefaultRefreshSkew = 5 * time.Minute

	// defaultLifetime is assumed when the token endpoint omits expires_in.
	defaultLifetime = time.Hour

	// DefaultTimeout bounds one shared lookup and refresh.
	DefaultTimeout = time.Minute
)

// Token is a usable access token.
type Token struct {
	AccessToken       string
	PlatformAccountID string
	Expiry            *time.Time
}

// Refreshed is the outcome of a successful refresh. RefreshToken is nil when
// the endpoint did not rotate it. ExpiresIn is zero when the endpoint omitted it.
type Refreshed struct {
	AccessToken  string
	RefreshToken *string
	ExpiresIn    time.Duration
}

// Refresher renews credentials for one platform.
type Refresher interface {
	// CanRefresh reports whether cred can be refreshed at now.
	CanRefresh(cred *models.Credential, now time.Time) bool

	// Refresh exchanges cred for a new access token. Failures wrap apperr.ErrRefreshFailed.
	Refresh(ctx context.Context, cred *models.Credential) (*Refreshed, error)
}

// Provider hands out valid tokens.
type Provider interface {
	GetValidToken(ctx context.Context, accountID string, p platform.Platform) (*Token, error)
}

// Manager returns valid access tokens, refreshing stored credentials when
// they are close to expiry. It is the only writer of credential tokens.
type Manager struct {
	creds      repository.CredentialRepository
	registry   *platform.Registry
	refreshers map[platform.Platform]Refresher
	clock      quartz.Clock
	skew       time.Duration
	timeout    time.Duration
	group      singleflight.Group
	logger     *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the manager clock.
func WithClock(clock quartz.Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithSkew replaces the refresh skew.
func WithSkew(skew time.Duration) Option {
	return func(m *Manager) {
		if skew > 0 {
			m.skew = skew
		}
	}
}

// WithTimeout replaces the bound on one shared lookup and refresh.
func WithTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		if timeout > 0 {
			m.timeout = timeout
		}
	}
}

// NewManager creates a Manager.
func NewManager(creds repository.CredentialRepository, registry *platform.Registry, refreshers map[platform.Platform]Refresher, opts ...Option) *Manager {
	m := &Manager{
		creds:      creds,
		registry:   registry,
		refreshers: refreshers,
		clock:      quartz.NewReal(),
		skew:       DefaultRefreshSkew,
		timeout:    DefaultTimeout,
		logger:     logger.Named("token"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetValidToken returns an access token for the account that will not expire
// within the refresh skew, refreshing and persisting it when needed.
// Concurrent callers for the same account share one lookup, which runs detached
// from any single caller's cancellation under the manager's own timeout.
func (m *Manager) GetValidToken(ctx context.Context, accountID string, p platform.Platform) (*Token, error) {
	key := accountID + "/" + p.String()
	ch := m.group.DoChan(key, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
		defer cancel()
		return m.getValidToken(shared, accountID, p)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Token), nil
	}
}

func (m *Manager) getValidToken(ctx context.Context, accountID string, p platform.Platform) (*Token, error) {
	cred, err := m.creds.Get(ctx, accountID, p)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, fmt.Errorf("%w: account %s on %s", apperr.ErrNoConnection, accountID, p)
		}
		return nil, apperr.Persistence(err)
	}

	now := m.clock.Now()
	if !m.needsRefresh(cred, p, now) {
		return tokenFrom(cred), nil
	}

	refresher, ok := m.refreshers[p]
	if !ok || !refresher.CanRefresh(cred, now) {
		if cred.ExpiredAt(now) {
			metrics.TokenRefreshes.WithLabelValues(p.String(), "unavailable").Inc()
			return nil, fmt.Errorf("%w: account %s on %s", apperr.ErrRefreshUnavailable, accountID, p)
		}
		m.logger.Warn("Token close to expiry but cannot be refreshed",
			zap.String("account_id", accountID),
			zap.String("platform", p.String()),
		)
		return tokenFrom(cred), nil
	}

	refreshed, err := refresher.Refresh(ctx, cred)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues(p.String(), "failed").Inc()
		m.logger.Error("Token refresh failed",
			zap.String("account_id", accountID),
			zap.String("platform", p.String()),
			zap.Error(err),
		)
		return nil, err
	}

	lifetime := refreshed.ExpiresIn
	if lifetime <= 0 {
		lifetime = defaultLifetime
	}
	expiry := now.Add(lifetime)

	if err := m.creds.UpdateToken(ctx, accountID, p, refreshed.AccessToken, refreshed.RefreshToken, expiry); err != nil {
		return nil, apperr.Persistence(err)
	}

	metrics.TokenRefreshes.WithLabelValues(p.String(), "ok").Inc()
	m.logger.Info("Token refreshed",
		zap.String("account_id", accountID),
		zap.String("platform", p.String()),
		zap.Time("expiry", expiry),
		zap.Bool("refresh_token_rotated", refreshed.RefreshToken != nil),
	)

	return &Token{
		AccessToken:       refreshed.AccessToken,
		PlatformAccountID: cred.PlatformAccountID,
		Expiry:            &expiry,
	}, nil
}

func (m *Manager) needsRefresh(cred *models.Credential, p platform.Platform, now time.Time) bool {
	if cred.TokenExpiry == nil {
		settings, err := m.registry.Settings(p)
		return err != nil || !settings.NonExpiringTokens
	}
	return !cred.TokenExpiry.After(now.Add(m.skew))
}

func tokenFrom(cred *models.Credential) *Token {
	return &Token{
		AccessToken:       cred.AccessToken,
		PlatformAccountID: cred.PlatformAccountID,
		Expiry:            cred.TokenExpiry,
	}
}
