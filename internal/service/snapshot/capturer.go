// Package snapshot appends intraday counter readings for connected accounts.
package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/ad-tracker/analytics-sync-go/internal/apperr"
	"github.com/ad-tracker/analytics-sync-go/internal/db/models"
	"github.com/ad-tracker/analytics-sync-go/internal/db/repository"
	"github.com/ad-tracker/analytics-sync-go/internal/metrics"
	"github.com/ad-tracker/analytics-sync-go/internal/platform"
	"github.com/ad-tracker/analytics-sync-go/internal/service/quota"
	"github.com/ad-tracker/analytics-sync-go/internal/service/token"
	"github.com/ad-tracker/analytics-sync-go/pkg/logger"
)

// Source reads current cumulative counters for one platform.
type Source interface {
	Platform() platform.Platform
	EstimatedCost() int
	Capture(ctx context.Context, accountID string, tok *token.Token) ([]*models.IntradaySnapshot, int, error)
}

// Result is the outcome of CaptureAll.
type Result struct {
	Platform  platform.Platform `json:"platform"`
	Accounts  int               `json:"accounts"`
	Captured  int               `json:"captured"`
	Snapshots int               `json:"snapshots"`
	Skipped   int               `json:"skipped"`
	Failures  map[string]string `json:"failures,omitempty"`
}

// Capturer takes snapshots through the platform sources.
type Capturer struct {
	sources      map[platform.Platform]Source
	tokens       token.Provider
	budget       quota.Budget
	accounts     repository.CredentialRepository
	snapshots    repository.SnapshotRepository
	accountDelay time.Duration
	clock        quartz.Clock
	logger       *zap.Logger
}

// Option configures a Capturer.
type Option func(*Capturer)

// WithClock replaces the clock used for capture times and delays.
func WithClock(clock quartz.Clock) Option {
	return func(c *Capturer) { c.clock = clock }
}

// WithAccountDelay sets the pause between accounts in CaptureAll.
func WithAccountDelay(d time.Duration) Option {
	return func(c *Capturer) { c.accountDelay = d }
}

// NewCapturer creates a Capturer.
func NewCapturer(
	sources []Source,
	tokens token.Provider,
	budget quota.Budget,
	accounts repository.CredentialRepository,
	snapshots repository.SnapshotRepository,
	opts ...Option,
) *Capturer {
	bySource := make(map[platform.Platform]Source, len(sources))
	for _, s := range sources {
		bySource[s.Platform()] = s
	}

	c := &Capturer{
		sources:   bySource,
		tokens:    tokens,
		budget:    budget,
		accounts:  accounts,
		snapshots: snapshots,
		clock:     quartz.NewReal(),
		logger:    logger.Named("snapshot"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Capture appends one reading for the account and its recent entities and
// returns how many rows were written. All rows share one captured_at.
func (c *Capturer) Capture(ctx context.Context, accountID string, p platform.Platform) (int, error) {
	src, ok := c.sources[p]
	if !ok {
		return 0, fmt.Errorf("no snapshot source for platform %q", p)
	}

	tok, err := c.tokens.GetValidToken(ctx, accountID, p)
	if err != nil {
		return 0, err
	}

	usage, err := c.budget.CanProceed(ctx, accountID, p, src.EstimatedCost())
	if err != nil {
		return 0, err
	}
	if !usage.Allowed {
		return 0, fmt.Errorf("%w: account %s on %s", apperr.ErrQuotaExceeded, accountID, p)
	}

	snaps, cost, captureErr := src.Capture(ctx, accountID, tok)
	if cost > 0 {
		if _, err := c.budget.TrackUsage(ctx, accountID, p, cost); err != nil {
			c.logger.Warn("Failed to record snapshot quota usage",
				zap.String("account_id", accountID),
				zap.Error(err),
			)
		}
	}
	if captureErr != nil {
		return 0, captureErr
	}

	capturedAt := c.clock.Now().UTC()
	for _, s := range snaps {
		s.AccountID = accountID
		s.Platform = p
		s.CapturedAt = capturedAt
	}

	n, err := c.snapshots.Append(ctx, snaps)
	if err != nil {
		return 0, apperr.Persistence(fmt.Errorf("append snapshots: %w", err))
	}

	metrics.SnapshotsCaptured.WithLabelValues(p.String()).Add(float64(n))
	c.logger.Debug("Snapshots captured",
		zap.String("account_id", accountID),
		zap.String("platform", p.String()),
		zap.Int("rows", n),
	)

	return n, nil
}

// CaptureAll captures every connected account on p in sequence. Per-account
// failures are collected and do not stop the loop.
func (c *Capturer) CaptureAll(ctx context.Context, p platform.Platform) (*Result, error) {
	if _, ok := c.sources[p]; !ok {
		return nil, fmt.Errorf("no snapshot source for platform %q", p)
	}

	accounts, err := c.accounts.ListConnected(ctx, p)
	if err != nil {
		return nil, apperr.Persistence(fmt.Errorf("list connected accounts: %w", err))
	}

	result := &Result{Platform: p, Accounts: len(accounts), Failures: map[string]string{}}

	for i, acct := range accounts {
		if i > 0 && c.accountDelay > 0 {
			t := c.clock.NewTimer(c.accountDelay, "snapshot", "account_delay")
			select {
			case <-ctx.Done():
				t.Stop()
				return result, ctx.Err()
			case <-t.C:
			}
		}

		n, err := c.Capture(ctx, acct.AccountID, p)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			result.Failures[acct.AccountID] = err.Error()
			c.logger.Warn("Snapshot capture failed",
				zap.String("account_id", acct.AccountID),
				zap.String("platform", p.String()),
				zap.Error(err),
			)
			continue
		}
		if n == 0 {
			result.Skipped++
			continue
		}
		result.Captured++
		result.Snapshots += n
	}

	c.logger.Info("Snapshot capture finished",
		zap.String("platform", p.String()),
		zap.Int("accounts", result.Accounts),
		zap.Int("captured", result.Captured),
		zap.Int("failed", len(result.Failures)),
	)

	return result, nil
}
