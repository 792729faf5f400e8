// Package quota budgets per-account daily API usage.
package quota

import (
	"context"
	"fmt"
	"math"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/ad-tracker/analytics-sync-go/internal/apperr"
	"github.com/ad-tracker/analytics-sync-go/internal/db"
	"github.com/ad-tracker/analytics-sync-go/internal/db/models"
	"github.com/ad-tracker/analytics-sync-go/internal/db/repository"
	"github.com/ad-tracker/analytics-sync-go/internal/metrics"
	"github.com/ad-tracker/analytics-sync-go/internal/platform"
	"github.com/ad-tracker/analytics-sync-go/pkg/logger"
)

// Default thresholds as fractions of the daily limit.
const (
	DefaultWarning  = 0.8
	DefaultCritical = 0.9
)

// Level classifies current usage against the thresholds.
type Level string

const (
	LevelOK       Level = "ok"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Usage is a read-only view of an account's budget for the current day.
type Usage struct {
	Allowed      bool   `json:"allowed"`
	CurrentUsage int    `json:"currentUsage"`
	Remaining    int    `json:"remaining"`
	DailyLimit   int    `json:"dailyLimit"`
	Critical     int    `json:"critical"`
	Level        Level  `json:"level"`
	Day          string `json:"day"`
}

// Budget is the quota surface the orchestrator and capturer depend on.
type Budget interface {
	CanProceed(ctx context.Context, accountID string, p platform.Platform, estimatedUnits int) (*Usage, error)
	TrackUsage(ctx context.Context, accountID string, p platform.Platform, unitsUsed int) (bool, error)
}

// Tracker enforces the daily budget. Days are platform-local calendar days.
type Tracker struct {
	repo     repository.QuotaRepository
	registry *platform.Registry
	warning  float64
	critical float64
	clock    quartz.Clock
	logger   *zap.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces the tracker clock.
func WithClock(clock quartz.Clock) Option {
	return func(t *Tracker) { t.clock = clock }
}

// NewTracker creates a Tracker. Out-of-range thresholds fall back to the defaults.
func NewTracker(repo repository.QuotaRepository, registry *platform.Registry, warning, critical float64, opts ...Option) *Tracker {
	if critical <= 0 || critical > 1 {
		critical = DefaultCritical
	}
	if warning <= 0 || warning >= critical {
		warning = DefaultWarning
	}

	t := &Tracker{
		repo:     repo,
		registry: registry,
		warning:  warning,
		critical: critical,
		clock:    quartz.NewReal(),
		logger:   logger.Named("quota"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type limits struct {
	daily    int
	warning  int
	critical int
}

func (t *Tracker) limits(p platform.Platform) (limits, error) {
	s, err := t.registry.Settings(p)
	if err != nil {
		return limits{}, err
	}
	return limits{
		daily:    s.DailyQuota,
		warning:  int(math.Round(float64(s.DailyQuota) * t.warning)),
		critical: int(math.Round(float64(s.DailyQuota) * t.critical)),
	}, nil
}

func (l limits) level(used int) Level {
	switch {
	case used >= l.critical:
		return LevelCritical
	case used >= l.warning:
		return LevelWarning
	default:
		return LevelOK
	}
}

// CanProceed reports whether estimatedUnits more can be spent today without
// reaching the critical level. It never writes.
func (t *Tracker) CanProceed(ctx context.Context, accountID string, p platform.Platform, estimatedUnits int) (*Usage, error) {
	lim, err := t.limits(p)
	if err != nil {
		return nil, err
	}

	day := t.registry.Today(p, t.clock.Now())
	used := 0
	record, err := t.repo.GetUsage(ctx, accountID, p, day)
	switch {
	case err == nil:
		used = record.UnitsUsed
	case db.IsNotFound(err):
	default:
		return nil, apperr.Persistence(fmt.Errorf("read quota usage: %w", err))
	}

	remaining := lim.critical - used
	if remaining < 0 {
		remaining = 0
	}

	return &Usage{
		Allowed:      used < lim.critical && used+estimatedUnits <= lim.critical,
		CurrentUsage: used,
		Remaining:    remaining,
		DailyLimit:   lim.daily,
		Critical:     lim.critical,
		Level:        lim.level(used),
		Day:          day.Format("2006-01-02"),
	}, nil
}

// TrackUsage records units actually spent and reports whether more calls are
// allowed today. False means stop until the next platform-local day.
func (t *Tracker) TrackUsage(ctx context.Context, accountID string, p platform.Platform, unitsUsed int) (bool, error) {
	lim, err := t.limits(p)
	if err != nil {
		return false, err
	}

	day := t.registry.Today(p, t.clock.Now())
	total, err := t.repo.AddUsage(ctx, accountID, p, day, unitsUsed, lim.daily)
	if err != nil {
		return false, apperr.Persistence(fmt.Errorf("record quota usage: %w", err))
	}

	metrics.QuotaUnits.WithLabelValues(p.String()).Add(float64(unitsUsed))

	level := lim.level(total)
	if level != LevelOK {
		metrics.QuotaThresholds.WithLabelValues(p.String(), string(level)).Inc()
		t.logger.Warn("Quota threshold reached",
			zap.String("account_id", accountID),
			zap.String("platform", p.String()),
			zap.String("level", string(level)),
			zap.Int("used", total),
			zap.Int("daily_limit", lim.daily),
		)
	}

	return total < lim.critical, nil
}

// History returns recorded usage for the last days platform-local days,
// today included, newest first.
func (t *Tracker) History(ctx context.Context, accountID string, p platform.Platform, days int) ([]*models.QuotaUsage, error) {
	if days < 1 {
		days = 1
	}
	since := t.registry.Today(p, t.clock.Now()).AddDate(0, 0, -(days - 1))
	history, err := t.repo.GetHistory(ctx, accountID, p, since)
	if err != nil {
		return nil, apperr.Persistence(fmt.Errorf("read quota history: %w", err))
	}
	return history, nil
}
