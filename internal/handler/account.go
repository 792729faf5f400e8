package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ad-tracker/analytics-sync-go/internal/db"
	"github.com/ad-tracker/analytics-sync-go/internal/db/models"
	"github.com/ad-tracker/analytics-sync-go/internal/db/repository"
	"github.com/ad-tracker/analytics-sync-go/internal/platform"
	"github.com/ad-tracker/analytics-sync-go/internal/service/daterange"
	"github.com/ad-tracker/analytics-sync-go/internal/service/delta"
	"github.com/ad-tracker/analytics-sync-go/internal/service/quota"
)

// DeltaReader computes windowed deltas for an account.
type DeltaReader interface {
	AccountDeltas(ctx context.Context, accountID string, p platform.Platform) (*delta.Rollup, error)
}

// QuotaReader reports an account's quota position and recent spend.
type QuotaReader interface {
	CanProceed(ctx context.Context, accountID string, p platform.Platform, estimatedUnits int) (*quota.Usage, error)
	History(ctx context.Context, accountID string, p platform.Platform, days int) ([]*models.QuotaUsage, error)
}

// maxMetricDays bounds one daily-metrics read.
const maxMetricDays = 366

// quotaHistoryDays is how many platform-local days the quota endpoint reports.
const quotaHistoryDays = 7

type quotaResponse struct {
	*quota.Usage
	History []*models.QuotaUsage `json:"history"`
}

// AccountHandler serves per-account read endpoints.
type AccountHandler struct {
	deltas  DeltaReader
	states  repository.SyncStateRepository
	metrics repository.DailyMetricRepository
	budget  QuotaReader
}

// NewAccountHandler creates a new AccountHandler instance.
func NewAccountHandler(deltas DeltaReader, states repository.SyncStateRepository, metrics repository.DailyMetricRepository, budget QuotaReader) *AccountHandler {
	return &AccountHandler{deltas: deltas, states: states, metrics: metrics, budget: budget}
}

func (h *AccountHandler) params(c *gin.Context) (string, platform.Platform, bool) {
	p, ok := platformParam(c)
	if !ok {
		return "", "", false
	}
	accountID, ok := resolveAccount(c, c.Param("accountId"))
	if !ok {
		return "", "", false
	}
	return accountID, p, true
}

// Deltas handles GET /api/v1/accounts/:accountId/:platform/deltas.
func (h *AccountHandler) Deltas(c *gin.Context) {
	accountID, p, ok := h.params(c)
	if !ok {
		return
	}

	rollup, err := h.deltas.AccountDeltas(c.Request.Context(), accountID, p)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, rollup)
}

// SyncState handles GET /api/v1/accounts/:accountId/:platform/sync-state.
func (h *AccountHandler) SyncState(c *gin.Context) {
	accountID, p, ok := h.params(c)
	if !ok {
		return
	}

	state, err := h.states.Get(c.Request.Context(), accountID, p)
	if err != nil {
		if db.IsNotFound(err) {
			c.JSON(http.StatusOK, &models.SyncState{AccountID: accountID, Platform: p})
			return
		}
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// Quota handles GET /api/v1/accounts/:accountId/:platform/quota.
func (h *AccountHandler) Quota(c *gin.Context) {
	accountID, p, ok := h.params(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	usage, err := h.budget.CanProceed(ctx, accountID, p, 0)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	history, err := h.budget.History(ctx, accountID, p, quotaHistoryDays)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	if history == nil {
		history = []*models.QuotaUsage{}
	}

	c.JSON(http.StatusOK, quotaResponse{Usage: usage, History: history})
}

// DailyMetrics handles GET /api/v1/accounts/:accountId/:platform/daily-metrics.
// fromDate and toDate are required; entityType optionally narrows the rows.
func (h *AccountHandler) DailyMetrics(c *gin.Context) {
	accountID, p, ok := h.params(c)
	if !ok {
		return
	}

	rng, err := metricRange(c.Query("fromDate"), c.Query("toDate"))
	if err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	entityType := c.Query("entityType")
	switch entityType {
	case "", models.EntityChannel, models.EntityVideo, models.EntityAccount, models.EntityMedia:
	default:
		respondError(c, http.StatusBadRequest, fmt.Errorf("unknown entityType %q", entityType))
		return
	}

	rows, err := h.metrics.List(c.Request.Context(), accountID, p, entityType, rng.Start, rng.End)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	if rows == nil {
		rows = []*models.DailyMetric{}
	}

	c.JSON(http.StatusOK, gin.H{
		"fromDate": rng.Start.Format(daterange.DateLayout),
		"toDate":   rng.End.Format(daterange.DateLayout),
		"rows":     rows,
	})
}

func metricRange(from, to string) (daterange.Range, error) {
	if from == "" || to == "" {
		return daterange.Range{}, errors.New("fromDate and toDate are required")
	}
	start, err := daterange.ParseDate(from)
	if err != nil {
		return daterange.Range{}, err
	}
	end, err := daterange.ParseDate(to)
	if err != nil {
		return daterange.Range{}, err
	}
	if end.Before(start) {
		return daterange.Range{}, errors.New("toDate is before fromDate")
	}

	rng := daterange.Range{Start: start, End: end}
	if rng.Days() > maxMetricDays {
		return daterange.Range{}, fmt.Errorf("range spans %d days, at most %d allowed", rng.Days(), maxMetricDays)
	}
	return rng, nil
}
