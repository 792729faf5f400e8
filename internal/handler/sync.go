package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"github.com/ad-tracker/analytics-sync-go/internal/platform"
	"github.com/ad-tracker/analytics-sync-go/internal/service/daterange"
	"github.com/ad-tracker/analytics-sync-go/internal/service/syncer"
)

// Syncer runs account syncs.
type Syncer interface {
	Backfill(ctx context.Context, accountID string, p platform.Platform, from, to time.Time) (*syncer.Result, error)
	Incremental(ctx context.Context, accountID string, p platform.Platform) (*syncer.Result, error)
}

// BackfillEnqueuer hands a backfill to the worker instead of running it inline.
type BackfillEnqueuer interface {
	EnqueueBackfill(ctx context.Context, p platform.Platform, accountID, fromDate, toDate string) (*asynq.TaskInfo, error)
}

// BackfillRequest is the optional body of a backfill trigger. Async queues
// the backfill on the worker.
type BackfillRequest struct {
	FromDate  string `json:"fromDate"`
	ToDate    string `json:"toDate"`
	AccountID string `json:"accountId"`
	Async     bool   `json:"async"`
}

// IncrementalRequest is the optional body of an incremental trigger.
type IncrementalRequest struct {
	AccountID string `json:"accountId"`
}

// SyncHandler triggers backfill and incremental syncs.
type SyncHandler struct {
	syncer Syncer
	queue  BackfillEnqueuer
}

// NewSyncHandler creates a new SyncHandler instance. queue may be nil, in
// which case async backfills are rejected.
func NewSyncHandler(s Syncer, queue BackfillEnqueuer) *SyncHandler {
	return &SyncHandler{syncer: s, queue: queue}
}

// bindOptional decodes a JSON body when one is present.
func bindOptional(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, http.StatusBadRequest, errors.New("invalid request payload: "+err.Error()))
		return false
	}
	return true
}

func parseOptionalDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return daterange.ParseDate(s)
}

// rowsBody reports entity rows under the platform's own name.
func rowsBody(p platform.Platform, r *syncer.Result) gin.H {
	body := gin.H{
		"success":        true,
		"channelRows":    r.ChannelRows,
		"quotaExhausted": r.QuotaExhausted,
	}
	if p == platform.Instagram {
		body["mediaCount"] = r.EntityRows
	} else {
		body["videoRows"] = r.EntityRows
	}
	return body
}

// Backfill handles POST /api/v1/sync/:platform/backfill.
func (h *SyncHandler) Backfill(c *gin.Context) {
	p, ok := platformParam(c)
	if !ok {
		return
	}

	var req BackfillRequest
	if !bindOptional(c, &req) {
		return
	}

	accountID, ok := resolveAccount(c, req.AccountID)
	if !ok {
		return
	}

	from, err := parseOptionalDate(req.FromDate)
	if err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	to, err := parseOptionalDate(req.ToDate)
	if err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		respondError(c, http.StatusBadRequest, errors.New("toDate is before fromDate"))
		return
	}

	if req.Async {
		h.enqueueBackfill(c, p, accountID, req)
		return
	}

	result, err := h.syncer.Backfill(c.Request.Context(), accountID, p, from, to)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	body := rowsBody(p, result)
	body["chunksProcessed"] = result.ChunksProcessed
	body["chunksFailed"] = result.ChunksFailed
	body["fromDate"] = result.From.Format(daterange.DateLayout)
	body["toDate"] = result.To.Format(daterange.DateLayout)
	if len(result.Failures) > 0 {
		body["failures"] = result.Failures
	}
	c.JSON(http.StatusOK, body)
}

func (h *SyncHandler) enqueueBackfill(c *gin.Context, p platform.Platform, accountID string, req BackfillRequest) {
	if h.queue == nil {
		respondError(c, http.StatusBadRequest, errors.New("async backfill is not available"))
		return
	}

	info, err := h.queue.EnqueueBackfill(c.Request.Context(), p, accountID, req.FromDate, req.ToDate)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true, "taskId": info.ID, "queue": info.Queue})
}

// Incremental handles POST /api/v1/sync/:platform/incremental.
func (h *SyncHandler) Incremental(c *gin.Context) {
	p, ok := platformParam(c)
	if !ok {
		return
	}

	var req IncrementalRequest
	if !bindOptional(c, &req) {
		return
	}

	accountID, ok := resolveAccount(c, req.AccountID)
	if !ok {
		return
	}

	result, err := h.syncer.Incremental(c.Request.Context(), accountID, p)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	body := rowsBody(p, result)
	if result.Date != nil {
		body["date"] = result.Date.Format(daterange.DateLayout)
	}
	c.JSON(http.StatusOK, body)
}
