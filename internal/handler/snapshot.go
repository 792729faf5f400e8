package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ad-tracker/analytics-sync-go/internal/platform"
	"github.com/ad-tracker/analytics-sync-go/internal/service/snapshot"
)

// SnapshotCapturer captures intraday snapshots.
type SnapshotCapturer interface {
	Capture(ctx context.Context, accountID string, p platform.Platform) (int, error)
	CaptureAll(ctx context.Context, p platform.Platform) (*snapshot.Result, error)
}

// CaptureRequest optionally limits a capture to one account.
type CaptureRequest struct {
	AccountID string `json:"accountId"`
}

// SnapshotHandler triggers snapshot capture. Routes are service-only.
type SnapshotHandler struct {
	capturer SnapshotCapturer
}

// NewSnapshotHandler creates a new SnapshotHandler instance.
func NewSnapshotHandler(capturer SnapshotCapturer) *SnapshotHandler {
	return &SnapshotHandler{capturer: capturer}
}

// Capture handles POST /api/v1/snapshots/:platform/capture.
func (h *SnapshotHandler) Capture(c *gin.Context) {
	p, ok := platformParam(c)
	if !ok {
		return
	}

	var req CaptureRequest
	if !bindOptional(c, &req) {
		return
	}

	if req.AccountID != "" {
		n, err := h.capturer.Capture(c.Request.Context(), req.AccountID, p)
		if err != nil {
			respondError(c, http.StatusInternalServerError, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "accountId": req.AccountID, "snapshots": n})
		return
	}

	result, err := h.capturer.CaptureAll(c.Request.Context(), p)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"accounts":  result.Accounts,
		"captured":  result.Captured,
		"snapshots": result.Snapshots,
		"failures":  result.Failures,
	})
}
