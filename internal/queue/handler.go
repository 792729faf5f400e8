package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/ad-tracker/analytics-sync-go/internal/apperr"
	"github.com/ad-tracker/analytics-sync-go/internal/db/models"
	"github.com/ad-tracker/analytics-sync-go/internal/platform"
	"github.com/ad-tracker/analytics-sync-go/internal/service/daterange"
	"github.com/ad-tracker/analytics-sync-go/internal/service/snapshot"
	"github.com/ad-tracker/analytics-sync-go/internal/service/syncer"
	"github.com/ad-tracker/analytics-sync-go/pkg/logger"
)

// SyncRunner runs account syncs.
type SyncRunner interface {
	Backfill(ctx context.Context, accountID string, p platform.Platform, from, to time.Time) (*syncer.Result, error)
	Incremental(ctx context.Context, accountID string, p platform.Platform) (*syncer.Result, error)
	RunAll(ctx context.Context, p platform.Platform, mode string) (*syncer.Summary, error)
}

// SnapshotRunner captures intraday snapshots.
type SnapshotRunner interface {
	Capture(ctx context.Context, accountID string, p platform.Platform) (int, error)
	CaptureAll(ctx context.Context, p platform.Platform) (*snapshot.Result, error)
}

// TaskHandler handles sync and snapshot tasks
type TaskHandler struct {
	syncs     SyncRunner
	snapshots SnapshotRunner
	logger    *zap.Logger
}

// NewTaskHandler creates a new task handler
func NewTaskHandler(syncs SyncRunner, snapshots SnapshotRunner) *TaskHandler {
	return &TaskHandler{
		syncs:     syncs,
		snapshots: snapshots,
		logger:    logger.Named("queue"),
	}
}

// skipRetry marks errors that a retry cannot fix.
func skipRetry(err error) error {
	switch {
	case errors.Is(err, apperr.ErrSyncInProgress),
		errors.Is(err, apperr.ErrQuotaExceeded),
		errors.Is(err, apperr.ErrNoConnection),
		errors.Is(err, apperr.ErrRefreshUnavailable),
		errors.Is(err, apperr.ErrSyncFailed) && apperr.IsRejected(err):
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	default:
		return err
	}
}

// HandleIncremental runs an incremental sync for one account or the whole platform.
func (h *TaskHandler) HandleIncremental(ctx context.Context, task *asynq.Task) error {
	payload, err := UnmarshalSyncPayload(task.Payload())
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	if payload.AccountID == "" {
		summary, err := h.syncs.RunAll(ctx, payload.Platform, models.SyncModeIncremental)
		if err != nil {
			return err
		}
		h.logger.Info("Scheduled incremental sync finished",
			zap.String("platform", payload.Platform.String()),
			zap.Int("accounts", summary.Accounts),
			zap.Int("succeeded", summary.Succeeded),
			zap.Int("skipped", summary.Skipped),
			zap.Int("failed", len(summary.Failures)),
		)
		return nil
	}

	result, err := h.syncs.Incremental(ctx, payload.AccountID, payload.Platform)
	if err != nil {
		return skipRetry(err)
	}
	h.logResult("Incremental sync finished", result)
	return nil
}

// HandleBackfill runs a backfill for one account.
func (h *TaskHandler) HandleBackfill(ctx context.Context, task *asynq.Task) error {
	payload, err := UnmarshalSyncPayload(task.Payload())
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	if payload.AccountID == "" {
		return fmt.Errorf("backfill task without account: %w", asynq.SkipRetry)
	}

	var from, to time.Time
	if payload.FromDate != "" {
		if from, err = daterange.ParseDate(payload.FromDate); err != nil {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
	}
	if payload.ToDate != "" {
		if to, err = daterange.ParseDate(payload.ToDate); err != nil {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
	}

	result, err := h.syncs.Backfill(ctx, payload.AccountID, payload.Platform, from, to)
	if err != nil {
		return skipRetry(err)
	}
	h.logResult("Backfill finished", result)
	return nil
}

// HandleSnapshot captures snapshots for one account or the whole platform.
func (h *TaskHandler) HandleSnapshot(ctx context.Context, task *asynq.Task) error {
	payload, err := UnmarshalSnapshotPayload(task.Payload())
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	if payload.AccountID == "" {
		result, err := h.snapshots.CaptureAll(ctx, payload.Platform)
		if err != nil {
			return err
		}
		h.logger.Info("Snapshot capture finished",
			zap.String("platform", payload.Platform.String()),
			zap.Int("accounts", result.Accounts),
			zap.Int("captured", result.Captured),
			zap.Int("snapshots", result.Snapshots),
			zap.Int("failed", len(result.Failures)),
		)
		return nil
	}

	n, err := h.snapshots.Capture(ctx, payload.AccountID, payload.Platform)
	if err != nil {
		return skipRetry(err)
	}
	h.logger.Info("Snapshot captured",
		zap.String("platform", payload.Platform.String()),
		zap.String("account_id", payload.AccountID),
		zap.Int("snapshots", n),
	)
	return nil
}

func (h *TaskHandler) logResult(msg string, r *syncer.Result) {
	h.logger.Info(msg,
		zap.String("run_id", r.RunID.String()),
		zap.String("account_id", r.AccountID),
		zap.String("platform", r.Platform.String()),
		zap.Int("channel_rows", r.ChannelRows),
		zap.Int("entity_rows", r.EntityRows),
		zap.Int("chunks_failed", r.ChunksFailed),
		zap.Bool("quota_exhausted", r.QuotaExhausted),
	)
}

// Mux registers every task type on a new ServeMux.
func (h *TaskHandler) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeSyncIncremental, h.HandleIncremental)
	mux.HandleFunc(TypeSyncBackfill, h.HandleBackfill)
	mux.HandleFunc(TypeSnapshotCapture, h.HandleSnapshot)
	return mux
}

// Server wraps asynq server for processing tasks
type Server struct {
	asynqServer *asynq.Server
	mux         *asynq.ServeMux
	logger      *zap.Logger
}

// NewServer creates a new task processing server
func NewServer(redisURL string, concurrency int, handler *TaskHandler) (*Server, error) {
	redisOpt, err := ParseRedisURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	log := logger.Named("queue")
	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				QueueSnapshots: 6,
				QueueSync:      4,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Error("Task failed", zap.String("type", task.Type()), zap.Error(err))
			}),
		},
	)

	return &Server{
		asynqServer: srv,
		mux:         handler.Mux(),
		logger:      log,
	}, nil
}

// Start starts the server
func (s *Server) Start() error {
	s.logger.Info("Starting task processing server")
	return s.asynqServer.Start(s.mux)
}

// Stop gracefully stops the server
func (s *Server) Stop() {
	s.logger.Info("Shutting down task processing server")
	s.asynqServer.Shutdown()
}
