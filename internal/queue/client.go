package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/ad-tracker/analytics-sync-go/internal/platform"
	"github.com/ad-tracker/analytics-sync-go/pkg/logger"
)

const (
	maxRetry        = 3
	syncTimeout     = 2 * time.Hour
	snapshotTimeout = 10 * time.Minute
)

// Client wraps asynq client for enqueueing tasks
type Client struct {
	asynqClient *asynq.Client
	logger      *zap.Logger
}

// NewClient creates a new queue client
func NewClient(redisURL string) (*Client, error) {
	redisOpt, err := ParseRedisURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	return &Client{
		asynqClient: asynq.NewClient(redisOpt),
		logger:      logger.Named("queue"),
	}, nil
}

// Close closes the client connection
func (c *Client) Close() error {
	return c.asynqClient.Close()
}

// EnqueueIncremental enqueues an incremental sync for one account, or for
// every account when accountID is empty.
func (c *Client) EnqueueIncremental(ctx context.Context, p platform.Platform, accountID string) (*asynq.TaskInfo, error) {
	payload, err := NewSyncPayload(p, accountID, "", "")
	if err != nil {
		return nil, fmt.Errorf("failed to create task payload: %w", err)
	}
	task, err := NewIncrementalTask(payload)
	if err != nil {
		return nil, err
	}
	return c.enqueue(ctx, task, syncOptions()...)
}

// EnqueueBackfill enqueues a backfill for one account. Empty dates use the
// default range.
func (c *Client) EnqueueBackfill(ctx context.Context, p platform.Platform, accountID, fromDate, toDate string) (*asynq.TaskInfo, error) {
	if accountID == "" {
		return nil, fmt.Errorf("account ID is required")
	}
	payload, err := NewSyncPayload(p, accountID, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("failed to create task payload: %w", err)
	}
	raw, err := payload.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return c.enqueue(ctx, asynq.NewTask(TypeSyncBackfill, raw), syncOptions()...)
}

// EnqueueSnapshot enqueues a snapshot capture.
func (c *Client) EnqueueSnapshot(ctx context.Context, p platform.Platform, accountID string) (*asynq.TaskInfo, error) {
	payload, err := NewSnapshotPayload(p, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to create task payload: %w", err)
	}
	task, err := NewSnapshotTask(payload)
	if err != nil {
		return nil, err
	}
	return c.enqueue(ctx, task, snapshotOptions()...)
}

func (c *Client) enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	info, err := c.asynqClient.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	c.logger.Info("Enqueued task",
		zap.String("type", task.Type()),
		zap.String("task_id", info.ID),
		zap.String("queue", info.Queue),
	)
	return info, nil
}

// NewIncrementalTask builds an incremental sync task.
func NewIncrementalTask(payload *SyncPayload) (*asynq.Task, error) {
	raw, err := payload.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return asynq.NewTask(TypeSyncIncremental, raw), nil
}

// NewSnapshotTask builds a snapshot capture task.
func NewSnapshotTask(payload *SnapshotPayload) (*asynq.Task, error) {
	raw, err := payload.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return asynq.NewTask(TypeSnapshotCapture, raw), nil
}

func syncOptions() []asynq.Option {
	return []asynq.Option{
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(syncTimeout),
		asynq.Queue(QueueSync),
	}
}

func snapshotOptions() []asynq.Option {
	return []asynq.Option{
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(snapshotTimeout),
		asynq.Queue(QueueSnapshots),
	}
}
