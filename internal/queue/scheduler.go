package queue

import (
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/ad-tracker/analytics-sync-go/internal/config"
	"github.com/ad-tracker/analytics-sync-go/internal/platform"
	"github.com/ad-tracker/analytics-sync-go/pkg/logger"
)

// Scheduler enqueues the periodic incremental sync and snapshot tasks.
type Scheduler struct {
	scheduler *asynq.Scheduler
	logger    *zap.Logger
}

// NewScheduler creates a scheduler and registers a daily incremental sync and
// a recurring snapshot capture for every platform. An empty cron spec
// disables that task.
func NewScheduler(redisURL string, cfg config.ScheduleConfig, platforms []platform.Platform) (*Scheduler, error) {
	redisOpt, err := ParseRedisURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	s := &Scheduler{
		scheduler: asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{}),
		logger:    logger.Named("scheduler"),
	}
	if err := s.registerAll(cfg, platforms); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) registerAll(cfg config.ScheduleConfig, platforms []platform.Platform) error {
	for _, p := range platforms {
		if cfg.Incremental != "" {
			task, err := NewIncrementalTask(&SyncPayload{Platform: p})
			if err != nil {
				return err
			}
			if err := s.register(cfg.Incremental, task, syncOptions()...); err != nil {
				return err
			}
		}

		if cfg.Snapshot != "" {
			task, err := NewSnapshotTask(&SnapshotPayload{Platform: p})
			if err != nil {
				return err
			}
			if err := s.register(cfg.Snapshot, task, snapshotOptions()...); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Scheduler) register(spec string, task *asynq.Task, opts ...asynq.Option) error {
	entryID, err := s.scheduler.Register(spec, task, opts...)
	if err != nil {
		return fmt.Errorf("register %s on %q: %w", task.Type(), spec, err)
	}
	s.logger.Info("Registered periodic task",
		zap.String("type", task.Type()),
		zap.String("cron", spec),
		zap.String("payload", string(task.Payload())),
		zap.String("entry_id", entryID),
	)
	return nil
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	return s.scheduler.Start()
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.scheduler.Shutdown()
}
