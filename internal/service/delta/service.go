package delta

import (
	"context"
	"fmt"

	"github.com/coder/quartz"

	"github.com/ad-tracker/analytics-sync-go/internal/apperr"
	"github.com/ad-tracker/analytics-sync-go/internal/db/repository"
	"github.com/ad-tracker/analytics-sync-go/internal/platform"
)

// Service reads snapshots and rolls them up for one account.
type Service struct {
	snapshots repository.SnapshotRepository
	registry  *platform.Registry
	clock     quartz.Clock
	engine    Engine
}

// NewService creates a Service. A nil clock uses the real clock.
func NewService(snapshots repository.SnapshotRepository, registry *platform.Registry, clock quartz.Clock) *Service {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Service{snapshots: snapshots, registry: registry, clock: clock}
}

// AccountDeltas returns the standard windowed deltas for the account,
// with "today" measured from midnight in the platform timezone.
func (s *Service) AccountDeltas(ctx context.Context, accountID string, p platform.Platform) (*Rollup, error) {
	windows := Windows(s.clock.Now(), s.registry.Location(p))

	snaps, err := s.snapshots.ListSince(ctx, accountID, p, Earliest(windows))
	if err != nil {
		return nil, apperr.Persistence(fmt.Errorf("load snapshots: %w", err))
	}

	return s.engine.Rollup(snaps, windows), nil
}
