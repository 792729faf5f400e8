// Package queue schedules and runs sync and snapshot work on asynq.
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/ad-tracker/analytics-sync-go/internal/platform"
	"github.com/ad-tracker/analytics-sync-go/internal/service/daterange"
)

// Task types
const (
	TypeSyncIncremental = "sync:incremental"
	TypeSyncBackfill    = "sync:backfill"
	TypeSnapshotCapture = "snapshot:capture"
)

// Queues
const (
	QueueSync      = "sync"
	QueueSnapshots = "snapshots"
)

// SyncPayload is the payload for sync tasks. An empty AccountID means every
// connected account on the platform.
type SyncPayload struct {
	Platform  platform.Platform `json:"platform"`
	AccountID string            `json:"account_id,omitempty"`
	FromDate  string            `json:"from_date,omitempty"`
	ToDate    string            `json:"to_date,omitempty"`
}

// NewSyncPayload creates a sync payload, validating the platform and dates.
func NewSyncPayload(p platform.Platform, accountID, fromDate, toDate string) (*SyncPayload, error) {
	if _, err := platform.Parse(p.String()); err != nil {
		return nil, err
	}
	for _, d := range []string{fromDate, toDate} {
		if d == "" {
			continue
		}
		if _, err := daterange.ParseDate(d); err != nil {
			return nil, err
		}
	}

	return &SyncPayload{
		Platform:  p,
		AccountID: accountID,
		FromDate:  fromDate,
		ToDate:    toDate,
	}, nil
}

// Marshal serializes the payload to JSON
func (p *SyncPayload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalSyncPayload deserializes JSON to payload
func UnmarshalSyncPayload(data []byte) (*SyncPayload, error) {
	var payload SyncPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if _, err := platform.Parse(payload.Platform.String()); err != nil {
		return nil, err
	}
	return &payload, nil
}

// SnapshotPayload is the payload for snapshot tasks. An empty AccountID means
// every connected account on the platform.
type SnapshotPayload struct {
	Platform  platform.Platform `json:"platform"`
	AccountID string            `json:"account_id,omitempty"`
}

// NewSnapshotPayload creates a snapshot payload.
func NewSnapshotPayload(p platform.Platform, accountID string) (*SnapshotPayload, error) {
	if _, err := platform.Parse(p.String()); err != nil {
		return nil, err
	}
	return &SnapshotPayload{Platform: p, AccountID: accountID}, nil
}

// Marshal serializes the payload to JSON
func (p *SnapshotPayload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalSnapshotPayload deserializes JSON to payload
func UnmarshalSnapshotPayload(data []byte) (*SnapshotPayload, error) {
	var payload SnapshotPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if _, err := platform.Parse(payload.Platform.String()); err != nil {
		return nil, err
	}
	return &payload, nil
}
