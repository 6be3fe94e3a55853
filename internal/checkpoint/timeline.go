// internal/checkpoint/timeline.go
package checkpoint

import (
	"fmt"

	"chronicle/internal/database"
)

// Timeline tracks one session's position in its checkpoint history along
// with its auto-checkpoint settings. State lives in the timelines table
// and is created lazily on first write; before the first checkpoint the
// pointer is empty, the strategy is manual and auto-checkpointing is off.
type Timeline struct {
	db        *database.Database
	sessionID string
	projectID string
}

// NewTimeline creates a timeline view for a session
func NewTimeline(db *database.Database, sessionID, projectID string) *Timeline {
	return &Timeline{db: db, sessionID: sessionID, projectID: projectID}
}

func (t *Timeline) record() (*database.TimelineRecord, error) {
	rec, err := t.db.GetTimeline(t.sessionID)
	if err != nil {
		return nil, fmt.Errorf("load timeline for session %s: %w", t.sessionID, err)
	}
	if rec == nil {
		rec = &database.TimelineRecord{
			SessionID: t.sessionID,
			ProjectID: t.projectID,
			Strategy:  string(StrategyManual),
		}
	}
	return rec, nil
}

// Get returns the timeline read projection
func (t *Timeline) Get() (*SessionTimeline, error) {
	rec, err := t.record()
	if err != nil {
		return nil, err
	}

	total, err := t.db.CountCheckpoints(t.sessionID)
	if err != nil {
		return nil, fmt.Errorf("count checkpoints for session %s: %w", t.sessionID, err)
	}

	strategy, err := ParseStrategy(rec.Strategy)
	if err != nil {
		return nil, err
	}

	return &SessionTimeline{
		SessionID:             t.sessionID,
		ProjectID:             t.projectID,
		CurrentCheckpointID:   rec.CurrentCheckpointID,
		TotalCheckpoints:      total,
		AutoCheckpointEnabled: rec.AutoCheckpointEnabled,
		Strategy:              strategy,
	}, nil
}

// Current returns the current checkpoint id, or empty before the first
// checkpoint
func (t *Timeline) Current() (string, error) {
	rec, err := t.record()
	if err != nil {
		return "", err
	}
	return rec.CurrentCheckpointID, nil
}

// Settings returns the auto-checkpoint flag and strategy
func (t *Timeline) Settings() (bool, CheckpointStrategy, error) {
	rec, err := t.record()
	if err != nil {
		return false, StrategyManual, err
	}
	strategy, err := ParseStrategy(rec.Strategy)
	if err != nil {
		return false, StrategyManual, err
	}
	return rec.AutoCheckpointEnabled, strategy, nil
}

// UpdateSettings persists the auto-checkpoint flag and strategy without
// moving the pointer
func (t *Timeline) UpdateSettings(autoEnabled bool, strategy CheckpointStrategy) error {
	rec, err := t.record()
	if err != nil {
		return err
	}
	rec.AutoCheckpointEnabled = autoEnabled
	rec.Strategy = string(strategy)
	if err := t.db.SaveTimeline(rec); err != nil {
		return fmt.Errorf("save timeline for session %s: %w", t.sessionID, err)
	}
	return nil
}

// Advance moves the current pointer to checkpointID. This is the sole
// commit point of a checkpoint operation: blobs and records are already
// durable when the pointer moves.
func (t *Timeline) Advance(checkpointID string) error {
	rec, err := t.record()
	if err != nil {
		return err
	}
	rec.CurrentCheckpointID = checkpointID
	if err := t.db.SaveTimeline(rec); err != nil {
		return fmt.Errorf("advance timeline for session %s: %w", t.sessionID, err)
	}
	return nil
}

// Remove deletes the persisted timeline state for the session
func (t *Timeline) Remove() error {
	return t.db.DeleteTimeline(t.sessionID)
}
