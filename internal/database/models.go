// internal/database/models.go
package database

import "time"

// CheckpointRecord is the persisted metadata row for one checkpoint
type CheckpointRecord struct {
	ID             string
	SessionID      string
	ProjectID      string
	ParentID       string
	MessageIndex   int
	Trigger        string
	Description    string
	TotalTokens    int64
	FileCount      int
	TranscriptHash string
	CreatedAt      time.Time
}

// FileRecord is one file reference belonging to a checkpoint. Content lives
// in the content pool under Hash; the record only carries the reference.
type FileRecord struct {
	CheckpointID string
	FilePath     string
	Hash         string
	Size         int64
	Mode         uint32
}

// TimelineRecord is the persisted per-session timeline state
type TimelineRecord struct {
	SessionID             string
	ProjectID             string
	CurrentCheckpointID   string
	AutoCheckpointEnabled bool
	Strategy              string
}
