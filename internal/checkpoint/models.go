// internal/checkpoint/models.go
package checkpoint

import "time"

// CheckpointStrategy controls when checkpoints are taken automatically
type CheckpointStrategy string

const (
	StrategyManual     CheckpointStrategy = "manual"
	StrategyPerPrompt  CheckpointStrategy = "per_prompt"
	StrategyPerToolUse CheckpointStrategy = "per_tool_use"
	StrategySmart      CheckpointStrategy = "smart"
)

// ParseStrategy converts a string into a CheckpointStrategy
func ParseStrategy(s string) (CheckpointStrategy, error) {
	switch CheckpointStrategy(s) {
	case StrategyManual, StrategyPerPrompt, StrategyPerToolUse, StrategySmart:
		return CheckpointStrategy(s), nil
	}
	return "", &InvalidStrategyError{Value: s}
}

// Trigger values recorded on a checkpoint
const (
	TriggerManual = "manual"
	TriggerAuto   = "auto"
	TriggerFork   = "fork"
)

// CheckpointMetadata holds aggregate counters captured at creation time
type CheckpointMetadata struct {
	TotalTokens int64 `json:"total_tokens"`
	FileCount   int   `json:"file_count"`
}

// Checkpoint represents one immutable snapshot of a session.
// ParentCheckpointID is empty for a lineage root; after a fork it may
// reference a checkpoint created under another session id.
type Checkpoint struct {
	ID                 string             `json:"id"`
	SessionID          string             `json:"session_id"`
	ProjectID          string             `json:"project_id"`
	ParentCheckpointID string             `json:"parent_checkpoint_id,omitempty"`
	MessageIndex       int                `json:"message_index"`
	Description        string             `json:"description,omitempty"`
	Trigger            string             `json:"trigger"`
	Metadata           CheckpointMetadata `json:"metadata"`
	CreatedAt          time.Time          `json:"created_at"`
}

// FileSnapshot represents a file captured at a specific checkpoint
type FileSnapshot struct {
	CheckpointID string `json:"checkpoint_id"`
	FilePath     string `json:"file_path"`
	Content      []byte `json:"-"`
	Hash         string `json:"hash"`
	Size         int64  `json:"size"`
	Mode         uint32 `json:"mode,omitempty"`
}

// CheckpointResult represents the outcome of a checkpoint operation
type CheckpointResult struct {
	Checkpoint     *Checkpoint `json:"checkpoint"`
	FilesProcessed int         `json:"files_processed"`
	Warnings       []string    `json:"warnings,omitempty"`
	// Transcript carries the exact captured transcript bytes on restore so
	// the caller can rewrite the visible session log.
	Transcript []byte `json:"-"`
}

// SessionTimeline is the read projection of a session's checkpoint history
type SessionTimeline struct {
	SessionID             string             `json:"session_id"`
	ProjectID             string             `json:"project_id"`
	CurrentCheckpointID   string             `json:"current_checkpoint_id,omitempty"`
	TotalCheckpoints      int                `json:"total_checkpoints"`
	AutoCheckpointEnabled bool               `json:"auto_checkpoint_enabled"`
	Strategy              CheckpointStrategy `json:"checkpoint_strategy"`
}

// FileDiff describes one modified file between two checkpoints.
// Additions and deletions are coarse whole-file line counts, not a
// content-level patch.
type FileDiff struct {
	Path      string `json:"path"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

// CheckpointDiff compares the file sets of two checkpoints
type CheckpointDiff struct {
	FromCheckpointID string     `json:"from_checkpoint_id"`
	ToCheckpointID   string     `json:"to_checkpoint_id"`
	ModifiedFiles    []FileDiff `json:"modified_files"`
	AddedFiles       []string   `json:"added_files"`
	DeletedFiles     []string   `json:"deleted_files"`
	TokenDelta       int64      `json:"token_delta"`
}
