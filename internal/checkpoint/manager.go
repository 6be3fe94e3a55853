// internal/checkpoint/manager.go
package checkpoint

import (
	"bytes"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Options tunes per-manager behavior. Smart thresholds trigger an
// auto-checkpoint when any one of them is exceeded.
type Options struct {
	SmartMessageThreshold int
	SmartFileThreshold    int
	SmartInterval         time.Duration
	// RemoveUntracked makes restore delete working-tree files that are not
	// part of the restored checkpoint. Off by default.
	RemoveUntracked bool
}

// DefaultOptions returns the default manager options
func DefaultOptions() Options {
	return Options{
		SmartMessageThreshold: 10,
		SmartFileThreshold:    3,
		SmartInterval:         5 * time.Minute,
	}
}

// Manager orchestrates checkpoint operations for one (session, project)
// pair. All operations are serialized by a single mutex: create, restore
// and fork read-modify-write the timeline pointer and the buffer baseline.
type Manager struct {
	storage     *Storage
	timeline    *Timeline
	sessionID   string
	projectID   string
	projectPath string
	opts        Options

	mu sync.Mutex
	// lines holds every tracked transcript line; baseline marks how many
	// of them were already captured by the last checkpoint.
	lines    []string
	baseline int

	totalTokens      int64
	modifiedFiles    map[string]time.Time
	filesSinceCkpt   map[string]bool
	lastModification time.Time
	lastCheckpointAt time.Time

	autoEnabled bool
	strategy    CheckpointStrategy
}

// NewManager creates a manager for a session. Settings are loaded from the
// session's persisted timeline.
func NewManager(storage *Storage, timeline *Timeline, sessionID, projectID, projectPath string, opts Options) (*Manager, error) {
	autoEnabled, strategy, err := timeline.Settings()
	if err != nil {
		return nil, err
	}

	return &Manager{
		storage:          storage,
		timeline:         timeline,
		sessionID:        sessionID,
		projectID:        projectID,
		projectPath:      projectPath,
		opts:             opts,
		modifiedFiles:    make(map[string]time.Time),
		filesSinceCkpt:   make(map[string]bool),
		lastCheckpointAt: time.Now(),
		autoEnabled:      autoEnabled,
		strategy:         strategy,
	}, nil
}

// SessionID returns the session this manager is bound to
func (m *Manager) SessionID() string { return m.sessionID }

// ProjectID returns the project this manager is bound to
func (m *Manager) ProjectID() string { return m.projectID }

// ProjectPath returns the working-tree root this manager snapshots
func (m *Manager) ProjectPath() string { return m.projectPath }

// TrackMessage appends one transcript line to the buffer and updates
// modification bookkeeping from its content
func (m *Manager) TrackMessage(line string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.trackLocked(line)
	return nil
}

// TrackMessages appends multiple transcript lines at once
func (m *Manager) TrackMessages(lines []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, line := range lines {
		m.trackLocked(line)
	}
	return nil
}

func (m *Manager) trackLocked(line string) {
	m.lines = append(m.lines, line)

	msg := ParseMessage(line)
	m.totalTokens += msg.TokenUsage()
	for _, path := range msg.MutatedFiles() {
		m.recordModificationLocked(path, time.Now())
	}
}

// RecordFileModification notes that a working-tree file changed. Called
// from tool results and from the project file watcher.
func (m *Manager) RecordFileModification(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.recordModificationLocked(path, time.Now())
}

func (m *Manager) recordModificationLocked(path string, at time.Time) {
	m.modifiedFiles[path] = at
	m.filesSinceCkpt[path] = true
	if at.After(m.lastModification) {
		m.lastModification = at
	}
}

// GetFilesModifiedSince returns the tracked files modified after the given
// time. This reads message bookkeeping, not file-system stats.
func (m *Manager) GetFilesModifiedSince(since time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var paths []string
	for path, at := range m.modifiedFiles {
		if at.After(since) {
			paths = append(paths, path)
		}
	}
	return paths
}

// GetLastModificationTime returns the time of the most recent tracked
// modification, zero if none has been seen
func (m *Manager) GetLastModificationTime() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lastModification
}

// ShouldAutoCheckpoint decides whether the candidate line should trigger
// an automatic checkpoint under the active strategy. The candidate is the
// next line to be tracked, not yet in the buffer.
func (m *Manager) ShouldAutoCheckpoint(candidate string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.autoEnabled {
		return false
	}

	switch m.strategy {
	case StrategyPerPrompt:
		msg := ParseMessage(candidate)
		return msg.IsUserPrompt() && len(m.lines) > m.baseline
	case StrategyPerToolUse:
		msg := ParseMessage(candidate)
		return len(msg.MutatedFiles()) > 0
	case StrategySmart:
		if len(m.lines)-m.baseline >= m.opts.SmartMessageThreshold {
			return true
		}
		if len(m.filesSinceCkpt) > m.opts.SmartFileThreshold {
			return true
		}
		return time.Since(m.lastCheckpointAt) > m.opts.SmartInterval
	}
	return false
}

// UpdateSettings persists and applies new auto-checkpoint settings
func (m *Manager) UpdateSettings(autoEnabled bool, strategy CheckpointStrategy) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.timeline.UpdateSettings(autoEnabled, strategy); err != nil {
		return err
	}
	m.autoEnabled = autoEnabled
	m.strategy = strategy
	return nil
}

// GetTimeline returns the session's timeline projection
func (m *Manager) GetTimeline() (*SessionTimeline, error) {
	return m.timeline.Get()
}

// ListCheckpoints returns the session's checkpoints in creation order
func (m *Manager) ListCheckpoints() ([]Checkpoint, error) {
	return m.storage.ListCheckpoints(m.sessionID)
}

// GetDiff compares two checkpoints reachable from this session
func (m *Manager) GetDiff(fromID, toID string) (*CheckpointDiff, error) {
	return m.storage.Diff(fromID, toID)
}

// CleanupOldCheckpoints applies the retention policy for this session
func (m *Manager) CleanupOldCheckpoints(keepCount int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.storage.CleanupOldCheckpoints(m.sessionID, keepCount)
}

// CreateCheckpoint snapshots the working tree and the buffered transcript
// into a new checkpoint, advances the timeline and resets the buffer
// baseline. parentOverride replaces the timeline pointer as the parent
// when non-empty.
func (m *Manager) CreateCheckpoint(description, parentOverride string) (*CheckpointResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.createLocked(description, parentOverride, TriggerManual)
}

// AutoCheckpoint creates a checkpoint recorded as strategy-triggered
func (m *Manager) AutoCheckpoint(description string) (*CheckpointResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.createLocked(description, "", TriggerAuto)
}

func (m *Manager) createLocked(description, parentOverride, trigger string) (*CheckpointResult, error) {
	parent := parentOverride
	if parent == "" {
		current, err := m.timeline.Current()
		if err != nil {
			return nil, err
		}
		parent = current
	}

	files, warnings, err := snapshotWorkingTree(m.projectPath)
	if err != nil {
		return nil, fmt.Errorf("snapshot session %s: %w", m.sessionID, err)
	}

	cp := &Checkpoint{
		ID:                 GenerateID(),
		SessionID:          m.sessionID,
		ProjectID:          m.projectID,
		ParentCheckpointID: parent,
		MessageIndex:       len(m.lines),
		Description:        description,
		Trigger:            trigger,
		Metadata:           CheckpointMetadata{TotalTokens: m.totalTokens},
	}

	result, err := m.storage.SaveCheckpoint(cp, files, m.transcriptLocked())
	if err != nil {
		return nil, fmt.Errorf("create checkpoint for session %s: %w", m.sessionID, err)
	}
	result.Warnings = append(warnings, result.Warnings...)

	if err := m.timeline.Advance(cp.ID); err != nil {
		return nil, err
	}
	m.resetBaselineLocked()

	log.Printf("created checkpoint %s for session %s (%d files, %d warnings)",
		cp.ID, m.sessionID, result.FilesProcessed, len(result.Warnings))
	return result, nil
}

// RestoreCheckpoint writes a checkpoint's files back to the working tree
// and moves the timeline pointer to it. The target must be part of this
// session's lineage. Writes are staged to temp files and only renamed into
// place once every file is staged, so an unwritable file aborts the
// restore before the working tree is touched.
func (m *Manager) RestoreCheckpoint(checkpointID string) (*CheckpointResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lineage, err := m.storage.Lineage(m.sessionID)
	if err != nil {
		return nil, err
	}
	if !lineage[checkpointID] {
		return nil, fmt.Errorf("restore %s in session %s: %w", checkpointID, m.sessionID, ErrInvalidLineage)
	}

	cp, files, transcript, err := m.storage.LoadCheckpoint(checkpointID)
	if err != nil {
		return nil, fmt.Errorf("restore session %s: %w", m.sessionID, err)
	}

	result := &CheckpointResult{Checkpoint: cp, Transcript: transcript}

	type stagedFile struct {
		tmp    string
		target string
	}
	var staged []stagedFile
	discard := func() {
		for _, s := range staged {
			os.Remove(s.tmp)
		}
	}

	kept := make(map[string]bool, len(files))
	for _, f := range files {
		kept[f.FilePath] = true

		target := filepath.Join(m.projectPath, filepath.FromSlash(f.FilePath))
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			discard()
			return nil, fmt.Errorf("restore %s: %w", f.FilePath, err)
		}
		mode := os.FileMode(f.Mode)
		if mode == 0 {
			mode = 0644
		}

		tmp, err := os.CreateTemp(filepath.Dir(target), ".restore-*")
		if err != nil {
			discard()
			return nil, fmt.Errorf("restore %s: %w", f.FilePath, err)
		}
		staged = append(staged, stagedFile{tmp: tmp.Name(), target: target})
		if _, err := tmp.Write(f.Content); err != nil {
			tmp.Close()
			discard()
			return nil, fmt.Errorf("restore %s: %w", f.FilePath, err)
		}
		if err := tmp.Close(); err != nil {
			discard()
			return nil, fmt.Errorf("restore %s: %w", f.FilePath, err)
		}
		if err := os.Chmod(tmp.Name(), mode); err != nil {
			discard()
			return nil, fmt.Errorf("restore %s: %w", f.FilePath, err)
		}
	}

	for _, s := range staged {
		if err := os.Rename(s.tmp, s.target); err != nil {
			discard()
			return nil, fmt.Errorf("restore %s: %w", s.target, err)
		}
		result.FilesProcessed++
	}

	if m.opts.RemoveUntracked {
		warnings, err := m.removeUntrackedLocked(kept)
		if err != nil {
			return nil, err
		}
		result.Warnings = append(result.Warnings, warnings...)
	}

	if err := m.timeline.Advance(cp.ID); err != nil {
		return nil, err
	}
	m.rebaseTranscriptLocked(transcript, cp.Metadata.TotalTokens)

	log.Printf("restored checkpoint %s for session %s (%d files)",
		checkpointID, m.sessionID, result.FilesProcessed)
	return result, nil
}

// ForkFromCheckpoint roots this session's timeline at an existing
// checkpoint, copying its files and transcript into a new checkpoint whose
// parent is the source. The source may belong to another session but must
// be from the same project.
func (m *Manager) ForkFromCheckpoint(sourceID, description string) (*CheckpointResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	source, files, transcript, err := m.storage.LoadCheckpoint(sourceID)
	if err != nil {
		return nil, fmt.Errorf("fork session %s: %w", m.sessionID, err)
	}
	if source.ProjectID != m.projectID {
		return nil, fmt.Errorf("fork %s from project %s into project %s: %w",
			sourceID, source.ProjectID, m.projectID, ErrInvalidLineage)
	}

	if description == "" {
		description = fmt.Sprintf("Forked from checkpoint %s", sourceID)
	}

	cp := &Checkpoint{
		ID:                 GenerateID(),
		SessionID:          m.sessionID,
		ProjectID:          m.projectID,
		ParentCheckpointID: sourceID,
		MessageIndex:       source.MessageIndex,
		Description:        description,
		Trigger:            TriggerFork,
		Metadata:           CheckpointMetadata{TotalTokens: source.Metadata.TotalTokens},
	}

	result, err := m.storage.SaveCheckpoint(cp, files, transcript)
	if err != nil {
		return nil, fmt.Errorf("fork session %s: %w", m.sessionID, err)
	}

	if err := m.timeline.Advance(cp.ID); err != nil {
		return nil, err
	}
	m.rebaseTranscriptLocked(transcript, cp.Metadata.TotalTokens)

	log.Printf("forked checkpoint %s into session %s as %s", sourceID, m.sessionID, cp.ID)
	return result, nil
}

// transcriptLocked renders the buffered transcript as captured bytes
func (m *Manager) transcriptLocked() []byte {
	if len(m.lines) == 0 {
		return nil
	}
	return []byte(strings.Join(m.lines, "\n") + "\n")
}

// resetBaselineLocked marks the whole buffer as captured and clears
// per-checkpoint modification counters
func (m *Manager) resetBaselineLocked() {
	m.baseline = len(m.lines)
	m.filesSinceCkpt = make(map[string]bool)
	m.lastCheckpointAt = time.Now()
}

// rebaseTranscriptLocked replaces the buffer with a restored transcript
// and resets the baseline, leaving the manager idle
func (m *Manager) rebaseTranscriptLocked(transcript []byte, totalTokens int64) {
	m.lines = nil
	for _, line := range bytes.Split(bytes.TrimRight(transcript, "\n"), []byte{'\n'}) {
		if len(line) > 0 {
			m.lines = append(m.lines, string(line))
		}
	}
	m.totalTokens = totalTokens
	m.resetBaselineLocked()
}

// removeUntrackedLocked deletes working-tree files absent from the
// restored checkpoint, honoring the same ignore rules as snapshotting
func (m *Manager) removeUntrackedLocked(kept map[string]bool) ([]string, error) {
	matcher := loadIgnoreMatcher(m.projectPath)
	var warnings []string

	err := filepath.WalkDir(m.projectPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(m.projectPath, path)
		if relErr != nil || rel == "." {
			return nil
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")

		if d.IsDir() {
			if defaultIgnoreDirs[d.Name()] || matcher.Match(parts, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || matcher.Match(parts, false) {
			return nil
		}

		if !kept[filepath.ToSlash(rel)] {
			if rmErr := os.Remove(path); rmErr != nil {
				warnings = append(warnings, fmt.Sprintf("failed to remove %s: %v", rel, rmErr))
			}
		}
		return nil
	})
	if err != nil {
		return warnings, fmt.Errorf("remove untracked files: %w", err)
	}
	return warnings, nil
}
