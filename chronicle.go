// chronicle.go
package chronicle

import (
	"fmt"
	"log"
	"sync"
	"time"

	"chronicle/internal/checkpoint"
	"chronicle/internal/config"
	"chronicle/internal/database"
	"chronicle/internal/eventhub"
	"chronicle/internal/watcher"
)

// watcherDebounce is the settle time for file-system events before they
// reach modification bookkeeping
const watcherDebounce = 200 * time.Millisecond

// Engine is the in-process surface of the checkpoint engine. Command
// handlers hosting the engine call it directly; it owns the record store,
// the content pool, the manager registry and one file watcher per active
// session.
type Engine struct {
	config   *config.Config
	db       *database.Database
	content  *checkpoint.ContentStore
	storage  *checkpoint.Storage
	registry *checkpoint.Registry
	eventHub *eventhub.EventHub

	mu       sync.Mutex
	watchers map[string]*watcher.Watcher
}

// New creates an Engine from a loaded configuration
func New(cfg *config.Config) (*Engine, error) {
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	content, err := checkpoint.NewContentStore(cfg.ContentPoolDir, cfg.Settings.CompressionLevel)
	if err != nil {
		db.Close()
		return nil, err
	}

	storage := checkpoint.NewStorage(db, content)
	opts := checkpoint.Options{
		SmartMessageThreshold: cfg.Settings.SmartMessages,
		SmartFileThreshold:    cfg.Settings.SmartFiles,
		SmartInterval:         cfg.Settings.SmartInterval,
		RemoveUntracked:       cfg.Settings.RemoveUntracked,
	}

	return &Engine{
		config:   cfg,
		db:       db,
		content:  content,
		storage:  storage,
		registry: checkpoint.NewRegistry(db, storage, opts),
		eventHub: eventhub.New(),
		watchers: make(map[string]*watcher.Watcher),
	}, nil
}

// SetBroadcaster attaches an event sink for engine events
func (e *Engine) SetBroadcaster(b eventhub.Broadcaster) {
	e.eventHub.SetBroadcaster(b)
}

// Close stops all watchers and closes the record store
func (e *Engine) Close() error {
	e.mu.Lock()
	for sessionID, w := range e.watchers {
		w.Close()
		delete(e.watchers, sessionID)
	}
	e.mu.Unlock()

	return e.db.Close()
}

// manager resolves the session's checkpoint manager, creating it and its
// project watcher on first use
func (e *Engine) manager(sessionID, projectID, projectPath string) (*checkpoint.Manager, error) {
	existing := e.registry.GetManager(sessionID)

	mgr, err := e.registry.GetOrCreateManager(sessionID, projectID, projectPath)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		e.attachWatcher(sessionID, projectPath, mgr)
	}
	return mgr, nil
}

// attachWatcher starts a project watcher feeding the manager's
// modification bookkeeping. Watch failures degrade the Smart strategy's
// out-of-band signal but never block checkpointing.
func (e *Engine) attachWatcher(sessionID, projectPath string, mgr *checkpoint.Manager) {
	e.mu.Lock()
	_, attached := e.watchers[sessionID]
	e.mu.Unlock()
	if attached {
		return
	}

	w, err := watcher.New(projectPath, watcherDebounce, func(ev watcher.Event) {
		if ev.Type == watcher.EventModify || ev.Type == watcher.EventCreate {
			mgr.RecordFileModification(ev.Path)
		}
	})
	if err != nil {
		log.Printf("cannot watch project %s for session %s: %v", projectPath, sessionID, err)
		return
	}
	if err := w.Start(); err != nil {
		w.Close()
		return
	}

	e.mu.Lock()
	e.watchers[sessionID] = w
	e.mu.Unlock()
}

// TrackMessage feeds one transcript line into a session's buffer
func (e *Engine) TrackMessage(sessionID, projectID, projectPath, line string) error {
	mgr, err := e.manager(sessionID, projectID, projectPath)
	if err != nil {
		return err
	}
	return mgr.TrackMessage(line)
}

// TrackSessionMessages feeds a batch of transcript lines into a session's
// buffer
func (e *Engine) TrackSessionMessages(sessionID, projectID, projectPath string, lines []string) error {
	mgr, err := e.manager(sessionID, projectID, projectPath)
	if err != nil {
		return err
	}
	return mgr.TrackMessages(lines)
}

// CheckAutoCheckpoint reports whether the candidate line should trigger an
// automatic checkpoint under the session's strategy
func (e *Engine) CheckAutoCheckpoint(sessionID, projectID, projectPath, line string) (bool, error) {
	mgr, err := e.manager(sessionID, projectID, projectPath)
	if err != nil {
		return false, err
	}
	return mgr.ShouldAutoCheckpoint(line), nil
}

// CreateCheckpoint takes a manual checkpoint of the session
func (e *Engine) CreateCheckpoint(sessionID, projectID, projectPath, description string) (*checkpoint.CheckpointResult, error) {
	mgr, err := e.manager(sessionID, projectID, projectPath)
	if err != nil {
		return nil, err
	}

	result, err := mgr.CreateCheckpoint(description, "")
	if err != nil {
		return nil, err
	}

	e.eventHub.EmitCheckpointCreated(eventhub.CheckpointCreatedEvent{
		SessionID:      sessionID,
		CheckpointID:   result.Checkpoint.ID,
		Trigger:        result.Checkpoint.Trigger,
		FilesProcessed: result.FilesProcessed,
	})
	return result, nil
}

// AutoCheckpoint takes a strategy-triggered checkpoint of the session
func (e *Engine) AutoCheckpoint(sessionID, projectID, projectPath, description string) (*checkpoint.CheckpointResult, error) {
	mgr, err := e.manager(sessionID, projectID, projectPath)
	if err != nil {
		return nil, err
	}

	result, err := mgr.AutoCheckpoint(description)
	if err != nil {
		return nil, err
	}

	e.eventHub.EmitCheckpointCreated(eventhub.CheckpointCreatedEvent{
		SessionID:      sessionID,
		CheckpointID:   result.Checkpoint.ID,
		Trigger:        result.Checkpoint.Trigger,
		FilesProcessed: result.FilesProcessed,
	})
	return result, nil
}

// RestoreCheckpoint writes a checkpoint's files back to the working tree
// and returns the captured transcript so the caller can rewrite the
// visible conversation log
func (e *Engine) RestoreCheckpoint(sessionID, projectID, projectPath, checkpointID string) (*checkpoint.CheckpointResult, error) {
	mgr, err := e.manager(sessionID, projectID, projectPath)
	if err != nil {
		return nil, err
	}

	result, err := mgr.RestoreCheckpoint(checkpointID)
	if err != nil {
		return nil, err
	}

	e.eventHub.EmitCheckpointRestored(eventhub.CheckpointRestoredEvent{
		SessionID:      sessionID,
		CheckpointID:   checkpointID,
		FilesProcessed: result.FilesProcessed,
	})
	return result, nil
}

// ForkFromCheckpoint starts a new session lineage rooted at an existing
// checkpoint
func (e *Engine) ForkFromCheckpoint(sourceCheckpointID, newSessionID, projectID, projectPath, description string) (*checkpoint.CheckpointResult, error) {
	mgr, err := e.manager(newSessionID, projectID, projectPath)
	if err != nil {
		return nil, err
	}

	result, err := mgr.ForkFromCheckpoint(sourceCheckpointID, description)
	if err != nil {
		return nil, err
	}

	e.eventHub.EmitSessionForked(eventhub.SessionForkedEvent{
		SourceCheckpointID: sourceCheckpointID,
		NewSessionID:       newSessionID,
		CheckpointID:       result.Checkpoint.ID,
	})
	return result, nil
}

// ListCheckpoints returns a session's checkpoints in creation order
func (e *Engine) ListCheckpoints(sessionID, projectID, projectPath string) ([]checkpoint.Checkpoint, error) {
	mgr, err := e.manager(sessionID, projectID, projectPath)
	if err != nil {
		return nil, err
	}
	return mgr.ListCheckpoints()
}

// GetSessionTimeline returns the session's timeline projection
func (e *Engine) GetSessionTimeline(sessionID, projectID, projectPath string) (*checkpoint.SessionTimeline, error) {
	mgr, err := e.manager(sessionID, projectID, projectPath)
	if err != nil {
		return nil, err
	}
	return mgr.GetTimeline()
}

// UpdateCheckpointSettings applies new auto-checkpoint settings to a
// session
func (e *Engine) UpdateCheckpointSettings(sessionID, projectID, projectPath string, autoEnabled bool, strategy string) error {
	parsed, err := checkpoint.ParseStrategy(strategy)
	if err != nil {
		return err
	}

	mgr, err := e.manager(sessionID, projectID, projectPath)
	if err != nil {
		return err
	}
	return mgr.UpdateSettings(autoEnabled, parsed)
}

// GetCheckpointDiff compares two checkpoints
func (e *Engine) GetCheckpointDiff(sessionID, projectID, projectPath, fromID, toID string) (*checkpoint.CheckpointDiff, error) {
	mgr, err := e.manager(sessionID, projectID, projectPath)
	if err != nil {
		return nil, err
	}
	return mgr.GetDiff(fromID, toID)
}

// CleanupOldCheckpoints removes all but the keepCount most recent
// checkpoints of a session. keepCount <= 0 uses the configured default.
func (e *Engine) CleanupOldCheckpoints(sessionID, projectID, projectPath string, keepCount int) (int, error) {
	if keepCount <= 0 {
		keepCount = e.config.Settings.KeepCount
	}

	mgr, err := e.manager(sessionID, projectID, projectPath)
	if err != nil {
		return 0, err
	}

	removed, err := mgr.CleanupOldCheckpoints(keepCount)
	if err != nil {
		return removed, err
	}

	e.eventHub.EmitCheckpointCleanup(eventhub.CheckpointCleanupEvent{
		SessionID: sessionID,
		Removed:   removed,
	})
	return removed, nil
}

// ClearCheckpointManager removes a session's manager and stops its
// project watcher. Persisted checkpoints are untouched.
func (e *Engine) ClearCheckpointManager(sessionID string) {
	e.registry.RemoveManager(sessionID)

	e.mu.Lock()
	if w, ok := e.watchers[sessionID]; ok {
		w.Close()
		delete(e.watchers, sessionID)
	}
	e.mu.Unlock()
}

// ListActiveSessions returns the session ids with active managers
func (e *Engine) ListActiveSessions() []string {
	return e.registry.ListActiveSessions()
}

// ActiveSessionCount returns the number of active managers
func (e *Engine) ActiveSessionCount() int {
	return e.registry.ActiveCount()
}
