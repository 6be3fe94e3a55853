// internal/checkpoint/registry.go
package checkpoint

import (
	"fmt"
	"sort"
	"sync"

	"chronicle/internal/database"
)

// Registry maps session ids to their active managers. Entries are created
// lazily and removed explicitly when a collaborator ends a session. The
// registry is an injected object rather than a package-level singleton so
// tests can build isolated instances.
type Registry struct {
	db      *database.Database
	storage *Storage
	opts    Options

	mu       sync.Mutex
	managers map[string]*Manager
}

// NewRegistry creates an empty manager registry
func NewRegistry(db *database.Database, storage *Storage, opts Options) *Registry {
	return &Registry{
		db:       db,
		storage:  storage,
		opts:     opts,
		managers: make(map[string]*Manager),
	}
}

// GetOrCreateManager returns the manager for a session, creating it on
// first use. Requesting an existing session with a different project path
// is an error rather than a silent rebind.
func (r *Registry) GetOrCreateManager(sessionID, projectID, projectPath string) (*Manager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if mgr, ok := r.managers[sessionID]; ok {
		if mgr.ProjectPath() != projectPath {
			return nil, fmt.Errorf("session %s bound to %s, requested %s: %w",
				sessionID, mgr.ProjectPath(), projectPath, ErrProjectMismatch)
		}
		return mgr, nil
	}

	timeline := NewTimeline(r.db, sessionID, projectID)
	mgr, err := NewManager(r.storage, timeline, sessionID, projectID, projectPath, r.opts)
	if err != nil {
		return nil, fmt.Errorf("create manager for session %s: %w", sessionID, err)
	}

	r.managers[sessionID] = mgr
	return mgr, nil
}

// GetManager returns the active manager for a session, or nil
func (r *Registry) GetManager(sessionID string) *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.managers[sessionID]
}

// RemoveManager drops a session's manager from the registry
func (r *Registry) RemoveManager(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.managers, sessionID)
}

// ListActiveSessions returns the session ids with active managers
func (r *Registry) ListActiveSessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions := make([]string, 0, len(r.managers))
	for id := range r.managers {
		sessions = append(sessions, id)
	}
	sort.Strings(sessions)
	return sessions
}

// ActiveCount returns the number of active managers
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.managers)
}
