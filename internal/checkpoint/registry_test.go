// internal/checkpoint/registry_test.go
package checkpoint

import (
	"errors"
	"reflect"
	"testing"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	env := newManagerEnv(t)
	return NewRegistry(env.db, env.storage, DefaultOptions())
}

func TestRegistry_GetOrCreateIdempotent(t *testing.T) {
	reg := newTestRegistry(t)
	project := t.TempDir()

	mgr1, err := reg.GetOrCreateManager("session-1", "project-1", project)
	if err != nil {
		t.Fatalf("GetOrCreateManager failed: %v", err)
	}
	mgr2, err := reg.GetOrCreateManager("session-1", "project-1", project)
	if err != nil {
		t.Fatalf("second GetOrCreateManager failed: %v", err)
	}

	if mgr1 != mgr2 {
		t.Error("Expected the same manager instance for one session")
	}
	if reg.ActiveCount() != 1 {
		t.Errorf("Expected 1 active manager, got %d", reg.ActiveCount())
	}
}

func TestRegistry_ProjectPathConflict(t *testing.T) {
	reg := newTestRegistry(t)

	if _, err := reg.GetOrCreateManager("session-1", "project-1", t.TempDir()); err != nil {
		t.Fatalf("GetOrCreateManager failed: %v", err)
	}

	_, err := reg.GetOrCreateManager("session-1", "project-1", t.TempDir())
	if !errors.Is(err, ErrProjectMismatch) {
		t.Errorf("Expected ErrProjectMismatch, got %v", err)
	}
}

func TestRegistry_GetManager(t *testing.T) {
	reg := newTestRegistry(t)

	if reg.GetManager("session-x") != nil {
		t.Error("Expected nil for an unknown session")
	}

	created, err := reg.GetOrCreateManager("session-x", "project-1", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if reg.GetManager("session-x") != created {
		t.Error("GetManager returned a different instance")
	}
}

func TestRegistry_RemoveManager(t *testing.T) {
	reg := newTestRegistry(t)
	project := t.TempDir()

	if _, err := reg.GetOrCreateManager("session-1", "project-1", project); err != nil {
		t.Fatal(err)
	}
	reg.RemoveManager("session-1")

	if reg.GetManager("session-1") != nil {
		t.Error("Expected manager to be removed")
	}

	// The session can rebind to a new project path after removal.
	if _, err := reg.GetOrCreateManager("session-1", "project-1", t.TempDir()); err != nil {
		t.Errorf("Rebind after removal failed: %v", err)
	}
}

func TestRegistry_ListActiveSessions(t *testing.T) {
	reg := newTestRegistry(t)

	for _, id := range []string{"session-c", "session-a", "session-b"} {
		if _, err := reg.GetOrCreateManager(id, "project-1", t.TempDir()); err != nil {
			t.Fatal(err)
		}
	}

	got := reg.ListActiveSessions()
	want := []string{"session-a", "session-b", "session-c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}
