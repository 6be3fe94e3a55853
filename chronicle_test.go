// chronicle_test.go
package chronicle

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"chronicle/internal/checkpoint"
	"chronicle/internal/config"
)

const (
	userLine      = `{"type":"user","message":{"role":"user","content":"hello"}}`
	assistantLine = `{"type":"assistant","message":{"role":"assistant","usage":{"input_tokens":10,"output_tokens":5}}}`
)

type captureBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (c *captureBroadcaster) BroadcastEvent(eventType string, payload interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, eventType)
}

func (c *captureBroadcaster) seen(eventType string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.events {
		if e == eventType {
			return true
		}
	}
	return false
}

func newTestEngine(t *testing.T) (*Engine, *captureBroadcaster) {
	t.Helper()

	cfg, err := config.LoadFrom(filepath.Join(t.TempDir(), "chronicle"))
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}

	engine, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { engine.Close() })

	broadcaster := &captureBroadcaster{}
	engine.SetBroadcaster(broadcaster)
	return engine, broadcaster
}

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestEngine_CheckpointLifecycle(t *testing.T) {
	engine, broadcaster := newTestEngine(t)
	project := t.TempDir()
	writeFile(t, project, "main.go", "package main\n")

	if err := engine.TrackMessage("session-1", "project-1", project, userLine); err != nil {
		t.Fatalf("TrackMessage failed: %v", err)
	}
	if err := engine.TrackSessionMessages("session-1", "project-1", project, []string{assistantLine}); err != nil {
		t.Fatalf("TrackSessionMessages failed: %v", err)
	}

	result, err := engine.CreateCheckpoint("session-1", "project-1", project, "initial")
	if err != nil {
		t.Fatalf("CreateCheckpoint failed: %v", err)
	}
	if result.FilesProcessed != 1 {
		t.Errorf("Expected 1 file processed, got %d", result.FilesProcessed)
	}
	if !broadcaster.seen("checkpoint:created") {
		t.Error("Expected checkpoint:created event")
	}

	list, err := engine.ListCheckpoints("session-1", "project-1", project)
	if err != nil {
		t.Fatalf("ListCheckpoints failed: %v", err)
	}
	if len(list) != 1 || list[0].ID != result.Checkpoint.ID {
		t.Errorf("Unexpected checkpoint list: %+v", list)
	}

	timeline, err := engine.GetSessionTimeline("session-1", "project-1", project)
	if err != nil {
		t.Fatalf("GetSessionTimeline failed: %v", err)
	}
	if timeline.CurrentCheckpointID != result.Checkpoint.ID || timeline.TotalCheckpoints != 1 {
		t.Errorf("Unexpected timeline: %+v", timeline)
	}

	// Scribble over the tree, then restore.
	writeFile(t, project, "main.go", "package broken\n")
	restored, err := engine.RestoreCheckpoint("session-1", "project-1", project, result.Checkpoint.ID)
	if err != nil {
		t.Fatalf("RestoreCheckpoint failed: %v", err)
	}
	if len(restored.Transcript) == 0 {
		t.Error("Expected transcript from restore")
	}
	if !broadcaster.seen("checkpoint:restored") {
		t.Error("Expected checkpoint:restored event")
	}

	content, err := os.ReadFile(filepath.Join(project, "main.go"))
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "package main\n" {
		t.Errorf("Expected restored content, got %q", content)
	}
}

func TestEngine_AutoCheckpointFlow(t *testing.T) {
	engine, _ := newTestEngine(t)
	project := t.TempDir()
	writeFile(t, project, "a.txt", "a\n")

	err := engine.UpdateCheckpointSettings("session-1", "project-1", project, true, "per_prompt")
	if err != nil {
		t.Fatalf("UpdateCheckpointSettings failed: %v", err)
	}

	should, err := engine.CheckAutoCheckpoint("session-1", "project-1", project, userLine)
	if err != nil {
		t.Fatal(err)
	}
	if should {
		t.Error("Expected no trigger with an empty buffer")
	}

	if err := engine.TrackMessage("session-1", "project-1", project, assistantLine); err != nil {
		t.Fatal(err)
	}
	should, err = engine.CheckAutoCheckpoint("session-1", "project-1", project, userLine)
	if err != nil {
		t.Fatal(err)
	}
	if !should {
		t.Error("Expected trigger on user prompt with buffered changes")
	}

	result, err := engine.AutoCheckpoint("session-1", "project-1", project, "")
	if err != nil {
		t.Fatalf("AutoCheckpoint failed: %v", err)
	}
	if result.Checkpoint.Trigger != checkpoint.TriggerAuto {
		t.Errorf("Expected auto trigger, got %s", result.Checkpoint.Trigger)
	}
}

func TestEngine_InvalidStrategyRejected(t *testing.T) {
	engine, _ := newTestEngine(t)

	err := engine.UpdateCheckpointSettings("session-1", "project-1", t.TempDir(), true, "hourly")
	if err == nil {
		t.Fatal("Expected error for unknown strategy")
	}
	var invalid *checkpoint.InvalidStrategyError
	if !errors.As(err, &invalid) {
		t.Errorf("Expected InvalidStrategyError, got %v", err)
	}
}

func TestEngine_ForkAndDiff(t *testing.T) {
	engine, broadcaster := newTestEngine(t)
	project := t.TempDir()
	writeFile(t, project, "x.txt", "1")
	writeFile(t, project, "y.txt", "2")

	first, err := engine.CreateCheckpoint("session-1", "project-1", project, "A")
	if err != nil {
		t.Fatalf("create A: %v", err)
	}

	if err := os.Remove(filepath.Join(project, "y.txt")); err != nil {
		t.Fatal(err)
	}
	writeFile(t, project, "z.txt", "3")
	second, err := engine.CreateCheckpoint("session-1", "project-1", project, "B")
	if err != nil {
		t.Fatalf("create B: %v", err)
	}

	diff, err := engine.GetCheckpointDiff("session-1", "project-1", project, first.Checkpoint.ID, second.Checkpoint.ID)
	if err != nil {
		t.Fatalf("GetCheckpointDiff failed: %v", err)
	}
	if len(diff.ModifiedFiles) != 0 {
		t.Errorf("Expected no modified files, got %v", diff.ModifiedFiles)
	}
	if len(diff.AddedFiles) != 1 || diff.AddedFiles[0] != "z.txt" {
		t.Errorf("Expected [z.txt] added, got %v", diff.AddedFiles)
	}
	if len(diff.DeletedFiles) != 1 || diff.DeletedFiles[0] != "y.txt" {
		t.Errorf("Expected [y.txt] deleted, got %v", diff.DeletedFiles)
	}

	forkProject := t.TempDir()
	forked, err := engine.ForkFromCheckpoint(first.Checkpoint.ID, "session-2", "project-1", forkProject, "")
	if err != nil {
		t.Fatalf("ForkFromCheckpoint failed: %v", err)
	}
	if forked.Checkpoint.ParentCheckpointID != first.Checkpoint.ID {
		t.Errorf("Fork parent mismatch: %s", forked.Checkpoint.ParentCheckpointID)
	}
	if !broadcaster.seen("session:forked") {
		t.Error("Expected session:forked event")
	}
}

func TestEngine_Cleanup(t *testing.T) {
	engine, broadcaster := newTestEngine(t)
	project := t.TempDir()

	for i := 0; i < 4; i++ {
		writeFile(t, project, "counter.txt", string(rune('0'+i)))
		if _, err := engine.CreateCheckpoint("session-1", "project-1", project, ""); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	removed, err := engine.CleanupOldCheckpoints("session-1", "project-1", project, 2)
	if err != nil {
		t.Fatalf("CleanupOldCheckpoints failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("Expected 2 removed, got %d", removed)
	}
	if !broadcaster.seen("checkpoint:cleanup") {
		t.Error("Expected checkpoint:cleanup event")
	}

	list, err := engine.ListCheckpoints("session-1", "project-1", project)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Errorf("Expected 2 survivors, got %d", len(list))
	}
}

func TestEngine_SessionRegistry(t *testing.T) {
	engine, _ := newTestEngine(t)
	project := t.TempDir()

	if err := engine.TrackMessage("session-1", "project-1", project, userLine); err != nil {
		t.Fatal(err)
	}
	if err := engine.TrackMessage("session-2", "project-1", t.TempDir(), userLine); err != nil {
		t.Fatal(err)
	}

	if count := engine.ActiveSessionCount(); count != 2 {
		t.Errorf("Expected 2 active sessions, got %d", count)
	}

	// The same session cannot rebind to another project path.
	err := engine.TrackMessage("session-1", "project-1", t.TempDir(), userLine)
	if !errors.Is(err, checkpoint.ErrProjectMismatch) {
		t.Errorf("Expected ErrProjectMismatch, got %v", err)
	}

	engine.ClearCheckpointManager("session-1")
	if count := engine.ActiveSessionCount(); count != 1 {
		t.Errorf("Expected 1 active session after clear, got %d", count)
	}

	sessions := engine.ListActiveSessions()
	if len(sessions) != 1 || sessions[0] != "session-2" {
		t.Errorf("Unexpected active sessions: %v", sessions)
	}
}
