// internal/checkpoint/timeline_test.go
package checkpoint

import (
	"testing"
)

func TestTimeline_LazyDefaults(t *testing.T) {
	env := newManagerEnv(t)
	tl := NewTimeline(env.db, "session-1", "project-1")

	current, err := tl.Current()
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if current != "" {
		t.Errorf("Expected empty pointer, got %s", current)
	}

	enabled, strategy, err := tl.Settings()
	if err != nil {
		t.Fatalf("Settings failed: %v", err)
	}
	if enabled || strategy != StrategyManual {
		t.Errorf("Expected disabled manual defaults, got %v %s", enabled, strategy)
	}
}

func TestTimeline_Advance(t *testing.T) {
	env := newManagerEnv(t)
	tl := NewTimeline(env.db, "session-1", "project-1")

	if err := tl.Advance("cp-1"); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	current, err := tl.Current()
	if err != nil {
		t.Fatal(err)
	}
	if current != "cp-1" {
		t.Errorf("Expected cp-1, got %s", current)
	}

	if err := tl.Advance("cp-2"); err != nil {
		t.Fatal(err)
	}
	current, _ = tl.Current()
	if current != "cp-2" {
		t.Errorf("Expected cp-2, got %s", current)
	}
}

func TestTimeline_UpdateSettingsKeepsPointer(t *testing.T) {
	env := newManagerEnv(t)
	tl := NewTimeline(env.db, "session-1", "project-1")

	if err := tl.Advance("cp-1"); err != nil {
		t.Fatal(err)
	}
	if err := tl.UpdateSettings(true, StrategyPerPrompt); err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}

	current, err := tl.Current()
	if err != nil {
		t.Fatal(err)
	}
	if current != "cp-1" {
		t.Errorf("Settings update moved the pointer to %s", current)
	}

	enabled, strategy, err := tl.Settings()
	if err != nil {
		t.Fatal(err)
	}
	if !enabled || strategy != StrategyPerPrompt {
		t.Errorf("Settings not applied: %v %s", enabled, strategy)
	}
}

func TestTimeline_Remove(t *testing.T) {
	env := newManagerEnv(t)
	tl := NewTimeline(env.db, "session-1", "project-1")

	if err := tl.Advance("cp-1"); err != nil {
		t.Fatal(err)
	}
	if err := tl.Remove(); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	// Back to lazy defaults after removal.
	current, err := tl.Current()
	if err != nil {
		t.Fatal(err)
	}
	if current != "" {
		t.Errorf("Expected empty pointer after removal, got %s", current)
	}
}
