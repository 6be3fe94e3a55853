// internal/watcher/watcher_test.go
package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestWatcher_ModifyEvent(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(target, []byte("initial"), 0644); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var events []Event
	w, err := New(dir, 10*time.Millisecond, func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer w.Close()

	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := os.WriteFile(target, []byte("changed"), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(events)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) == 0 {
		t.Fatal("Expected at least one event")
	}
	found := false
	for _, e := range events {
		if e.Path == target && (e.Type == EventModify || e.Type == EventCreate) {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected event for %s, got %+v", target, events)
	}
}

func TestWatcher_StartTwice(t *testing.T) {
	w, err := New(t.TempDir(), 10*time.Millisecond, func(Event) {})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer w.Close()

	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := w.Start(); err == nil {
		t.Error("Expected error on second Start")
	}
}

func TestWatcher_CloseIdempotent(t *testing.T) {
	w, err := New(t.TempDir(), 10*time.Millisecond, func(Event) {})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
	if err := w.Start(); err == nil {
		t.Error("Expected error starting a closed watcher")
	}
}

func TestWatcher_MissingRoot(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing"), 10*time.Millisecond, func(Event) {})
	if err == nil {
		t.Error("Expected error for a missing root")
	}
}
