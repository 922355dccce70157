package state

import "testing"

func TestMemoryTracker(t *testing.T) {
	tracker := NewMemoryTracker()

	if tracker.AlreadyConverted("h1") {
		t.Error("AlreadyConverted() true on empty tracker")
	}
	if err := tracker.MarkConverted("h1", "a.msg"); err != nil {
		t.Fatalf("MarkConverted() error = %v", err)
	}
	if !tracker.AlreadyConverted("h1") {
		t.Error("AlreadyConverted() false after MarkConverted")
	}
	if tracker.AlreadyConverted("") {
		t.Error("empty hash should never count as converted")
	}
	if got := tracker.Snapshot().Converted; got != 1 {
		t.Errorf("Snapshot().Converted = %d, want 1", got)
	}
}

func TestFileTrackerPersistence(t *testing.T) {
	dir := t.TempDir()

	tracker, err := NewFileTracker(dir, true)
	if err != nil {
		t.Fatalf("NewFileTracker() error = %v", err)
	}
	if err := tracker.MarkConverted("h1", "a.msg"); err != nil {
		t.Fatalf("MarkConverted() error = %v", err)
	}
	if err := tracker.MarkConverted("h2", "b.msg"); err != nil {
		t.Fatalf("MarkConverted() error = %v", err)
	}
	if err := tracker.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := NewFileTracker(dir, true)
	if err != nil {
		t.Fatalf("NewFileTracker() reopen error = %v", err)
	}
	defer reopened.Close()

	if !reopened.AlreadyConverted("h1") || !reopened.AlreadyConverted("h2") {
		t.Error("persisted hashes lost across reopen")
	}
	if reopened.AlreadyConverted("h3") {
		t.Error("AlreadyConverted() true for unseen hash")
	}
	if got := reopened.Snapshot().Converted; got != 2 {
		t.Errorf("Snapshot().Converted = %d, want 2", got)
	}
}

func TestFileTrackerNoPersist(t *testing.T) {
	dir := t.TempDir()

	tracker, err := NewFileTracker(dir, false)
	if err != nil {
		t.Fatalf("NewFileTracker() error = %v", err)
	}
	if err := tracker.MarkConverted("h1", "a.msg"); err != nil {
		t.Fatalf("MarkConverted() error = %v", err)
	}
	if err := tracker.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := NewFileTracker(dir, false)
	if err != nil {
		t.Fatalf("NewFileTracker() reopen error = %v", err)
	}
	defer reopened.Close()
	if reopened.AlreadyConverted("h1") {
		t.Error("non-persisting tracker wrote state to disk")
	}
}
