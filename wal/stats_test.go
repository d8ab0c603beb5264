package wal

import (
	"testing"
)

func TestGetStats_EmptyWAL(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(dir)
	if err != nil {
		t.Fatalf("Failed to open WAL: %v", err)
	}
	defer func() { _ = w.Close() }()

	stats := w.GetStats()

	if stats.TotalFiles != 1 {
		t.Errorf("Expected 1 file, got %d", stats.TotalFiles)
	}
	if stats.LastSequence != 0 {
		t.Errorf("Expected sequence 0, got %d", stats.LastSequence)
	}
	if stats.CurrentFileSize != 0 {
		t.Errorf("Expected empty current file, got %d bytes", stats.CurrentFileSize)
	}
}

func TestGetStats_WithEntries(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(dir)
	if err != nil {
		t.Fatalf("Failed to open WAL: %v", err)
	}
	defer func() { _ = w.Close() }()

	for i := 0; i < 10; i++ {
		if err := w.Append(EntryActionCompleted, "resource", nil); err != nil {
			t.Fatalf("Failed to append entry %d: %v", i, err)
		}
	}

	stats := w.GetStats()

	if stats.LastSequence != 10 {
		t.Errorf("Expected sequence 10, got %d", stats.LastSequence)
	}
	if stats.CurrentFileSize == 0 {
		t.Error("Expected non-zero current file size")
	}
	if stats.TotalSizeBytes < stats.CurrentFileSize {
		t.Errorf("TotalSizeBytes %d < CurrentFileSize %d", stats.TotalSizeBytes, stats.CurrentFileSize)
	}
}

func TestDirSize(t *testing.T) {
	dir := t.TempDir()

	if size := DirSize(dir, "stratus"); size != 0 {
		t.Errorf("Empty dir size = %d, want 0", size)
	}

	w, _ := Open(dir)
	_ = w.Append(EntryActionCompleted, "resource", nil)
	_ = w.Close()

	if size := DirSize(dir, "stratus"); size == 0 {
		t.Error("Expected non-zero dir size after append")
	}
}
