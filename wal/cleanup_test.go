package wal

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCleanup_NoFiles(t *testing.T) {
	dir := t.TempDir()
	config := DefaultConfig()

	if err := Cleanup(dir, config); err != nil {
		t.Errorf("Cleanup failed on empty directory: %v", err)
	}
}

func TestCleanup_UnderBudgetKeepsEverything(t *testing.T) {
	dir := t.TempDir()

	w, _ := Open(dir)
	_ = w.Append(EntryActionCompleted, "r1", nil)
	_ = w.Close()

	config := DefaultConfig()
	config.KeepRotated = 5

	if err := Cleanup(dir, config); err != nil {
		t.Errorf("Cleanup failed: %v", err)
	}

	files, _ := filepath.Glob(filepath.Join(dir, "stratus-*.wal"))
	if len(files) != 1 {
		t.Errorf("Expected 1 file to remain, got %d", len(files))
	}
}

func TestCleanup_RemovesOldestBeyondBudget(t *testing.T) {
	dir := t.TempDir()

	// Fabricate five rotated files; timestamped names define age.
	names := []string{
		"stratus-20250101-080000.000000000.wal",
		"stratus-20250102-080000.000000000.wal",
		"stratus-20250103-080000.000000000.wal",
		"stratus-20250104-080000.000000000.wal",
		"stratus-20250105-080000.000000000.wal",
	}
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("{}\n"), 0o644); err != nil {
			t.Fatalf("Failed to fabricate file: %v", err)
		}
	}

	config := DefaultConfig()
	config.KeepRotated = 1 // keep one rotated plus the notional active file

	if err := Cleanup(dir, config); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}

	files, _ := filepath.Glob(filepath.Join(dir, "stratus-*.wal"))
	if len(files) != 2 {
		t.Fatalf("Expected 2 files to remain, got %d", len(files))
	}

	// The newest two survive.
	for _, f := range files {
		base := filepath.Base(f)
		if base != names[3] && base != names[4] {
			t.Errorf("Unexpected survivor %s", base)
		}
	}
}

func TestCleanupWithStats(t *testing.T) {
	dir := t.TempDir()

	names := []string{
		"stratus-20250101-080000.000000000.wal",
		"stratus-20250102-080000.000000000.wal",
		"stratus-20250103-080000.000000000.wal",
	}
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("0123456789\n"), 0o644); err != nil {
			t.Fatalf("Failed to fabricate file: %v", err)
		}
	}

	config := DefaultConfig()
	config.KeepRotated = 1

	stats, err := CleanupWithStats(dir, config)
	if err != nil {
		t.Fatalf("CleanupWithStats failed: %v", err)
	}
	if stats.FilesRemoved != 1 {
		t.Errorf("FilesRemoved = %d, want 1", stats.FilesRemoved)
	}
	if stats.BytesFreed != 11 {
		t.Errorf("BytesFreed = %d, want 11", stats.BytesFreed)
	}
}
