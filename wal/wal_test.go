package wal

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/varunnarsana/stratus/types"
)

func TestWAL_AppendAndRead(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(dir)
	if err != nil {
		t.Fatalf("Failed to open WAL: %v", err)
	}

	action := types.ChangeAction{
		ResourceID: "db-main",
		Verb:       types.VerbCreate,
		Reason:     "not present in remote",
	}

	if err := w.Append(EntryRunStarted, "", map[string]string{"workspace": "staging"}); err != nil {
		t.Fatalf("Failed to append run_started entry: %v", err)
	}
	if err := w.Append(EntryActionStarted, action.ResourceID, action); err != nil {
		t.Fatalf("Failed to append action_started entry: %v", err)
	}
	if err := w.Append(EntryActionCompleted, action.ResourceID, action); err != nil {
		t.Fatalf("Failed to append action_completed entry: %v", err)
	}
	if err := w.Append(EntryRunCompleted, "", map[string]string{"status": "succeeded"}); err != nil {
		t.Fatalf("Failed to append run_completed entry: %v", err)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Failed to close WAL: %v", err)
	}

	files, _ := filepath.Glob(filepath.Join(dir, "stratus-*.wal"))
	if len(files) == 0 {
		t.Fatal("No WAL files found")
	}

	reader, err := NewReader(files[0])
	if err != nil {
		t.Fatalf("Failed to create reader: %v", err)
	}
	defer reader.Close()

	expectedTypes := []EntryType{
		EntryRunStarted,
		EntryActionStarted,
		EntryActionCompleted,
		EntryRunCompleted,
	}

	for i, expected := range expectedTypes {
		entry, err := reader.Next()
		if err != nil {
			t.Fatalf("Failed to read entry %d: %v", i, err)
		}

		if entry.Type != expected {
			t.Errorf("Entry %d: type = %v, want %v", i, entry.Type, expected)
		}
		if entry.Sequence != int64(i+1) {
			t.Errorf("Entry %d: sequence = %v, want %v", i, entry.Sequence, i+1)
		}
	}

	if _, err = reader.Next(); err != io.EOF {
		t.Errorf("Expected EOF, got %v", err)
	}
}

func TestWAL_AppendError(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(dir)
	if err != nil {
		t.Fatalf("Failed to open WAL: %v", err)
	}

	record := types.ApplyRecord{
		ResourceID: "db-main",
		Verb:       types.VerbCreate,
		Outcome:    types.OutcomeFailed,
	}
	testErr := fmt.Errorf("quota exceeded")

	if err := w.AppendError(EntryActionCompleted, record.ResourceID, record, testErr); err != nil {
		t.Fatalf("Failed to append error entry: %v", err)
	}
	w.Close()

	files, _ := filepath.Glob(filepath.Join(dir, "stratus-*.wal"))
	reader, _ := NewReader(files[0])
	defer reader.Close()

	entry, err := reader.Next()
	if err != nil {
		t.Fatalf("Failed to read entry: %v", err)
	}
	if entry.Type != EntryActionCompleted {
		t.Errorf("Entry type = %v, want %v", entry.Type, EntryActionCompleted)
	}
	if entry.Error != testErr.Error() {
		t.Errorf("Entry error = %v, want %v", entry.Error, testErr.Error())
	}
}

func TestWAL_Replay(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(dir)
	if err != nil {
		t.Fatalf("Failed to open WAL: %v", err)
	}

	// Old entry, should be skipped.
	w.Append(EntryActionCompleted, "old-resource", nil)

	time.Sleep(10 * time.Millisecond)
	cutoff := time.Now()
	time.Sleep(10 * time.Millisecond)

	w.Append(EntryActionCompleted, "new-resource-1", nil)
	w.Append(EntryActionCompleted, "new-resource-2", nil)
	w.Close()

	var replayed []string
	err = Replay(dir, cutoff, func(entry *Entry) error {
		replayed = append(replayed, entry.ResourceID)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}

	if len(replayed) != 2 {
		t.Fatalf("Replayed %d entries, want 2", len(replayed))
	}
	expectedIDs := []string{"new-resource-1", "new-resource-2"}
	for i, id := range replayed {
		if id != expectedIDs[i] {
			t.Errorf("Replayed[%d] = %v, want %v", i, id, expectedIDs[i])
		}
	}
}

func TestWAL_DataIntegrity(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(dir)
	if err != nil {
		t.Fatalf("Failed to open WAL: %v", err)
	}

	action := types.ChangeAction{
		ResourceID: "lb-edge",
		Verb:       types.VerbUpdate,
		Reason:     "attribute \"listeners\" changed\nand needs reconciling",
	}

	w.Append(EntryActionStarted, action.ResourceID, action)
	w.Close()

	files, _ := filepath.Glob(filepath.Join(dir, "stratus-*.wal"))
	reader, _ := NewReader(files[0])
	defer reader.Close()

	entry, err := reader.Next()
	if err != nil {
		t.Fatalf("Failed to read entry: %v", err)
	}

	var recovered types.ChangeAction
	if err := json.Unmarshal(entry.Data, &recovered); err != nil {
		t.Fatalf("Failed to unmarshal data: %v", err)
	}
	if recovered.Verb != action.Verb {
		t.Errorf("Verb = %v, want %v", recovered.Verb, action.Verb)
	}
	if recovered.Reason != action.Reason {
		t.Errorf("Reason = %v, want %v", recovered.Reason, action.Reason)
	}
}
