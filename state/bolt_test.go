package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/varunnarsana/stratus/types"
)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := OpenBolt(filepath.Join(t.TempDir(), "state.db"), "staging")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testEntry(id string, kind types.Kind) types.StateEntry {
	return types.StateEntry{
		ObservedState: types.ObservedState{
			ResourceID:       id,
			RemoteAttributes: map[string]any{"tier": "standard"},
			ProviderStatus:   types.StatusPresent,
			LastSeenAt:       time.Now().UTC(),
		},
		Kind: kind,
	}
}

func TestBoltStore_PutAndSnapshot(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	snap, err := store.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.Version != 0 {
		t.Errorf("Fresh store version = %d, want 0", snap.Version)
	}
	if len(snap.Resources) != 0 {
		t.Errorf("Fresh store has %d resources, want 0", len(snap.Resources))
	}

	version, err := store.PutEntry(ctx, 0, testEntry("vpc-main", types.KindNetwork))
	if err != nil {
		t.Fatalf("PutEntry failed: %v", err)
	}
	if version != 1 {
		t.Errorf("First write version = %d, want 1", version)
	}

	version, err = store.PutEntry(ctx, 1, testEntry("db-main", types.KindDatabase))
	if err != nil {
		t.Fatalf("Second PutEntry failed: %v", err)
	}
	if version != 2 {
		t.Errorf("Second write version = %d, want 2", version)
	}

	snap, err = store.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.Version != 2 {
		t.Errorf("Snapshot version = %d, want 2", snap.Version)
	}
	if len(snap.Resources) != 2 {
		t.Errorf("Snapshot has %d resources, want 2", len(snap.Resources))
	}
	if snap.Resources["vpc-main"].Kind != types.KindNetwork {
		t.Errorf("vpc-main kind = %s, want network", snap.Resources["vpc-main"].Kind)
	}
}

func TestBoltStore_StaleWriteRejected(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	if _, err := store.PutEntry(ctx, 0, testEntry("vpc-main", types.KindNetwork)); err != nil {
		t.Fatalf("PutEntry failed: %v", err)
	}

	// A writer still holding version 0 must lose.
	_, err := store.PutEntry(ctx, 0, testEntry("db-main", types.KindDatabase))
	if err == nil {
		t.Fatal("Stale write should be rejected")
	}
	if !IsVersionConflict(err) {
		t.Fatalf("Expected VersionConflictError, got %v", err)
	}

	// The rejected write must not have touched the state.
	snap, err := store.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.Version != 1 {
		t.Errorf("Version after rejected write = %d, want 1", snap.Version)
	}
	if _, ok := snap.Resources["db-main"]; ok {
		t.Error("Rejected write leaked into state")
	}
}

func TestBoltStore_ConcurrentWritersExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	const writers = 8
	results := make(chan error, writers)

	// All writers race on the same expected version.
	for i := 0; i < writers; i++ {
		id := string(rune('a' + i))
		go func(id string) {
			_, err := store.PutEntry(ctx, 0, testEntry("res-"+id, types.KindCompute))
			results <- err
		}(id)
	}

	var wins, conflicts int
	for i := 0; i < writers; i++ {
		err := <-results
		switch {
		case err == nil:
			wins++
		case IsVersionConflict(err):
			conflicts++
		default:
			t.Fatalf("Unexpected error: %v", err)
		}
	}

	if wins != 1 {
		t.Errorf("Winners = %d, want exactly 1", wins)
	}
	if conflicts != writers-1 {
		t.Errorf("Conflicts = %d, want %d", conflicts, writers-1)
	}
	if got := store.Version(); got != 1 {
		t.Errorf("Version after race = %d, want 1", got)
	}
}

func TestBoltStore_RemoveEntry(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	if _, err := store.PutEntry(ctx, 0, testEntry("bucket-a", types.KindStorage)); err != nil {
		t.Fatalf("PutEntry failed: %v", err)
	}

	version, err := store.RemoveEntry(ctx, 1, "bucket-a")
	if err != nil {
		t.Fatalf("RemoveEntry failed: %v", err)
	}
	if version != 2 {
		t.Errorf("Version after remove = %d, want 2", version)
	}

	snap, _ := store.Snapshot(ctx)
	if len(snap.Resources) != 0 {
		t.Errorf("Resources after remove = %d, want 0", len(snap.Resources))
	}

	// Removing a missing id still advances the version.
	version, err = store.RemoveEntry(ctx, 2, "never-existed")
	if err != nil {
		t.Fatalf("RemoveEntry of missing id failed: %v", err)
	}
	if version != 3 {
		t.Errorf("Version = %d, want 3", version)
	}
}

func TestBoltStore_ReplaceAll(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	if _, err := store.PutEntry(ctx, 0, testEntry("old-vpc", types.KindNetwork)); err != nil {
		t.Fatalf("PutEntry failed: %v", err)
	}

	fresh := map[string]types.StateEntry{
		"vpc-main": testEntry("vpc-main", types.KindNetwork),
		"db-main":  testEntry("db-main", types.KindDatabase),
	}
	version, err := store.ReplaceAll(ctx, 1, fresh)
	if err != nil {
		t.Fatalf("ReplaceAll failed: %v", err)
	}
	if version != 2 {
		t.Errorf("Version after replace = %d, want 2", version)
	}

	snap, _ := store.Snapshot(ctx)
	if len(snap.Resources) != 2 {
		t.Errorf("Resources after replace = %d, want 2", len(snap.Resources))
	}
	if _, ok := snap.Resources["old-vpc"]; ok {
		t.Error("ReplaceAll kept a stale entry")
	}
}

func TestBoltStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	store, err := OpenBolt(path, "staging")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	if _, err := store.PutEntry(ctx, 0, testEntry("vpc-main", types.KindNetwork)); err != nil {
		t.Fatalf("PutEntry failed: %v", err)
	}
	if _, err := store.PutEntry(ctx, 1, testEntry("db-main", types.KindDatabase)); err != nil {
		t.Fatalf("PutEntry failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := OpenBolt(path, "staging")
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	snap, err := reopened.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot after reopen failed: %v", err)
	}
	if snap.Version != 2 {
		t.Errorf("Version after reopen = %d, want 2", snap.Version)
	}
	if len(snap.Resources) != 2 {
		t.Errorf("Resources after reopen = %d, want 2", len(snap.Resources))
	}

	// The version counter keeps counting where it left off.
	version, err := reopened.PutEntry(ctx, 2, testEntry("bucket-a", types.KindStorage))
	if err != nil {
		t.Fatalf("PutEntry after reopen failed: %v", err)
	}
	if version != 3 {
		t.Errorf("Version = %d, want 3", version)
	}
}

func TestBoltStore_Locking(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	lock, err := store.AcquireLock(ctx, "alice@ci", "apply")
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if lock.Token == "" {
		t.Fatal("Lock token is empty")
	}

	// Second acquisition fails and names the holder.
	_, err = store.AcquireLock(ctx, "bob@laptop", "apply")
	if err == nil {
		t.Fatal("Second AcquireLock should fail")
	}
	if !IsLocked(err) {
		t.Fatalf("Expected LockedError, got %v", err)
	}

	// Wrong token cannot release.
	if err := store.ReleaseLock(ctx, "bogus"); err == nil {
		t.Fatal("ReleaseLock with wrong token should fail")
	}

	if err := store.ReleaseLock(ctx, lock.Token); err != nil {
		t.Fatalf("ReleaseLock failed: %v", err)
	}

	// Free again.
	if _, err := store.AcquireLock(ctx, "bob@laptop", "destroy"); err != nil {
		t.Fatalf("AcquireLock after release failed: %v", err)
	}
}

func TestBoltStore_LockSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	store, err := OpenBolt(path, "staging")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	if _, err := store.AcquireLock(ctx, "alice@ci", "apply"); err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := OpenBolt(path, "staging")
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	_, err = reopened.AcquireLock(ctx, "bob@laptop", "apply")
	if !IsLocked(err) {
		t.Fatalf("Stale lock should survive reopen, got %v", err)
	}

	// Operators can break it.
	if err := reopened.BreakLock(ctx); err != nil {
		t.Fatalf("BreakLock failed: %v", err)
	}
	if _, err := reopened.AcquireLock(ctx, "bob@laptop", "apply"); err != nil {
		t.Fatalf("AcquireLock after break failed: %v", err)
	}
}

func TestBoltStore_SnapshotIsIsolated(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	if _, err := store.PutEntry(ctx, 0, testEntry("vpc-main", types.KindNetwork)); err != nil {
		t.Fatalf("PutEntry failed: %v", err)
	}

	snap, _ := store.Snapshot(ctx)
	snap.Resources["vpc-main"].RemoteAttributes["tier"] = "mutated"

	again, _ := store.Snapshot(ctx)
	if again.Resources["vpc-main"].RemoteAttributes["tier"] != "standard" {
		t.Error("Snapshot mutation leaked back into the store")
	}
}
