package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/btree"
	"go.etcd.io/bbolt"

	"github.com/varunnarsana/stratus/types"
)

// Bucket names in bbolt
var (
	bucketResources = []byte("resources")
	bucketMeta      = []byte("meta")
)

var (
	keyVersion = []byte("version")
	keyLock    = []byte("lock")
)

// BoltStore keeps state in a local bbolt file with an in-memory btree
// index for reads. Writes go to disk first; the index follows only
// after the transaction commits.
type BoltStore struct {
	mu sync.RWMutex

	// In-memory index for fast snapshot assembly
	index *btree.BTreeG[*types.StateEntry]

	// On-disk storage
	db *bbolt.DB

	// Current snapshot version
	version int64

	lock      *types.LockInfo
	workspace string
	path      string
}

// OpenBolt opens (or creates) the state file at path.
func OpenBolt(path, workspace string) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open state file %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketResources, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	store := &BoltStore{
		index: btree.NewG[*types.StateEntry](32, func(a, b *types.StateEntry) bool {
			return a.ResourceID < b.ResourceID
		}),
		db:        db,
		workspace: workspace,
		path:      path,
	}

	if err := store.loadMeta(); err != nil {
		db.Close()
		return nil, err
	}
	if err := store.rebuildIndex(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Snapshot assembles the current state from the in-memory index.
func (s *BoltStore) Snapshot(ctx context.Context) (*types.StateSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &types.StateSnapshot{
		Version:   s.version,
		Resources: make(map[string]types.StateEntry, s.index.Len()),
	}
	s.index.Ascend(func(entry *types.StateEntry) bool {
		snap.Resources[entry.ResourceID] = *entry
		return true
	})
	if s.lock != nil {
		lock := *s.lock
		snap.Lock = &lock
	}
	return snap.Clone(), nil
}

// PutEntry upserts one resource entry under optimistic concurrency.
func (s *BoltStore) PutEntry(ctx context.Context, expectedVersion int64, entry types.StateEntry) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if entry.ResourceID == "" {
		return 0, fmt.Errorf("state entry has no resource id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.version != expectedVersion {
		return 0, &VersionConflictError{Expected: expectedVersion, Actual: s.version}
	}

	next := s.version + 1
	err := s.db.Update(func(tx *bbolt.Tx) error {
		value, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal entry %s: %w", entry.ResourceID, err)
		}
		if err := tx.Bucket(bucketResources).Put([]byte(entry.ResourceID), value); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(keyVersion, int64ToBytes(next))
	})
	if err != nil {
		return 0, err
	}

	s.version = next
	indexed := entry
	s.index.ReplaceOrInsert(&indexed)
	return next, nil
}

// RemoveEntry deletes one resource entry under optimistic concurrency.
// Removing an id that is not present still bumps the version.
func (s *BoltStore) RemoveEntry(ctx context.Context, expectedVersion int64, resourceID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.version != expectedVersion {
		return 0, &VersionConflictError{Expected: expectedVersion, Actual: s.version}
	}

	next := s.version + 1
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketResources).Delete([]byte(resourceID)); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(keyVersion, int64ToBytes(next))
	})
	if err != nil {
		return 0, err
	}

	s.version = next
	s.index.Delete(&types.StateEntry{ObservedState: types.ObservedState{ResourceID: resourceID}})
	return next, nil
}

// ReplaceAll swaps the whole resource set in one transaction. The
// drift reconciler uses it to refresh observed attributes in bulk.
func (s *BoltStore) ReplaceAll(ctx context.Context, expectedVersion int64, resources map[string]types.StateEntry) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.version != expectedVersion {
		return 0, &VersionConflictError{Expected: expectedVersion, Actual: s.version}
	}

	next := s.version + 1
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketResources); err != nil {
			return err
		}
		bucket, err := tx.CreateBucket(bucketResources)
		if err != nil {
			return err
		}
		for id, entry := range resources {
			value, err := json.Marshal(entry)
			if err != nil {
				return fmt.Errorf("failed to marshal entry %s: %w", id, err)
			}
			if err := bucket.Put([]byte(id), value); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketMeta).Put(keyVersion, int64ToBytes(next))
	})
	if err != nil {
		return 0, err
	}

	s.version = next
	s.index.Clear(false)
	for _, entry := range resources {
		indexed := entry
		s.index.ReplaceOrInsert(&indexed)
	}
	return next, nil
}

// AcquireLock takes the apply lock or fails with LockedError.
func (s *BoltStore) AcquireLock(ctx context.Context, holder, operation string) (*types.LockInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lock != nil {
		return nil, &LockedError{Lock: *s.lock}
	}

	lock := &types.LockInfo{
		Token:      newLockToken(),
		Holder:     holder,
		Operation:  operation,
		AcquiredAt: time.Now().UTC(),
	}
	if err := s.writeLock(lock); err != nil {
		return nil, err
	}
	s.lock = lock
	granted := *lock
	return &granted, nil
}

// ReleaseLock releases the lock identified by token.
func (s *BoltStore) ReleaseLock(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lock == nil {
		return fmt.Errorf("state is not locked")
	}
	if s.lock.Token != token {
		return fmt.Errorf("lock token mismatch: state is held by %s", s.lock.Holder)
	}
	if err := s.writeLock(nil); err != nil {
		return err
	}
	s.lock = nil
	return nil
}

// BreakLock clears the lock without a token check.
func (s *BoltStore) BreakLock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeLock(nil); err != nil {
		return err
	}
	s.lock = nil
	return nil
}

// Version returns the current snapshot version.
func (s *BoltStore) Version() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Stats reports resource count and version for diagnostics.
func (s *BoltStore) Stats() (resourceCount int, version int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Len(), s.version
}

// Helper functions

func (s *BoltStore) writeLock(lock *types.LockInfo) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if lock == nil {
			return meta.Delete(keyLock)
		}
		value, err := json.Marshal(lock)
		if err != nil {
			return err
		}
		return meta.Put(keyLock, value)
	})
}

func (s *BoltStore) loadMeta() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if data := meta.Get(keyVersion); data != nil {
			s.version = bytesToInt64(data)
		}
		if data := meta.Get(keyLock); data != nil {
			var lock types.LockInfo
			if err := json.Unmarshal(data, &lock); err != nil {
				return fmt.Errorf("corrupt lock record: %w", err)
			}
			s.lock = &lock
		}
		return nil
	})
}

func (s *BoltStore) rebuildIndex() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketResources).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var entry types.StateEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("corrupt state entry %s: %w", k, err)
			}
			s.index.ReplaceOrInsert(&entry)
		}
		return nil
	})
}

func int64ToBytes(n int64) []byte {
	return []byte(strconv.FormatInt(n, 10))
}

func bytesToInt64(b []byte) int64 {
	n, _ := strconv.ParseInt(string(b), 10, 64)
	return n
}
