// Package state persists the engine's view of the fleet between runs.
// Every write is an optimistic compare-and-swap on the snapshot
// version; stale writers get a VersionConflictError and must re-read.
package state

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/varunnarsana/stratus/config"
	"github.com/varunnarsana/stratus/types"
)

// SnapshotReader loads the current snapshot.
type SnapshotReader interface {
	Snapshot(ctx context.Context) (*types.StateSnapshot, error)
}

// SnapshotWriter mutates state under optimistic concurrency. Each call
// compares expectedVersion against the stored version, applies the
// change, bumps the version by one and returns it. A mismatch returns
// VersionConflictError and changes nothing.
type SnapshotWriter interface {
	PutEntry(ctx context.Context, expectedVersion int64, entry types.StateEntry) (int64, error)
	RemoveEntry(ctx context.Context, expectedVersion int64, resourceID string) (int64, error)
	ReplaceAll(ctx context.Context, expectedVersion int64, resources map[string]types.StateEntry) (int64, error)
}

// Locker guards apply runs against concurrent mutation.
type Locker interface {
	AcquireLock(ctx context.Context, holder, operation string) (*types.LockInfo, error)
	ReleaseLock(ctx context.Context, token string) error
	// BreakLock discards any lock regardless of token. Operators only.
	BreakLock(ctx context.Context) error
}

// Store is the complete state backend.
type Store interface {
	SnapshotReader
	SnapshotWriter
	Locker
	Close() error
}

// VersionConflictError reports a lost compare-and-swap race.
type VersionConflictError struct {
	Expected int64
	Actual   int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("state version conflict: expected %d, stored %d", e.Expected, e.Actual)
}

// IsVersionConflict reports whether err is a CAS failure the caller
// can resolve by re-reading and retrying.
func IsVersionConflict(err error) bool {
	var vc *VersionConflictError
	return errors.As(err, &vc)
}

// LockedError reports that another operation holds the state lock.
type LockedError struct {
	Lock types.LockInfo
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("state locked by %s for %s since %s (token %s)",
		e.Lock.Holder, e.Lock.Operation, e.Lock.AcquiredAt.Format(time.RFC3339), e.Lock.Token)
}

// IsLocked reports whether err means the state lock is held elsewhere.
func IsLocked(err error) bool {
	var le *LockedError
	return errors.As(err, &le)
}

// Open builds the store named by the config.
func Open(cfg *config.Config) (Store, error) {
	switch cfg.State.Backend {
	case config.BackendLocal, "":
		return OpenBolt(cfg.State.Path, cfg.Workspace)
	case config.BackendDynamoDB:
		return OpenDynamo(context.Background(), DynamoConfig{
			Table:     cfg.State.Table,
			Region:    cfg.Provider.Region,
			Profile:   cfg.Provider.Profile,
			Workspace: cfg.Workspace,
		})
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.State.Backend)
	}
}

// newLockToken returns a random token identifying one lock holder.
func newLockToken() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(buf)
}
