package types

import "time"

// StateEntry is one resource's record inside a snapshot: the last
// observed state plus the declaration bookkeeping (kind, dependency ids
// captured at apply time) needed to order a later teardown.
type StateEntry struct {
	ObservedState
	Kind      Kind     `json:"kind"`
	DependsOn []string `json:"depends_on,omitempty"`
}

// LockInfo marks an apply in flight. Token is the opaque value callers
// compare; the rest is for humans debugging a stuck lock.
type LockInfo struct {
	Token      string    `json:"token"`
	Holder     string    `json:"holder,omitempty"`
	Operation  string    `json:"operation,omitempty"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// StateSnapshot is the persisted unit of last-known infrastructure
// state. Version increases by exactly one on every accepted write.
type StateSnapshot struct {
	Version   int64                 `json:"version"`
	Resources map[string]StateEntry `json:"resources"`
	Lock      *LockInfo             `json:"lock,omitempty"`
}

// NewStateSnapshot returns an empty snapshot at version zero.
func NewStateSnapshot() *StateSnapshot {
	return &StateSnapshot{Resources: make(map[string]StateEntry)}
}

// LockToken returns the current lock token, or empty when unlocked.
func (s *StateSnapshot) LockToken() string {
	if s.Lock == nil {
		return ""
	}
	return s.Lock.Token
}

// Locked reports whether an apply currently holds the snapshot.
func (s *StateSnapshot) Locked() bool {
	return s.LockToken() != ""
}

// Clone deep-copies the snapshot so a caller can mutate its copy and
// submit it through a compare-and-swap write.
func (s *StateSnapshot) Clone() *StateSnapshot {
	out := &StateSnapshot{
		Version:   s.Version,
		Resources: make(map[string]StateEntry, len(s.Resources)),
	}
	for id, entry := range s.Resources {
		cp := entry
		cp.RemoteAttributes = cloneAttrs(entry.RemoteAttributes)
		cp.DependsOn = append([]string(nil), entry.DependsOn...)
		out.Resources[id] = cp
	}
	if s.Lock != nil {
		lock := *s.Lock
		out.Lock = &lock
	}
	return out
}

func cloneAttrs(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		switch val := v.(type) {
		case map[string]any:
			out[k] = cloneAttrs(val)
		case []any:
			cp := make([]any, len(val))
			copy(cp, val)
			out[k] = cp
		default:
			out[k] = v
		}
	}
	return out
}
