package store

import (
	"sync"

	"github.com/jjenkins/trialwatch/internal/model"
)

// DefaultMaxSnapshots bounds a store created with a non-positive limit
const DefaultMaxSnapshots = 64

// SnapshotStore holds the current snapshot of each query in memory.
// Snapshots are replaced wholesale; the store never merges them. At most
// maxEntries queries are kept: saving a new query into a full store evicts
// the snapshot captured longest ago.
type SnapshotStore struct {
	mu         sync.RWMutex
	snapshots  map[string]*model.Snapshot
	maxEntries int
	closed     bool
}

// NewSnapshotStore creates an empty SnapshotStore holding up to maxEntries
// snapshots
func NewSnapshotStore(maxEntries int) *SnapshotStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxSnapshots
	}
	return &SnapshotStore{
		snapshots:  make(map[string]*model.Snapshot),
		maxEntries: maxEntries,
	}
}

// Get retrieves the snapshot stored under key
func (s *SnapshotStore) Get(key string) (*model.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[key]
	return snap, ok
}

// Save replaces the snapshot stored under key and reports the key it evicted
// to make room, if any. Nothing is stored once the store is closed; stored is
// false then.
func (s *SnapshotStore) Save(key string, snap *model.Snapshot) (evicted string, stored bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", false
	}

	if _, exists := s.snapshots[key]; !exists && len(s.snapshots) >= s.maxEntries {
		evicted = s.oldestLocked()
		delete(s.snapshots, evicted)
	}
	s.snapshots[key] = snap
	return evicted, true
}

// oldestLocked returns the key of the snapshot captured longest ago. Ties
// go to the smaller key so eviction is deterministic.
func (s *SnapshotStore) oldestLocked() string {
	var oldest string
	var oldestAt *model.Snapshot
	for k, snap := range s.snapshots {
		if oldestAt == nil ||
			snap.CapturedAt.Before(oldestAt.CapturedAt) ||
			(snap.CapturedAt.Equal(oldestAt.CapturedAt) && k < oldest) {
			oldest, oldestAt = k, snap
		}
	}
	return oldest
}

// Len returns the number of stored snapshots
func (s *SnapshotStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.snapshots)
}

// Close drops every snapshot and makes later saves no-ops
func (s *SnapshotStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.snapshots = make(map[string]*model.Snapshot)
}
