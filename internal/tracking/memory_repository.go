package tracking

import (
	"context"
	"sync"
)

var _ SnapshotStore = (*MemorySnapshotStore)(nil)

// MemorySnapshotStore keeps encoded snapshots in process memory. Saved
// snapshots are stored as bucket payloads so later mutations of the caller's
// value never leak into the store.
type MemorySnapshotStore struct {
	mu    sync.RWMutex
	data  map[string]map[string][]byte
	saves int
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{data: make(map[string]map[string][]byte)}
}

func (m *MemorySnapshotStore) Load(_ context.Context, key string) (Snapshot, error) {
	m.mu.RLock()
	payloads, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return Snapshot{}, ErrSnapshotNotFound
	}
	return DecodeBuckets(payloads)
}

func (m *MemorySnapshotStore) Save(_ context.Context, key string, snap Snapshot) error {
	payloads, err := EncodeBuckets(snap)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[key] = payloads
	m.saves++
	m.mu.Unlock()
	return nil
}

func (m *MemorySnapshotStore) Ping(context.Context) error { return nil }

// Saves reports how many saves completed.
func (m *MemorySnapshotStore) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}
