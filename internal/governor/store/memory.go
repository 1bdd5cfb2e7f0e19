package store

import (
	"context"
	"sync"

	"github.com/robalyx/profilegov/internal/governor/types"
)

// Memory is a process-local SnapshotStore. Snapshots are lost on exit.
type Memory struct {
	mu        sync.RWMutex
	snapshots map[string]types.Snapshot
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{snapshots: make(map[string]types.Snapshot)}
}

func (m *Memory) GetSnapshot(_ context.Context, identity string) (*types.Snapshot, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot, ok := m.snapshots[identity]
	if !ok {
		return nil, false, nil
	}

	return &snapshot, true, nil
}

func (m *Memory) PutSnapshot(_ context.Context, snapshot *types.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshots[snapshot.Identity] = *snapshot

	return nil
}

// Len returns the number of stored snapshots.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.snapshots)
}
