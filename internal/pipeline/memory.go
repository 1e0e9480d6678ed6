package pipeline

import (
	"context"
	"sync"

	"dealflow/internal/domain"
)

type memoryEntry struct {
	deals   []domain.Deal
	version int64
}

// MemoryPersister keeps snapshots in process; used for ephemeral runs and tests.
type MemoryPersister struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{entries: make(map[string]memoryEntry)}
}

func (m *MemoryPersister) Load(_ context.Context, key string) ([]domain.Deal, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, 0, ErrNotStored
	}
	return clone(e.deals), e.version, nil
}

func (m *MemoryPersister) Save(_ context.Context, key string, deals []domain.Deal, prev, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries[key].version != prev {
		return ErrConflict
	}
	m.entries[key] = memoryEntry{deals: clone(deals), version: version}
	return nil
}

func (m *MemoryPersister) Version(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return 0, ErrNotStored
	}
	return e.version, nil
}
