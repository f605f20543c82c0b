package statestore

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]string
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[uuid.UUID]string)}
}

func (m *MemoryStore) Get(ctx context.Context, id uuid.UUID) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.sessions[id]
	return h, ok, nil
}

func (m *MemoryStore) GetOrCreate(ctx context.Context, id uuid.UUID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.sessions[id]
	if !ok {
		m.sessions[id] = ""
	}
	return h, nil
}

func (m *MemoryStore) Set(ctx context.Context, id uuid.UUID, history string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = history
	return nil
}

func (m *MemoryStore) Remove(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
