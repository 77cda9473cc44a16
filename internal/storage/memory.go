package storage

import (
	"context"
	"sync"
)

// MemoryStore is a [Store] backed by a map. The zero value is not usable; see [NewMemoryStore].
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore returns an empty in-memory scope.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = value
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.values, key)
	return nil
}

// Len reports the number of keys held.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

// MemoryBackend keeps one [MemoryStore] per session id for the life of the process.
type MemoryBackend struct {
	mu       sync.Mutex
	sessions map[string]*MemoryStore
}

// NewMemoryBackend creates an empty [MemoryBackend].
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{sessions: make(map[string]*MemoryStore)}
}

func (b *MemoryBackend) Session(id string) Store {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.sessions[id]
	if !ok {
		s = NewMemoryStore()
		b.sessions[id] = s
	}
	return s
}

func (b *MemoryBackend) End(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.sessions, id)
	return nil
}

func (b *MemoryBackend) Close() error { return nil }
