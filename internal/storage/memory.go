package storage

import (
	"sync"

	"mediaportal/internal/model"
)

type MemoryStorage struct {
	state *model.SessionState
	mu    sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (m *MemoryStorage) Init() error {
	return nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

func (m *MemoryStorage) Load() (*model.SessionState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.state == nil {
		return nil, ErrSessionNotFound
	}

	state := *m.state
	return &state, nil
}

func (m *MemoryStorage) Save(state *model.SessionState) error {
	if state == nil {
		return ErrInvalidData
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *state
	m.state = &copied
	return nil
}

func (m *MemoryStorage) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = nil
	return nil
}
