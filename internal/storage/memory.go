package storage

import (
	"context"
	"sync"
)

// MemoryStorage keeps values in process memory. It backs tests and the "memory" driver.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemoryStorage constructs an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string][]byte)}
}

// Load returns a copy of the value stored under key.
func (m *MemoryStorage) Load(ctx context.Context, key string) ([]byte, bool, error) {
	normalized, err := validateKey(key)
	if err != nil {
		return nil, false, err
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.values[normalized]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

// Save replaces the value stored under key.
func (m *MemoryStorage) Save(ctx context.Context, key string, payload []byte) error {
	normalized, err := validateKey(key)
	if err != nil {
		return err
	}
	if payload == nil {
		return ErrNilPayload
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[normalized] = append([]byte(nil), payload...)
	return nil
}
