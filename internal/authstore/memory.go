package authstore

import (
	"context"
	"strings"
	"sync"
)

// Memory is an in-memory backend, intended for tests and local development.
// It is safe for concurrent use.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string

	// FailGet, FailSet and FailKeys force backend errors, for exercising
	// fallback paths.
	FailGet  error
	FailSet  error
	FailKeys error
}

var _ Backend = (*Memory)(nil)

// NewMemory creates an empty backend.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

// Get returns the value for key.
func (m *Memory) Get(_ context.Context, key string) (string, error) {
	if m.FailGet != nil {
		return "", m.FailGet
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Set writes the value.
func (m *Memory) Set(_ context.Context, key, value string) error {
	if m.FailSet != nil {
		return m.FailSet
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

// Delete removes the key.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Keys lists keys matching prefix.
func (m *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	if m.FailKeys != nil {
		return nil, m.FailKeys
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Len reports the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
