// Package credstore provides credential store implementations for the token
// mirror: an in-memory map for tests and ephemeral sessions, and an encrypted
// file store for durable sessions on disk.
package credstore

import (
	"context"
	"sync"
)

// Memory is a process-local credential store. Sessions do not survive a
// restart; it exists for tests and embedders that persist elsewhere.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}
