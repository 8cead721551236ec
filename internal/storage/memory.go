package storage

import (
	"context"
	"sync"

	"github.com/and161185/pharm-admin/internal/errs"
)

// Memory keeps slots for the lifetime of the process.
type Memory struct {
	mu    sync.RWMutex
	slots map[string]string
}

var _ Storage = (*Memory)(nil)

// NewMemory constructs an empty in-memory slot storage.
func NewMemory() *Memory { return &Memory{slots: map[string]string{}} }

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.slots[key]
	if !ok {
		return "", errs.ErrNotFound
	}
	return v, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[key] = value
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.slots, key)
	return nil
}
