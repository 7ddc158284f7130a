package store

import (
	"context"
	"sync"
)

// Memory is an in-process Store used by tests and the console gateway.
type Memory struct {
	mu   sync.Mutex
	data map[string]map[string][]byte

	// FailPuts makes every Put return this error when set.
	FailPuts error
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[string][]byte)}
}

// Get returns a copy of the stored body.
func (m *Memory) Get(ctx context.Context, collection, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.data[collection][key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), body...), nil
}

// Put stores a copy of body.
func (m *Memory) Put(ctx context.Context, collection, key string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPuts != nil {
		return m.FailPuts
	}
	c, ok := m.data[collection]
	if !ok {
		c = make(map[string][]byte)
		m.data[collection] = c
	}
	c[key] = append([]byte(nil), body...)
	return nil
}

// Delete removes collection/key if present.
func (m *Memory) Delete(ctx context.Context, collection, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[collection], key)
	return nil
}

// ListAll returns copies of every body in collection.
func (m *Memory) ListAll(ctx context.Context, collection string) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte, len(m.data[collection]))
	for k, v := range m.data[collection] {
		out[k] = append([]byte(nil), v...)
	}
	return out, nil
}
