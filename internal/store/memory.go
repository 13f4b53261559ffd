package store

import (
	"context"
	"sync"
)

// Memory is an in-process Backend for tests and ephemeral instances.
type Memory struct {
	mu     sync.Mutex
	data   map[string][]byte
	closed bool
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Write(ctx context.Context, collection string, data []byte) error {
	if err := checkCollection(collection); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.data[collection] = copyBytes(data)
	return nil
}

func (m *Memory) Read(ctx context.Context, collection string) ([]byte, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	v, ok := m.data[collection]
	if !ok {
		return nil, ErrNotFound
	}
	return copyBytes(v), nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
