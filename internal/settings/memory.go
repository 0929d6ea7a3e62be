package settings

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryStore is a Store kept in process memory.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string][]byte
	err  error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

// FailWith makes every subsequent call return err. Passing nil restores
// normal behavior.
func (m *MemoryStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MemoryStore) Get(_ context.Context, key string, v any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	b, ok := m.docs[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, v)
}

func (m *MemoryStore) Put(_ context.Context, key string, v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.docs[key] = b
	return nil
}
