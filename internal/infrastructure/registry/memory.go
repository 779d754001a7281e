package registry

import (
	"context"
	"iter"
	"slices"
	"sync"

	"go-upload-notifier/internal/domain/connection"
)

// Memory is a process-local registry.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]connection.Connection
}

var _ Registry = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]connection.Connection)}
}

func (m *Memory) Insert(_ context.Context, conn connection.Connection) error {
	m.mu.Lock()
	m.entries[conn.ID] = conn
	m.mu.Unlock()
	return nil
}

func (m *Memory) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.entries, id)
	m.mu.Unlock()
	return nil
}

// List snapshots the ids when ranging starts.
func (m *Memory) List(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		m.mu.RLock()
		ids := make([]string, 0, len(m.entries))
		for id := range m.entries {
			ids = append(ids, id)
		}
		m.mu.RUnlock()
		slices.Sort(ids)

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if !yield(id, nil) {
				return
			}
		}
	}
}

func (m *Memory) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

// Get returns the stored entry for id.
func (m *Memory) Get(id string) (connection.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.entries[id]
	return conn, ok
}
