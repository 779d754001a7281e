package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"sync"
)

type object struct {
	data        []byte
	contentType string
}

// Memory keeps objects in a map. Used for local runs and tests.
type Memory struct {
	mu       sync.RWMutex
	objects  map[string]object
	maxBytes int64
}

var _ Store = (*Memory)(nil)

type MemoryOption func(*Memory)

// WithMaxObjectBytes makes Get refuse objects larger than n bytes.
func WithMaxObjectBytes(n int64) MemoryOption {
	return func(m *Memory) { m.maxBytes = n }
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{objects: make(map[string]object)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func path(container, key string) string { return container + "/" + key }

func (m *Memory) Get(ctx context.Context, container, key string) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	m.mu.RLock()
	obj, ok := m.objects[path(container, key)]
	m.mu.RUnlock()

	if !ok {
		return nil, "", fmt.Errorf("%s/%s: %w", container, key, ErrNotFound)
	}

	data, err := readLimited(bytes.NewReader(obj.data), m.maxBytes)
	if err != nil {
		return nil, "", fmt.Errorf("%s/%s: %w", container, key, err)
	}
	return data, obj.contentType, nil
}

func (m *Memory) Put(ctx context.Context, container, key, contentType string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.objects[path(container, key)] = object{data: append([]byte(nil), data...), contentType: contentType}
	m.mu.Unlock()
	return nil
}

// Keys lists the stored object paths in container.
func (m *Memory) Keys(container string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := container + "/"
	var keys []string
	for p := range m.objects {
		if len(p) > len(prefix) && p[:len(prefix)] == prefix {
			keys = append(keys, p[len(prefix):])
		}
	}
	return keys
}
