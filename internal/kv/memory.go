package kv

import (
	"context"
	"sync"
)

// Memory is an in-process Backend. It enforces Limits like the real
// backends, which makes it the substitute of choice in tests.
type Memory struct {
	Listeners

	items  map[string][]byte
	limits Limits
	mu     sync.RWMutex
}

// NewMemory creates an empty in-memory backend.
func NewMemory(limits Limits) *Memory {
	return &Memory{
		items:  make(map[string][]byte),
		limits: limits,
	}
}

// Get implements Backend.
func (m *Memory) Get(ctx context.Context, keys []string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string][]byte)
	if keys == nil {
		for k, v := range m.items {
			out[k] = clone(v)
		}
		return out, nil
	}
	for _, k := range keys {
		if v, ok := m.items[k]; ok {
			out[k] = clone(v)
		}
	}
	return out, nil
}

// Set implements Backend.
func (m *Memory) Set(ctx context.Context, items map[string][]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	m.mu.Lock()
	current := make(map[string]int, len(m.items))
	for k, v := range m.items {
		current[k] = ItemSize(k, v)
	}
	if err := m.limits.Check(current, items); err != nil {
		m.mu.Unlock()
		return err
	}
	for k, v := range items {
		m.items[k] = clone(v)
	}
	m.mu.Unlock()

	m.Notify(sortedKeys(items))
	return nil
}

// Remove implements Backend.
func (m *Memory) Remove(ctx context.Context, keys []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	var removed []string
	for _, k := range keys {
		if _, ok := m.items[k]; ok {
			delete(m.items, k)
			removed = append(removed, k)
		}
	}
	m.mu.Unlock()

	m.Notify(removed)
	return nil
}

// Clear implements Backend.
func (m *Memory) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	removed := make([]string, 0, len(m.items))
	for k := range m.items {
		removed = append(removed, k)
	}
	m.items = make(map[string][]byte)
	m.mu.Unlock()

	m.Notify(removed)
	return nil
}

// BytesInUse returns the total size of all stored items.
func (m *Memory) BytesInUse() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := 0
	for k, v := range m.items {
		total += ItemSize(k, v)
	}
	return total
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
