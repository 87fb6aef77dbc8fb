// Package cache provides small key/value caches with per-entry expiry.
package cache

import (
	"context"
	"sync"
	"time"
)

// Cache stores opaque values under string keys until they expire or are deleted.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type item struct {
	value   []byte
	expires time.Time // zero means no expiry
}

// Memory is an in-process Cache. Expired entries are dropped lazily on read
// and swept on write.
type Memory struct {
	mu    sync.Mutex
	items map[string]item
	now   func() time.Time
}

// NewMemory returns an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{
		items: make(map[string]item),
		now:   time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	if !it.expires.IsZero() && !m.now().Before(it.expires) {
		delete(m.items, key)
		return nil, false, nil
	}
	return it.value, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for k, it := range m.items {
		if !it.expires.IsZero() && !now.Before(it.expires) {
			delete(m.items, k)
		}
	}

	it := item{value: append([]byte(nil), value...)}
	if ttl > 0 {
		it.expires = now.Add(ttl)
	}
	m.items[key] = it
	return nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range keys {
		delete(m.items, k)
	}
	return nil
}
