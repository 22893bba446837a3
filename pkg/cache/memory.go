package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// MemoryConfig configures an in-process cache.
type MemoryConfig struct {
	// MaxEntries caps the number of entries; least-recently-used entries
	// are evicted past the cap. Zero means 1000.
	MaxEntries int
	// TTL is the entry expiry duration (0 = never expire).
	TTL time.Duration
}

// Memory is an LRU cache with per-entry TTL. It suits single-process
// deployments; multi-node deployments should use the Redis backend.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
	max     int
	ttl     time.Duration
	closed  bool

	// now is replaceable in tests.
	now func() time.Time
}

type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// NewMemory creates an in-process cache.
func NewMemory(cfg MemoryConfig) *Memory {
	max := cfg.MaxEntries
	if max <= 0 {
		max = 1000
	}
	return &Memory{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		max:     max,
		ttl:     cfg.TTL,
		now:     time.Now,
	}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, ErrCacheClosed
	}

	el, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	entry := el.Value.(*memoryEntry)
	if !entry.expiresAt.IsZero() && m.now().After(entry.expiresAt) {
		m.order.Remove(el)
		delete(m.entries, key)
		return nil, false, nil
	}
	m.order.MoveToFront(el)
	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, true, nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrCacheClosed
	}

	var expiresAt time.Time
	if m.ttl > 0 {
		expiresAt = m.now().Add(m.ttl)
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	if el, ok := m.entries[key]; ok {
		entry := el.Value.(*memoryEntry)
		entry.value = stored
		entry.expiresAt = expiresAt
		m.order.MoveToFront(el)
		return nil
	}

	el := m.order.PushFront(&memoryEntry{key: key, value: stored, expiresAt: expiresAt})
	m.entries[key] = el

	for len(m.entries) > m.max {
		oldest := m.order.Back()
		if oldest == nil {
			break
		}
		m.order.Remove(oldest)
		delete(m.entries, oldest.Value.(*memoryEntry).key)
	}
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrCacheClosed
	}
	if el, ok := m.entries[key]; ok {
		m.order.Remove(el)
		delete(m.entries, key)
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.entries = nil
	m.order = nil
	return nil
}
