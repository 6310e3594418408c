package cache

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

type entry struct {
	data     []byte
	storedAt time.Time
	version  string
}

// Memory is the in-memory cache backend, bounded by a maximum entry count.
type Memory struct {
	mu         sync.Mutex
	entries    map[string]entry
	version    string
	maxEntries int
	logger     *zap.Logger
	now        func() time.Time
}

// NewMemory creates an in-memory cache holding at most maxEntries entries.
func NewMemory(maxEntries int, logger *zap.Logger) *Memory {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	return &Memory{
		entries:    make(map[string]entry),
		version:    SchemaVersion,
		maxEntries: maxEntries,
		logger:     logger,
		now:        time.Now,
	}
}

// Set stores value under key. See Store.Set for eviction semantics.
func (m *Memory) Set(key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[key]; !exists && len(m.entries) >= m.maxEntries {
		m.evictOldestLocked()
	}
	if _, exists := m.entries[key]; !exists && len(m.entries) >= m.maxEntries {
		m.logger.Debug("cache write dropped, store full", zap.String("key", key))
		return
	}

	data := make([]byte, len(value))
	copy(data, value)
	m.entries[key] = entry{data: data, storedAt: m.now(), version: m.version}
}

// Get returns the value if fresh and version-matched; see Store.Get.
func (m *Memory) Get(key string, ttl time.Duration) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if e.version != m.version || m.now().Sub(e.storedAt) > ttl {
		delete(m.entries, key)
		return nil, false
	}
	data := make([]byte, len(e.data))
	copy(data, e.data)
	return data, true
}

// Age returns elapsed time since the entry was stored.
func (m *Memory) Age(key string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return 0, false
	}
	return m.now().Sub(e.storedAt), true
}

// Remove deletes a single entry.
func (m *Memory) Remove(key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

// Clear deletes all entries.
func (m *Memory) Clear() {
	m.mu.Lock()
	m.entries = make(map[string]entry)
	m.mu.Unlock()
}

// Len reports the number of stored entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// evictOldestLocked purges the oldest 20% of entries by storedAt, at least one.
func (m *Memory) evictOldestLocked() {
	n := len(m.entries) / 5
	if n < 1 {
		n = 1
	}

	type aged struct {
		key      string
		storedAt time.Time
	}
	all := make([]aged, 0, len(m.entries))
	for k, e := range m.entries {
		all = append(all, aged{key: k, storedAt: e.storedAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].storedAt.Before(all[j].storedAt) })

	for i := 0; i < n && i < len(all); i++ {
		delete(m.entries, all[i].key)
	}
	m.logger.Debug("cache evicted oldest entries", zap.Int("count", n))
}
