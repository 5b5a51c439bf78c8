package core

import (
	"context"
	"sync"
	"time"

	"github.com/autonomic-run/agentruntime/telemetry"
)

func init() {
	telemetry.DeclareMetrics("core", telemetry.ModuleConfig{
		Metrics: []telemetry.MetricDefinition{
			{Name: "memory_store_lookups_total", Type: "counter", Help: "MemoryStore.Get calls, by result.", Labels: []string{"result"}},
			{Name: "memory_store_evictions_total", Type: "counter", Help: "Entries removed from a MemoryStore, by reason.", Labels: []string{"reason"}},
		},
	})
}

// MemoryStore is a TTL-bounded in-memory cache implementing Memory. The
// advisor package holds one to memoize GET /scope responses, which rarely
// change cycle to cycle; it is otherwise unrelated to the bounded decision
// FIFOs in package memory, which are never cached across cycles.
type MemoryStore struct {
	mu    sync.RWMutex
	store map[string]memoryEntry
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{store: make(map[string]memoryEntry)}
}

// Get returns the value for key, or "" if absent or expired. A miss is
// never an error; callers treat "" as "go fetch the real value".
func (m *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, exists := m.store[key]
	if !exists {
		telemetry.Counter("memory_store_lookups_total", "result", "miss")
		return "", nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		telemetry.Counter("memory_store_lookups_total", "result", "expired")
		return "", nil
	}

	telemetry.Counter("memory_store_lookups_total", "result", "hit")
	return entry.value, nil
}

// Set stores value under key. ttl <= 0 means the entry never expires.
func (m *MemoryStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	m.store[key] = entry
	return nil
}

// Delete removes key, if present.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, existed := m.store[key]; existed {
		delete(m.store, key)
		telemetry.Counter("memory_store_evictions_total", "reason", "explicit_delete")
	}
	return nil
}

// Exists reports whether key is present and unexpired.
func (m *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, exists := m.store[key]
	if !exists {
		return false, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		return false, nil
	}
	return true, nil
}
