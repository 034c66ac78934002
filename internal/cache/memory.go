package cache

import (
	"context"
	"sync"
	"time"

	"github.com/sells-group/rewards-engine/internal/model"
)

// MemoryStore is a process-local Store. Candidate lookup scans one
// (kind, field value) bucket linearly.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
	scopes  map[string]map[string]struct{}
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]Entry),
		scopes:  make(map[string]map[string]struct{}),
	}
}

func (m *MemoryStore) Candidates(_ context.Context, kind model.Operator, fieldValue string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := m.scopes[scopeKey(kind, fieldValue)]
	out := make([]Entry, 0, len(keys))
	for k := range keys {
		if e, ok := m.entries[k]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryStore) Put(_ context.Context, e Entry, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[e.Key] = e
	sk := scopeKey(e.Kind, e.FieldValue)
	if m.scopes[sk] == nil {
		m.scopes[sk] = make(map[string]struct{})
	}
	m.scopes[sk][e.Key] = struct{}{}
	return nil
}

func (m *MemoryStore) IncrementHits(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok {
		e.Hits++
		m.entries[key] = e
	}
	return nil
}

func (m *MemoryStore) All(_ context.Context) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out, nil
}

func (m *MemoryStore) DeleteBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for k, e := range m.entries {
		if !e.CreatedAt.Before(cutoff) {
			continue
		}
		delete(m.entries, k)
		sk := scopeKey(e.Kind, e.FieldValue)
		delete(m.scopes[sk], k)
		if len(m.scopes[sk]) == 0 {
			delete(m.scopes, sk)
		}
		n++
	}
	return n, nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]Entry)
	m.scopes = make(map[string]map[string]struct{})
	return nil
}
