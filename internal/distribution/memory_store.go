package distribution

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory rule set store for demo/development mode.
type MemoryStore struct {
	mu       sync.RWMutex
	versions map[int]*RuleSet
	latest   int
}

// NewMemoryStore creates a new in-memory rule set store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{versions: make(map[int]*RuleSet)}
}

func (m *MemoryStore) Save(ctx context.Context, rs *RuleSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.versions[rs.Version]; ok {
		return ErrVersionConflict
	}
	m.versions[rs.Version] = rs.Clone()
	if rs.Version > m.latest {
		m.latest = rs.Version
	}
	return nil
}

func (m *MemoryStore) Latest(ctx context.Context) (*RuleSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.latest == 0 {
		return nil, ErrNoRules
	}
	return m.versions[m.latest].Clone(), nil
}

func (m *MemoryStore) GetVersion(ctx context.Context, version int) (*RuleSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rs, ok := m.versions[version]
	if !ok {
		return nil, ErrVersionNotFound
	}
	return rs.Clone(), nil
}

var _ Store = (*MemoryStore)(nil)
