package escrow

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory hold store for demo/development mode.
type MemoryStore struct {
	holds map[string]*Hold // keyed by booking
	mu    sync.RWMutex
}

// NewMemoryStore creates a new in-memory hold store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		holds: make(map[string]*Hold),
	}
}

func (m *MemoryStore) Create(ctx context.Context, hold *Hold) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.holds[hold.BookingID]; ok {
		return ErrHoldExists
	}
	m.holds[hold.BookingID] = hold.clone()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, bookingID string) (*Hold, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hold, ok := m.holds[bookingID]
	if !ok {
		return nil, ErrHoldNotFound
	}
	return hold.clone(), nil
}

func (m *MemoryStore) Update(ctx context.Context, hold *Hold) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.holds[hold.BookingID]; !ok {
		return ErrHoldNotFound
	}
	m.holds[hold.BookingID] = hold.clone()
	return nil
}

func (m *MemoryStore) ListDue(ctx context.Context, before time.Time, limit int) ([]*Hold, error) {
	return m.list(limit, func(h *Hold) bool {
		return h.Status == StatusHeld && !h.Conditions.TimeoutReached && !h.ReleaseAfter.After(before)
	}), nil
}

func (m *MemoryStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Hold, error) {
	return m.list(limit, func(h *Hold) bool { return h.Status == status }), nil
}

// list returns matching holds oldest first.
func (m *MemoryStore) list(limit int, match func(*Hold) bool) []*Hold {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Hold
	for _, h := range m.holds {
		if match(h) {
			result = append(result, h.clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

var _ Store = (*MemoryStore)(nil)
