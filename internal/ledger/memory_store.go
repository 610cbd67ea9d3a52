package ledger

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-memory ledger store for demo/development mode.
type MemoryStore struct {
	mu         sync.RWMutex
	entries    []*Entry
	references map[string]bool
}

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{references: make(map[string]bool)}
}

func (m *MemoryStore) AppendBatch(ctx context.Context, reference string, entries []*Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.references[reference] {
		return ErrDuplicateReference
	}
	m.references[reference] = true
	for _, e := range entries {
		cp := *e
		m.entries = append(m.entries, &cp)
	}
	return nil
}

func (m *MemoryStore) ByReference(ctx context.Context, reference string) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Entry
	for _, e := range m.entries {
		if e.Reference == reference {
			cp := *e
			result = append(result, &cp)
		}
	}
	return result, nil
}

// ByAccount returns newest entries first.
func (m *MemoryStore) ByAccount(ctx context.Context, accountID string, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Entry
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if e.AccountID != accountID {
			continue
		}
		cp := *e
		result = append(result, &cp)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryStore) Balance(ctx context.Context, accountID string) (*Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bal := &Balance{AccountID: accountID, Escrowed: decimal.Zero, Received: decimal.Zero, Refunded: decimal.Zero}
	for _, e := range m.entries {
		if e.AccountID == accountID {
			bal.apply(e.Type, e.Amount)
		}
	}
	return bal, nil
}

func (b *Balance) apply(typ EntryType, amount decimal.Decimal) {
	switch typ {
	case EntryEscrowLock:
		b.Escrowed = b.Escrowed.Add(amount)
	case EntryEscrowRelease:
		b.Escrowed = b.Escrowed.Sub(amount)
	case EntryPayout, EntryPenalty:
		b.Received = b.Received.Add(amount)
	case EntryRefund:
		b.Refunded = b.Refunded.Add(amount)
	}
}

var _ Store = (*MemoryStore)(nil)
