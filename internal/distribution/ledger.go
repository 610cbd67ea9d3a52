package distribution

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mbd888/staysettle/internal/clock"
	"github.com/shopspring/decimal"
)

// Store persists rule set versions.
type Store interface {
	Save(ctx context.Context, rs *RuleSet) error
	Latest(ctx context.Context) (*RuleSet, error)
	GetVersion(ctx context.Context, version int) (*RuleSet, error)
}

// Ledger owns the current distribution rules. Registration is serialized;
// readers get deep copies, so a snapshot never changes after it is taken.
type Ledger struct {
	store   Store
	clock   clock.Clock
	mu      sync.RWMutex
	current *RuleSet
	loaded  bool
}

// NewLedger creates a distribution ledger backed by store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store, clock: clock.NewSystem()}
}

// WithClock replaces the time source.
func (l *Ledger) WithClock(c clock.Clock) *Ledger {
	l.clock = c
	return l
}

// RegisterRules validates and stores a new rule set version. The batch is
// rejected as a whole on any violation.
func (l *Ledger) RegisterRules(ctx context.Context, req RegisterRequest) (*RuleSet, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.loadLocked(ctx); err != nil {
		return nil, err
	}

	version := 1
	if l.current != nil {
		version = l.current.Version + 1
	}
	rs := newRuleSet(req, version, l.clock.Now())

	if err := l.store.Save(ctx, rs); err != nil {
		return nil, fmt.Errorf("failed to save rule set: %w", err)
	}
	l.current = rs
	return rs.Clone(), nil
}

// Snapshot returns a frozen copy of the current rules.
func (l *Ledger) Snapshot(ctx context.Context) (*RuleSet, error) {
	l.mu.RLock()
	if l.loaded {
		defer l.mu.RUnlock()
		if l.current == nil {
			return nil, ErrNoRules
		}
		return l.current.Clone(), nil
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.loadLocked(ctx); err != nil {
		return nil, err
	}
	if l.current == nil {
		return nil, ErrNoRules
	}
	return l.current.Clone(), nil
}

// Version returns a specific historical rule set.
func (l *Ledger) Version(ctx context.Context, version int) (*RuleSet, error) {
	return l.store.GetVersion(ctx, version)
}

// Preview computes the split of total under the current rules.
func (l *Ledger) Preview(ctx context.Context, total decimal.Decimal) ([]Share, error) {
	rs, err := l.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return rs.Compute(total)
}

func (l *Ledger) loadLocked(ctx context.Context) error {
	if l.loaded {
		return nil
	}
	rs, err := l.store.Latest(ctx)
	if err != nil && !errors.Is(err, ErrNoRules) {
		return fmt.Errorf("failed to load rule set: %w", err)
	}
	l.current = rs
	l.loaded = true
	return nil
}
