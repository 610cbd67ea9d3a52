package governance

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory governance store for demo/development mode.
type MemoryStore struct {
	proposals map[string]*Proposal
	votes     map[string][]*Vote // proposal ID -> votes in cast order
	mu        sync.RWMutex
}

// NewMemoryStore creates a new in-memory governance store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		proposals: make(map[string]*Proposal),
		votes:     make(map[string][]*Vote),
	}
}

func (m *MemoryStore) CreateProposal(_ context.Context, p *Proposal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.proposals[p.ID] = p.clone()
	return nil
}

func (m *MemoryStore) GetProposal(_ context.Context, id string) (*Proposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.proposals[id]
	if !ok {
		return nil, ErrProposalNotFound
	}
	return p.clone(), nil
}

func (m *MemoryStore) UpdateProposal(_ context.Context, p *Proposal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.proposals[p.ID]; !ok {
		return ErrProposalNotFound
	}
	m.proposals[p.ID] = p.clone()
	return nil
}

func (m *MemoryStore) RecordVote(_ context.Context, v *Vote, p *Proposal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.proposals[p.ID]; !ok {
		return ErrProposalNotFound
	}
	for _, existing := range m.votes[v.ProposalID] {
		if existing.Voter == v.Voter {
			return ErrAlreadyVoted
		}
	}
	cp := *v
	m.votes[v.ProposalID] = append(m.votes[v.ProposalID], &cp)
	m.proposals[p.ID] = p.clone()
	return nil
}

func (m *MemoryStore) ListVotes(_ context.Context, proposalID string) ([]*Vote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Vote, 0, len(m.votes[proposalID]))
	for _, v := range m.votes[proposalID] {
		cp := *v
		result = append(result, &cp)
	}
	return result, nil
}

func (m *MemoryStore) ListProposals(_ context.Context, status Status, limit int) ([]*Proposal, error) {
	return m.list(limit, func(p *Proposal) bool { return status == "" || p.Status == status }), nil
}

func (m *MemoryStore) ListDue(_ context.Context, before time.Time, limit int) ([]*Proposal, error) {
	return m.list(limit, func(p *Proposal) bool {
		return p.Status == StatusActive && !p.Deadline.After(before)
	}), nil
}

func (m *MemoryStore) ListUnapplied(_ context.Context, limit int) ([]*Proposal, error) {
	return m.list(limit, func(p *Proposal) bool { return p.NeedsApply() }), nil
}

func (m *MemoryStore) list(limit int, match func(*Proposal) bool) []*Proposal {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Proposal
	for _, p := range m.proposals {
		if match(p) {
			result = append(result, p.clone())
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
