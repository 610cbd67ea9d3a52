package governance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mbd888/staysettle/internal/clock"
	"github.com/mbd888/staysettle/internal/idgen"
	"github.com/mbd888/staysettle/internal/metrics"
	"github.com/mbd888/staysettle/internal/syncutil"
	"github.com/mbd888/staysettle/internal/traces"
)

// Store persists proposals and votes.
type Store interface {
	CreateProposal(ctx context.Context, p *Proposal) error
	GetProposal(ctx context.Context, id string) (*Proposal, error)
	UpdateProposal(ctx context.Context, p *Proposal) error
	// RecordVote stores the vote and the proposal's new tallies together.
	// A second vote by the same voter returns ErrAlreadyVoted.
	RecordVote(ctx context.Context, v *Vote, p *Proposal) error
	ListVotes(ctx context.Context, proposalID string) ([]*Vote, error)
	ListProposals(ctx context.Context, status Status, limit int) ([]*Proposal, error)
	// ListDue returns active proposals whose deadline is at or before the given time.
	ListDue(ctx context.Context, before time.Time, limit int) ([]*Proposal, error)
	// ListUnapplied returns finalized booking proposals whose outcome has not
	// been delivered.
	ListUnapplied(ctx context.Context, limit int) ([]*Proposal, error)
}

// PowerSource reports the total voting power eligible for a new proposal.
type PowerSource interface {
	EligiblePower(ctx context.Context) (int64, error)
}

// StaticPower is a fixed eligible power.
type StaticPower int64

func (p StaticPower) EligiblePower(context.Context) (int64, error) {
	return int64(p), nil
}

// Resolver delivers a finalized outcome to the linked booking.
type Resolver interface {
	ResolveDispute(ctx context.Context, bookingID string, release bool) error
}

// Notifier receives proposal lifecycle events.
type Notifier interface {
	ProposalChanged(ctx context.Context, event string, p *Proposal)
}

// Event names passed to Notifier.
const (
	EventOpened    = "proposal.opened"
	EventVoted     = "proposal.voted"
	EventFinalized = "proposal.finalized"
)

// Config holds voting parameters.
type Config struct {
	VotingPeriod     time.Duration
	QuorumPercentage int
}

// DefaultConfig returns the voting parameters used when none are configured.
func DefaultConfig() Config {
	return Config{VotingPeriod: 7 * 24 * time.Hour, QuorumPercentage: 20}
}

// Service implements governance business logic.
type Service struct {
	store    Store
	power    PowerSource
	resolver Resolver
	notifier Notifier
	cfg      Config
	clock    clock.Clock
	ids      idgen.Provider
	locks    *syncutil.KeyedMutex // per-proposal
	logger   *slog.Logger
}

// NewService creates a new governance service.
func NewService(store Store, power PowerSource) *Service {
	return &Service{
		store:  store,
		power:  power,
		cfg:    DefaultConfig(),
		clock:  clock.NewSystem(),
		ids:    idgen.Prefixed(idgen.Default, "prop_"),
		locks:  syncutil.NewKeyedMutex(),
		logger: slog.Default(),
	}
}

// WithConfig overrides the voting parameters.
func (s *Service) WithConfig(cfg Config) *Service {
	s.cfg = cfg
	return s
}

// WithResolver enables delivery of outcomes to linked bookings.
func (s *Service) WithResolver(r Resolver) *Service {
	s.resolver = r
	return s
}

func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

func (s *Service) WithClock(c clock.Clock) *Service {
	s.clock = c
	return s
}

func (s *Service) WithIDs(p idgen.Provider) *Service {
	s.ids = p
	return s
}

func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = l
	return s
}

// Open creates a proposal. Eligible power and required votes are fixed here
// and never recomputed.
func (s *Service) Open(ctx context.Context, req OpenRequest) (*Proposal, error) {
	req.Title = strings.TrimSpace(req.Title)
	req.Proposer = strings.TrimSpace(req.Proposer)
	if req.Title == "" || req.Proposer == "" {
		return nil, fmt.Errorf("%w: title and proposer are required", ErrInvalidRequest)
	}

	eligible, err := s.power.EligiblePower(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read eligible power: %w", err)
	}
	if eligible <= 0 {
		return nil, fmt.Errorf("%w: no eligible voting power", ErrInvalidRequest)
	}

	now := s.clock.Now()
	p := &Proposal{
		ID:               s.ids.Allocate(),
		Title:            req.Title,
		Description:      req.Description,
		Proposer:         req.Proposer,
		BookingID:        strings.TrimSpace(req.BookingID),
		Actions:          req.Actions,
		Status:           StatusActive,
		EligiblePower:    eligible,
		QuorumPercentage: s.cfg.QuorumPercentage,
		RequiredVotes:    RequiredVotes(eligible, s.cfg.QuorumPercentage),
		Deadline:         now.Add(s.cfg.VotingPeriod),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.store.CreateProposal(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create proposal: %w", err)
	}

	s.logger.Info("proposal opened", "proposalId", p.ID, "bookingId", p.BookingID,
		"requiredVotes", p.RequiredVotes, "deadline", p.Deadline)
	s.notify(ctx, EventOpened, p)
	return p.clone(), nil
}

// Vote casts a weighted ballot.
func (s *Service) Vote(ctx context.Context, proposalID string, req VoteRequest) (*Proposal, error) {
	ctx, span := traces.StartSpan(ctx, "governance.Vote", traces.ProposalID(proposalID))
	var err error
	defer func() { traces.End(span, err) }()

	req.Voter = strings.TrimSpace(req.Voter)
	if req.Voter == "" {
		err = fmt.Errorf("%w: voter is required", ErrInvalidRequest)
		return nil, err
	}

	unlock, err := s.locks.LockContext(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	p, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if p.IsFinal() {
		err = ErrAlreadyFinalized
		return nil, err
	}
	now := s.clock.Now()
	if !now.Before(p.Deadline) {
		err = ErrVotingClosed
		return nil, err
	}
	if req.Power <= 0 || req.Power > p.EligiblePower {
		err = ErrInvalidPower
		return nil, err
	}

	if req.Support {
		p.YesVotes += req.Power
	} else {
		p.NoVotes += req.Power
	}
	p.VoterCount++
	p.UpdatedAt = now

	v := &Vote{ProposalID: p.ID, Voter: req.Voter, Support: req.Support, Power: req.Power, CastAt: now}
	if err = s.store.RecordVote(ctx, v, p); err != nil {
		return nil, err
	}

	metrics.VotesTotal.Inc()
	s.notify(ctx, EventVoted, p)
	return p.clone(), nil
}

// Finalize closes voting once the deadline has passed and delivers the
// outcome to a linked booking.
func (s *Service) Finalize(ctx context.Context, proposalID string) (*Proposal, error) {
	ctx, span := traces.StartSpan(ctx, "governance.Finalize", traces.ProposalID(proposalID))
	var err error
	defer func() { traces.End(span, err) }()

	unlock, err := s.locks.LockContext(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	p, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if p.IsFinal() {
		err = ErrAlreadyFinalized
		return nil, err
	}
	now := s.clock.Now()
	if now.Before(p.Deadline) {
		err = ErrVotingOpen
		return nil, err
	}

	passed := p.QuorumMet() && p.YesVotes > p.NoVotes
	p.Status = StatusFailed
	if passed {
		p.Status = StatusPassed
	}
	p.FinalizedAt = &now
	p.UpdatedAt = now

	if err = s.store.UpdateProposal(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to finalize proposal: %w", err)
	}

	metrics.ProposalsFinalizedTotal.WithLabelValues(string(p.Status)).Inc()
	s.logger.Info("proposal finalized", "proposalId", p.ID, "status", p.Status,
		"yes", p.YesVotes, "no", p.NoVotes, "required", p.RequiredVotes)

	s.applyLocked(ctx, p)
	s.notify(ctx, EventFinalized, p)
	return p.clone(), nil
}

// Reapply retries delivering a finalized outcome to its booking.
func (s *Service) Reapply(ctx context.Context, proposalID string) (*Proposal, error) {
	unlock, err := s.locks.LockContext(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	p, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if !p.NeedsApply() {
		return p, nil
	}
	s.applyLocked(ctx, p)
	return p.clone(), nil
}

// applyLocked delivers the outcome. Must be called under the proposal lock.
// A failure is recorded on the proposal and left for the timer.
func (s *Service) applyLocked(ctx context.Context, p *Proposal) {
	if !p.NeedsApply() || s.resolver == nil {
		return
	}

	err := s.resolver.ResolveDispute(ctx, p.BookingID, p.Status == StatusPassed)
	if err != nil {
		p.ApplyError = err.Error()
		s.logger.Warn("failed to apply proposal outcome", "proposalId", p.ID,
			"bookingId", p.BookingID, "error", err)
	} else {
		p.Applied = true
		p.ApplyError = ""
	}
	p.UpdatedAt = s.clock.Now()

	if updErr := s.store.UpdateProposal(ctx, p); updErr != nil {
		s.logger.Error("failed to record proposal application", "proposalId", p.ID, "error", updErr)
	}
}

// CheckDue finalizes proposals past their deadline and retries outcomes that
// failed to apply.
func (s *Service) CheckDue(ctx context.Context) (finalized, applied int) {
	due, err := s.store.ListDue(ctx, s.clock.Now(), 100)
	if err != nil {
		s.logger.Warn("failed to list due proposals", "error", err)
	}
	for _, p := range due {
		if _, err := s.Finalize(ctx, p.ID); err != nil {
			if !errors.Is(err, ErrAlreadyFinalized) {
				s.logger.Warn("failed to finalize proposal", "proposalId", p.ID, "error", err)
			}
			continue
		}
		finalized++
	}

	pending, err := s.store.ListUnapplied(ctx, 100)
	if err != nil {
		s.logger.Warn("failed to list unapplied proposals", "error", err)
		return finalized, 0
	}
	for _, p := range pending {
		got, err := s.Reapply(ctx, p.ID)
		if err != nil {
			s.logger.Warn("failed to reapply proposal", "proposalId", p.ID, "error", err)
			continue
		}
		if got.Applied {
			applied++
		}
	}
	return finalized, applied
}

// Get returns a proposal by ID.
func (s *Service) Get(ctx context.Context, id string) (*Proposal, error) {
	return s.store.GetProposal(ctx, id)
}

// List returns proposals in the given status.
func (s *Service) List(ctx context.Context, status Status, limit int) ([]*Proposal, error) {
	return s.store.ListProposals(ctx, status, limit)
}

// Votes returns the ballots cast on a proposal.
func (s *Service) Votes(ctx context.Context, proposalID string) ([]*Vote, error) {
	if _, err := s.store.GetProposal(ctx, proposalID); err != nil {
		return nil, err
	}
	return s.store.ListVotes(ctx, proposalID)
}

func (s *Service) notify(ctx context.Context, event string, p *Proposal) {
	if s.notifier != nil {
		s.notifier.ProposalChanged(ctx, event, p.clone())
	}
}
