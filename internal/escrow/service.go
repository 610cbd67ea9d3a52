package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mbd888/staysettle/internal/clock"
	"github.com/mbd888/staysettle/internal/distribution"
	"github.com/mbd888/staysettle/internal/idgen"
	"github.com/mbd888/staysettle/internal/metrics"
	"github.com/mbd888/staysettle/internal/money"
	"github.com/mbd888/staysettle/internal/syncutil"
	"github.com/mbd888/staysettle/internal/traces"
	"github.com/shopspring/decimal"
)

// Store persists holds. Holds are keyed by booking.
type Store interface {
	Create(ctx context.Context, hold *Hold) error
	Get(ctx context.Context, bookingID string) (*Hold, error)
	Update(ctx context.Context, hold *Hold) error
	// ListDue returns held holds whose ReleaseAfter is at or before the
	// given time and whose timeout has not been recorded yet.
	ListDue(ctx context.Context, before time.Time, limit int) ([]*Hold, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Hold, error)
}

// LedgerService moves escrowed funds. Implementations must reject a second
// settlement for the same hold with ErrAlreadySettled.
type LedgerService interface {
	EscrowLock(ctx context.Context, payerID string, amount decimal.Decimal, reference string) error
	Disburse(ctx context.Context, payerID string, total decimal.Decimal, shares []distribution.Share, reference string) error
	Refund(ctx context.Context, payerID string, total, refund decimal.Decimal, penalty []distribution.Share, reference string) error
}

// RuleSource supplies the distribution rules frozen into each new hold.
type RuleSource interface {
	Snapshot(ctx context.Context) (*distribution.RuleSet, error)
}

// Arbiter opens an arbitration process for a disputed hold and returns its id.
type Arbiter interface {
	OpenArbitration(ctx context.Context, hold *Hold, raisedBy, reason string) (string, error)
}

// Notifier receives hold lifecycle events.
type Notifier interface {
	HoldChanged(ctx context.Context, event string, hold *Hold)
}

// Event names passed to Notifier.
const (
	EventOpened   = "escrow.opened"
	EventUpdated  = "escrow.updated"
	EventDisputed = "escrow.disputed"
	EventReleased = "escrow.released"
	EventRefunded = "escrow.refunded"
)

// Policy holds the engine-wide settlement parameters.
type Policy struct {
	GracePeriod                time.Duration
	RefundPercentage           decimal.Decimal
	CancellationWindow         time.Duration
	DisputeBlocksConfirmations bool
	Currency                   string // used when a request names none
}

// DefaultPolicy returns the settlement parameters used when none are configured.
func DefaultPolicy() Policy {
	return Policy{
		GracePeriod:                7 * 24 * time.Hour,
		RefundPercentage:           decimal.NewFromInt(80),
		CancellationWindow:         24 * time.Hour,
		DisputeBlocksConfirmations: true,
		Currency:                   money.DefaultCurrency,
	}
}

// Service implements escrow business logic.
type Service struct {
	store    Store
	ledger   LedgerService
	rules    RuleSource
	arbiter  Arbiter
	notifier Notifier
	policy   Policy
	clock    clock.Clock
	ids      idgen.Provider
	locks    *syncutil.KeyedMutex
	logger   *slog.Logger
}

// NewService creates a new escrow service.
func NewService(store Store, ledger LedgerService, rules RuleSource) *Service {
	return &Service{
		store:  store,
		ledger: ledger,
		rules:  rules,
		policy: DefaultPolicy(),
		clock:  clock.NewSystem(),
		ids:    idgen.Prefixed(idgen.Default, "esc_"),
		locks:  syncutil.NewKeyedMutex(),
		logger: slog.Default(),
	}
}

// WithPolicy overrides the default settlement parameters.
func (s *Service) WithPolicy(p Policy) *Service {
	s.policy = p
	return s
}

// WithArbiter adds dispute arbitration.
func (s *Service) WithArbiter(a Arbiter) *Service {
	s.arbiter = a
	return s
}

// WithNotifier adds lifecycle notifications.
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

// Policy returns the active settlement parameters.
func (s *Service) Policy() Policy {
	return s.policy
}

// Open locks the payer's funds for a booking. Opening an already open
// booking returns the existing hold.
func (s *Service) Open(ctx context.Context, req OpenRequest) (*Hold, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Open", traces.BookingID(req.BookingID))
	var err error
	defer func() { traces.End(span, err) }()

	if err = s.validateOpen(&req); err != nil {
		return nil, err
	}

	unlock, err := s.locks.LockContext(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	existing, err := s.store.Get(ctx, req.BookingID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrHoldNotFound) {
		return nil, fmt.Errorf("failed to look up hold: %w", err)
	}

	rules, err := s.settleableRules(ctx, req.Amount)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	refundPct := s.policy.RefundPercentage
	if req.RefundPercentage != nil {
		refundPct = *req.RefundPercentage
	}
	deadline := req.CheckIn.Add(-s.policy.CancellationWindow)
	if req.CancellationDeadline != nil {
		deadline = *req.CancellationDeadline
	}
	currency := req.Currency
	if currency == "" {
		currency = s.policy.Currency
	}
	if currency == "" {
		currency = money.DefaultCurrency
	}

	hold := &Hold{
		ID:            s.ids.Allocate(),
		BookingID:     req.BookingID,
		TransactionID: req.TransactionID,
		PayerID:       req.PayerID,
		TotalAmount:   req.Amount,
		Currency:      currency,
		Policy: RefundPolicy{
			CancellationDeadline: deadline,
			RefundPercentage:     refundPct,
			PenaltyAmount:        decimal.Zero,
		},
		CheckIn:      req.CheckIn,
		CheckOut:     req.CheckOut,
		ReleaseAfter: req.CheckOut.Add(s.policy.GracePeriod),
		Rules:        *rules,
		Status:       StatusHeld,
		RefundAmount: decimal.Zero,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err = s.ledger.EscrowLock(ctx, req.PayerID, req.Amount, hold.ID); err != nil {
		return nil, fmt.Errorf("failed to lock escrow funds: %w", err)
	}

	if err = s.store.Create(ctx, hold); err != nil {
		// Return the locked funds; the hold id is never reused.
		if refundErr := s.ledger.Refund(ctx, req.PayerID, req.Amount, req.Amount, nil, hold.ID); refundErr != nil {
			s.logger.Error("CRITICAL: escrow funds locked but hold not recorded and refund failed",
				"holdId", hold.ID, "bookingId", hold.BookingID, "payer", hold.PayerID,
				"amount", money.Format(hold.TotalAmount), "error", refundErr)
		}
		return nil, fmt.Errorf("failed to create hold: %w", err)
	}

	metrics.EscrowOpenedTotal.Inc()
	metrics.EscrowHeldAmount.Add(hold.TotalAmount.InexactFloat64())
	s.logger.Info("escrow opened", "holdId", hold.ID, "bookingId", hold.BookingID,
		"amount", money.Format(hold.TotalAmount), "rulesVersion", hold.Rules.Version)
	s.notify(ctx, EventOpened, hold)

	return hold.clone(), nil
}

// CanOpen reports whether Open would accept req without opening anything.
// A booking that already has a hold can always be reopened.
func (s *Service) CanOpen(ctx context.Context, req OpenRequest) error {
	if err := s.validateOpen(&req); err != nil {
		return err
	}
	_, err := s.store.Get(ctx, req.BookingID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrHoldNotFound) {
		return fmt.Errorf("failed to look up hold: %w", err)
	}
	_, err = s.settleableRules(ctx, req.Amount)
	return err
}

func (s *Service) settleableRules(ctx context.Context, amount decimal.Decimal) (*distribution.RuleSet, error) {
	rules, err := s.rules.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot distribution rules: %w", err)
	}
	if _, err := rules.Compute(amount); err != nil {
		return nil, fmt.Errorf("distribution rules cannot settle this booking: %w", err)
	}
	return rules, nil
}

func (s *Service) validateOpen(req *OpenRequest) error {
	req.BookingID = strings.TrimSpace(req.BookingID)
	req.PayerID = strings.TrimSpace(req.PayerID)
	if req.BookingID == "" {
		return fmt.Errorf("%w: bookingId is required", ErrInvalidRequest)
	}
	if req.PayerID == "" {
		return fmt.Errorf("%w: payerId is required", ErrInvalidRequest)
	}
	if !req.Amount.IsPositive() || !money.Floor(req.Amount).Equal(req.Amount) {
		return ErrInvalidAmount
	}
	if req.CheckIn.IsZero() || req.CheckOut.IsZero() {
		return fmt.Errorf("%w: check-in and check-out are required", ErrInvalidRequest)
	}
	if !req.CheckOut.After(req.CheckIn) {
		return fmt.Errorf("%w: check-out must be after check-in", ErrInvalidRequest)
	}
	if req.RefundPercentage != nil && !money.ValidPercentage(*req.RefundPercentage) {
		return fmt.Errorf("%w: refundPercentage must be between 0 and 100", ErrInvalidRequest)
	}
	return nil
}

// Get returns the hold for a booking.
func (s *Service) Get(ctx context.Context, bookingID string) (*Hold, error) {
	return s.store.Get(ctx, bookingID)
}

// ListByStatus returns holds in the given status.
func (s *Service) ListByStatus(ctx context.Context, status Status, limit int) ([]*Hold, error) {
	return s.store.ListByStatus(ctx, status, limit)
}

// ConfirmCheckIn records that the guest arrived.
func (s *Service) ConfirmCheckIn(ctx context.Context, bookingID string) (*Hold, error) {
	return s.signal(ctx, "escrow.ConfirmCheckIn", bookingID, func(h *Hold) bool {
		if h.Conditions.CheckInConfirmed {
			return false
		}
		h.Conditions.CheckInConfirmed = true
		return true
	})
}

// ConfirmCheckOut records that the stay completed.
func (s *Service) ConfirmCheckOut(ctx context.Context, bookingID string) (*Hold, error) {
	return s.signal(ctx, "escrow.ConfirmCheckOut", bookingID, func(h *Hold) bool {
		if h.Conditions.CheckOutConfirmed {
			return false
		}
		h.Conditions.CheckOutConfirmed = true
		return true
	})
}

// CheckTimeout records the timeout once the release deadline has passed.
func (s *Service) CheckTimeout(ctx context.Context, bookingID string) (*Hold, error) {
	return s.signal(ctx, "escrow.CheckTimeout", bookingID, func(h *Hold) bool {
		if h.Conditions.TimeoutReached || s.clock.Now().Before(h.ReleaseAfter) {
			return false
		}
		h.Conditions.TimeoutReached = true
		return true
	})
}

// signal applies a condition update under the booking lock and releases the
// hold if the update made it releasable. Updates to a terminal hold are
// no-ops that return the final state.
func (s *Service) signal(ctx context.Context, op, bookingID string, apply func(*Hold) bool) (*Hold, error) {
	ctx, span := traces.StartSpan(ctx, op, traces.BookingID(bookingID))
	var err error
	defer func() { traces.End(span, err) }()

	unlock, err := s.locks.LockContext(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	hold, err := s.store.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if hold.IsTerminal() {
		return hold, nil
	}

	if !apply(hold) {
		return hold, nil
	}
	hold.UpdatedAt = s.clock.Now()

	if resolution, ok := s.releasable(hold); ok {
		if err = s.release(ctx, hold, resolution); err != nil {
			return nil, err
		}
		return hold.clone(), nil
	}

	if err = s.store.Update(ctx, hold); err != nil {
		return nil, fmt.Errorf("failed to update hold: %w", err)
	}
	s.notify(ctx, EventUpdated, hold)
	return hold.clone(), nil
}

// releasable evaluates the release rule against the current conditions.
func (s *Service) releasable(h *Hold) (string, bool) {
	c := h.Conditions
	if c.DisputeResolved && h.DisputeOutcome == OutcomeRelease {
		return ResolutionDisputeRelease, true
	}
	if c.CheckInConfirmed && c.CheckOutConfirmed && !(h.DisputeOpen && s.policy.DisputeBlocksConfirmations) {
		return ResolutionConditionsMet, true
	}
	if c.TimeoutReached && !h.DisputeOpen {
		return ResolutionTimeout, true
	}
	return "", false
}

// OpenDispute flags the hold as disputed and starts arbitration. A second
// dispute on the same hold returns it unchanged.
func (s *Service) OpenDispute(ctx context.Context, bookingID string, req DisputeRequest) (*Hold, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.OpenDispute", traces.BookingID(bookingID))
	var err error
	defer func() { traces.End(span, err) }()

	if strings.TrimSpace(req.Reason) == "" {
		err = fmt.Errorf("%w: reason is required", ErrInvalidRequest)
		return nil, err
	}

	unlock, err := s.locks.LockContext(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	hold, err := s.store.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if hold.IsTerminal() {
		err = ErrAlreadyResolved
		return nil, err
	}
	if hold.DisputeOpen {
		return hold, nil
	}

	if s.arbiter != nil {
		proposalID, arbErr := s.arbiter.OpenArbitration(ctx, hold.clone(), req.RaisedBy, req.Reason)
		if arbErr != nil {
			err = fmt.Errorf("failed to open arbitration: %w", arbErr)
			return nil, err
		}
		hold.ProposalID = proposalID
	}

	hold.DisputeOpen = true
	hold.DisputeReason = req.Reason
	hold.UpdatedAt = s.clock.Now()

	if err = s.store.Update(ctx, hold); err != nil {
		return nil, fmt.Errorf("failed to update hold: %w", err)
	}

	s.logger.Info("escrow disputed", "holdId", hold.ID, "bookingId", bookingID,
		"raisedBy", req.RaisedBy, "proposalId", hold.ProposalID)
	s.notify(ctx, EventDisputed, hold)
	return hold.clone(), nil
}

// ResolveDispute applies an arbitration outcome: release pays the
// stakeholders, refund returns the full amount to the payer.
func (s *Service) ResolveDispute(ctx context.Context, bookingID string, outcome Outcome) (*Hold, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.ResolveDispute", traces.BookingID(bookingID))
	var err error
	defer func() { traces.End(span, err) }()

	if !outcome.Valid() {
		err = ErrInvalidOutcome
		return nil, err
	}

	unlock, err := s.locks.LockContext(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	hold, err := s.store.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if hold.IsTerminal() {
		return hold, nil
	}
	if !hold.DisputeOpen {
		err = ErrInvalidStatus
		return nil, err
	}

	hold.Conditions.DisputeResolved = true
	hold.DisputeOpen = false
	hold.DisputeOutcome = outcome
	hold.UpdatedAt = s.clock.Now()

	if outcome == OutcomeRefund {
		err = s.refund(ctx, hold, hold.TotalAmount, ResolutionDisputeRefund)
	} else {
		err = s.release(ctx, hold, ResolutionDisputeRelease)
	}
	if err != nil {
		return nil, err
	}
	return hold.clone(), nil
}

// Cancel applies the refund policy. Before the cancellation deadline the
// payer gets RefundPercentage of the total; afterwards nothing. The rest
// goes to the penalty recipient of the frozen rules.
func (s *Service) Cancel(ctx context.Context, bookingID, reason string) (*Hold, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Cancel", traces.BookingID(bookingID))
	var err error
	defer func() { traces.End(span, err) }()

	unlock, err := s.locks.LockContext(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	hold, err := s.store.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if hold.IsTerminal() {
		err = ErrAlreadyResolved
		return nil, err
	}

	now := s.clock.Now()
	refundAmt := decimal.Zero
	resolution := ResolutionCancelledPastLimit
	if now.Before(hold.Policy.CancellationDeadline) {
		refundAmt = money.Percent(hold.TotalAmount, hold.Policy.RefundPercentage)
		resolution = ResolutionCancelledInWindow
	}

	hold.CancelReason = reason
	hold.UpdatedAt = now
	if err = s.refund(ctx, hold, refundAmt, resolution); err != nil {
		return nil, err
	}
	return hold.clone(), nil
}

func (s *Service) release(ctx context.Context, hold *Hold, resolution string) error {
	shares, err := hold.Rules.Compute(hold.TotalAmount)
	if err != nil {
		return fmt.Errorf("failed to compute payouts: %w", err)
	}

	if err := s.ledger.Disburse(ctx, hold.PayerID, hold.TotalAmount, shares, hold.ID); err != nil {
		if !errors.Is(err, ErrAlreadySettled) {
			return fmt.Errorf("failed to release escrow funds: %w", err)
		}
		s.logger.Warn("escrow disbursement already recorded", "holdId", hold.ID)
	}

	now := s.clock.Now()
	hold.Status = StatusReleased
	hold.Resolution = resolution
	hold.Payouts = shares
	hold.ResolvedAt = &now
	hold.UpdatedAt = now

	if err := s.persistSettled(ctx, hold); err != nil {
		return err
	}

	s.observeResolved(hold)
	s.logger.Info("escrow released", "holdId", hold.ID, "bookingId", hold.BookingID,
		"resolution", resolution, "amount", money.Format(hold.TotalAmount))
	s.notify(ctx, EventReleased, hold)
	return nil
}

func (s *Service) refund(ctx context.Context, hold *Hold, refundAmt decimal.Decimal, resolution string) error {
	penaltyAmt := hold.TotalAmount.Sub(refundAmt)
	var penalty []distribution.Share
	if penaltyAmt.IsPositive() {
		r := hold.Rules.PenaltyRecipient()
		penalty = []distribution.Share{{
			StakeholderID:   r.StakeholderID,
			Role:            r.Role,
			WalletReference: r.WalletReference,
			Amount:          penaltyAmt,
		}}
	}

	if err := s.ledger.Refund(ctx, hold.PayerID, hold.TotalAmount, refundAmt, penalty, hold.ID); err != nil {
		if !errors.Is(err, ErrAlreadySettled) {
			return fmt.Errorf("failed to refund escrow funds: %w", err)
		}
		s.logger.Warn("escrow refund already recorded", "holdId", hold.ID)
	}

	now := s.clock.Now()
	hold.Status = StatusRefunded
	hold.Resolution = resolution
	hold.RefundAmount = refundAmt
	hold.Policy.PenaltyAmount = penaltyAmt
	hold.Payouts = penalty
	hold.ResolvedAt = &now
	hold.UpdatedAt = now

	if err := s.persistSettled(ctx, hold); err != nil {
		return err
	}

	s.observeResolved(hold)
	s.logger.Info("escrow refunded", "holdId", hold.ID, "bookingId", hold.BookingID,
		"resolution", resolution, "refund", money.Format(refundAmt), "penalty", money.Format(penaltyAmt))
	s.notify(ctx, EventRefunded, hold)
	return nil
}

// persistSettled records a terminal state after funds have moved.
func (s *Service) persistSettled(ctx context.Context, hold *Hold) error {
	err := s.store.Update(ctx, hold)
	if err == nil {
		return nil
	}
	// Retry once: funds already moved, the state change must land.
	if retryErr := s.store.Update(ctx, hold); retryErr != nil {
		// The ledger reference is spent, so a later attempt finds it
		// settled and only persists the state.
		s.logger.Error("CRITICAL: escrow funds moved but status update failed",
			"holdId", hold.ID, "bookingId", hold.BookingID, "status", hold.Status, "error", retryErr)
		return fmt.Errorf("failed to update hold after settlement (requires manual resolution): %w", err)
	}
	return nil
}

func (s *Service) observeResolved(hold *Hold) {
	metrics.EscrowResolvedTotal.WithLabelValues(string(hold.Status), hold.Resolution).Inc()
	metrics.EscrowHeldAmount.Sub(hold.TotalAmount.InexactFloat64())
	metrics.EscrowDuration.Observe(hold.UpdatedAt.Sub(hold.CreatedAt).Seconds())
}

func (s *Service) notify(ctx context.Context, event string, hold *Hold) {
	if s.notifier != nil {
		s.notifier.HoldChanged(ctx, event, hold.clone())
	}
}
