// Package escrow holds booking payments until the stay is verified.
//
// Flow:
//  1. Booking confirmed → payer funds locked, distribution rules frozen
//  2. Check-in and check-out confirmed → funds split across stakeholders
//  3. Dispute raised → arbitration decides release or full refund
//  4. Stay end + grace passes with no open dispute → auto-released
//  5. Cancelled → refund policy splits funds between payer and penalty recipient
//
// Every hold ends in exactly one of Released or Refunded, and the funds move
// exactly once.
package escrow

import (
	"errors"
	"time"

	"github.com/mbd888/staysettle/internal/distribution"
	"github.com/shopspring/decimal"
)

var (
	ErrHoldNotFound    = errors.New("escrow hold not found")
	ErrHoldExists      = errors.New("escrow hold already exists for booking")
	ErrInvalidStatus   = errors.New("invalid escrow status for this operation")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidRequest  = errors.New("invalid escrow request")
	ErrInvalidOutcome  = errors.New("invalid dispute outcome")
	ErrAlreadyResolved = errors.New("escrow already resolved")
	// ErrAlreadySettled is returned by a LedgerService when the settlement
	// for a hold was recorded by an earlier attempt.
	ErrAlreadySettled = errors.New("escrow settlement already recorded")
	// ErrStaleHold is returned by a Store when the hold changed since it
	// was read.
	ErrStaleHold = errors.New("escrow hold changed concurrently")
)

// Status represents the state of a hold.
type Status string

const (
	StatusHeld     Status = "held"     // funds locked, awaiting conditions
	StatusReleased Status = "released" // paid out to stakeholders
	StatusRefunded Status = "refunded" // returned to payer (less any penalty)
)

// Outcome is the result of dispute arbitration.
type Outcome string

const (
	OutcomeRelease Outcome = "release"
	OutcomeRefund  Outcome = "refund"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	return o == OutcomeRelease || o == OutcomeRefund
}

// Resolution records which path closed a hold.
const (
	ResolutionConditionsMet      = "conditions_met"
	ResolutionDisputeRelease     = "dispute_release"
	ResolutionDisputeRefund      = "dispute_refund"
	ResolutionTimeout            = "timeout"
	ResolutionCancelledInWindow  = "cancelled_before_deadline"
	ResolutionCancelledPastLimit = "cancelled_after_deadline"
)

// Conditions are the independent signals that can release a hold.
type Conditions struct {
	CheckInConfirmed  bool `json:"checkInConfirmed"`
	CheckOutConfirmed bool `json:"checkOutConfirmed"`
	DisputeResolved   bool `json:"disputeResolved"`
	TimeoutReached    bool `json:"timeoutReached"`
}

// RefundPolicy governs cancellation.
type RefundPolicy struct {
	CancellationDeadline time.Time       `json:"cancellationDeadline"`
	RefundPercentage     decimal.Decimal `json:"refundPercentage"`
	PenaltyAmount        decimal.Decimal `json:"penaltyAmount"` // fixed at cancellation
}

// Hold is one booking's escrowed payment.
type Hold struct {
	ID             string               `json:"id"`
	BookingID      string               `json:"bookingId"`
	TransactionID  string               `json:"transactionId,omitempty"`
	PayerID        string               `json:"payerId"`
	TotalAmount    decimal.Decimal      `json:"totalAmount"`
	Currency       string               `json:"currency"`
	Conditions     Conditions           `json:"conditions"`
	DisputeOpen    bool                 `json:"disputeOpen"`
	DisputeReason  string               `json:"disputeReason,omitempty"`
	DisputeOutcome Outcome              `json:"disputeOutcome,omitempty"`
	ProposalID     string               `json:"proposalId,omitempty"`
	Policy         RefundPolicy         `json:"policy"`
	CheckIn        time.Time            `json:"checkIn"`
	CheckOut       time.Time            `json:"checkOut"`
	ReleaseAfter   time.Time            `json:"releaseAfter"`
	Rules          distribution.RuleSet `json:"rules"`
	Status         Status               `json:"status"`
	Resolution     string               `json:"resolution,omitempty"`
	Payouts        []distribution.Share `json:"payouts,omitempty"`
	RefundAmount   decimal.Decimal      `json:"refundAmount"`
	CancelReason   string               `json:"cancelReason,omitempty"`
	ResolvedAt     *time.Time           `json:"resolvedAt,omitempty"`
	CreatedAt      time.Time            `json:"createdAt"`
	UpdatedAt      time.Time            `json:"updatedAt"`

	// loadedAt is the stored updated_at this copy was read at. Postgres
	// updates only apply while the row still carries it.
	loadedAt time.Time
}

// IsTerminal returns true if the hold is in a final state.
func (h *Hold) IsTerminal() bool {
	return h.Status == StatusReleased || h.Status == StatusRefunded
}

// clone returns a deep copy so callers never share slices with a store.
func (h *Hold) clone() *Hold {
	cp := *h
	cp.Rules = *h.Rules.Clone()
	if h.Payouts != nil {
		cp.Payouts = make([]distribution.Share, len(h.Payouts))
		copy(cp.Payouts, h.Payouts)
	}
	if h.ResolvedAt != nil {
		t := *h.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}

// OpenRequest contains the parameters for opening a hold.
type OpenRequest struct {
	BookingID     string          `json:"bookingId"`
	TransactionID string          `json:"transactionId"`
	PayerID       string          `json:"payerId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	CheckIn       time.Time       `json:"checkIn"`
	CheckOut      time.Time       `json:"checkOut"`
	// Optional overrides of the service policy.
	CancellationDeadline *time.Time       `json:"cancellationDeadline,omitempty"`
	RefundPercentage     *decimal.Decimal `json:"refundPercentage,omitempty"`
}

// DisputeRequest contains the parameters for raising a dispute.
type DisputeRequest struct {
	RaisedBy string `json:"raisedBy" binding:"required"`
	Reason   string `json:"reason" binding:"required"`
}

// ResolveRequest carries an arbitration outcome.
type ResolveRequest struct {
	Outcome Outcome `json:"outcome" binding:"required"`
}

// CancelRequest carries a cancellation reason.
type CancelRequest struct {
	Reason string `json:"reason"`
}
