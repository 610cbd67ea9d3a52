// Package orchestrator drives the order lifecycle over the commerce network:
// select, init, confirm, track and cancel move an Order through its states,
// and confirm is the one step that opens an escrow hold.
package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/staysettle/internal/beckn"
	"github.com/mbd888/staysettle/internal/money"
	"github.com/shopspring/decimal"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrOrderExists      = errors.New("order already exists")
	ErrInvalidState     = errors.New("action not allowed in current order state")
	ErrInvalidRequest   = errors.New("invalid order request")
	ErrUnknownProvider  = errors.New("provider unknown to the network")
	ErrUnknownItem      = errors.New("item unknown to the network")
	ErrQuoteMismatch    = errors.New("quote breakup does not sum to total")
	ErrMissingStayDates = errors.New("fulfillment has no stay window")
	ErrNoResult         = errors.New("network returned no order")
	ErrUnpayableTotal   = errors.New("quote total is not a payable amount")
)

// State is a position in the order lifecycle.
type State string

const (
	StateSearching   State = "searching"
	StateSelected    State = "selected"
	StateInitialized State = "initialized"
	StateConfirmed   State = "confirmed"
	StateTracking    State = "tracking"
	StateCompleted   State = "completed"
	StateCancelled   State = "cancelled"
)

// IsTerminal reports whether no further action can change the order.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// StateError rejects an action attempted from the wrong state.
type StateError struct {
	From   State
	Action beckn.Action
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: cannot %s an order that is %s", ErrInvalidState, e.Action, e.From)
}

func (e *StateError) Unwrap() error { return ErrInvalidState }

// IntegrityError reports a network response that violates a protocol
// invariant. The transition it belonged to is not applied.
type IntegrityError struct {
	Action    beckn.Action
	Invariant string
	Err       error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s response rejected (%s): %v", e.Action, e.Invariant, e.Err)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// Order is a booking's view of one commercial transaction on the network.
type Order struct {
	ID                 string             `json:"id"`
	TransactionID      string             `json:"transactionId"`
	State              State              `json:"state"`
	PayerID            string             `json:"payerId"`
	ProviderID         string             `json:"providerId"`
	BPPID              string             `json:"bppId,omitempty"`
	BPPURI             string             `json:"bppUri,omitempty"`
	Items              []beckn.Item       `json:"items"`
	Fulfillment        *beckn.Fulfillment `json:"fulfillment,omitempty"`
	Quote              *beckn.Quote       `json:"quote,omitempty"`
	Payment            *beckn.Payment     `json:"payment,omitempty"`
	Billing            *beckn.Billing     `json:"billing,omitempty"`
	NetworkOrderID     string             `json:"networkOrderId,omitempty"`
	NetworkState       string             `json:"networkState,omitempty"`
	HoldID             string             `json:"holdId,omitempty"`
	CancellationReason string             `json:"cancellationReason,omitempty"`
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
	ConfirmedAt        *time.Time         `json:"confirmedAt,omitempty"`
	CancelledAt        *time.Time         `json:"cancelledAt,omitempty"`
}

// Total returns the quoted total, or zero before a quote exists.
func (o *Order) Total() decimal.Decimal {
	if o.Quote == nil {
		return decimal.Zero
	}
	amt, err := o.Quote.Price.Amount()
	if err != nil {
		return decimal.Zero
	}
	return amt
}

// networkRef is the id the network knows this order by.
func (o *Order) networkRef() string {
	if o.NetworkOrderID != "" {
		return o.NetworkOrderID
	}
	return o.ID
}

// wire builds the protocol order for outbound messages.
func (o *Order) wire() *beckn.Order {
	return &beckn.Order{
		ID:          o.NetworkOrderID,
		Provider:    &beckn.OrderProvider{ID: o.ProviderID},
		Items:       o.Items,
		Billing:     o.Billing,
		Fulfillment: o.Fulfillment,
		Quote:       o.Quote,
		Payment:     o.Payment,
	}
}

// clone round-trips through JSON so nested protocol payloads are not shared.
func (o *Order) clone() *Order {
	cp, err := deepCopy(o)
	if err != nil {
		// Order only holds JSON-safe types.
		panic(fmt.Sprintf("orchestrator: clone order: %v", err))
	}
	return cp
}

// SelectRequest starts a new transaction for items of one provider.
type SelectRequest struct {
	PayerID    string   `json:"payerId" binding:"required"`
	ProviderID string   `json:"providerId" binding:"required"`
	ItemIDs    []string `json:"itemIds" binding:"required"`
	Quantity   int      `json:"quantity,omitempty"`
	BPPID      string   `json:"bppId,omitempty"`
	BPPURI     string   `json:"bppUri,omitempty"`
}

// InitRequest carries the billing, fulfillment and payment details for init.
type InitRequest struct {
	Billing     *beckn.Billing     `json:"billing" binding:"required"`
	Fulfillment *beckn.Fulfillment `json:"fulfillment" binding:"required"`
	Payment     *beckn.Payment     `json:"payment,omitempty"`
}

// CancelRequest carries the optional cancellation reason.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// SupportRequest raises an issue on an order.
type SupportRequest struct {
	IssueType string `json:"issueType" binding:"required"`
}

// SupportTicket is the outcome of a support escalation.
type SupportTicket struct {
	OrderID   string          `json:"orderId"`
	IssueType string          `json:"issueType"`
	RaisedAt  time.Time       `json:"raisedAt"`
	Reply     json.RawMessage `json:"reply,omitempty"`
}

// validateQuote checks that the breakup lines sum exactly to the total.
func validateQuote(q *beckn.Quote) error {
	if q == nil {
		return fmt.Errorf("%w: no quote", ErrQuoteMismatch)
	}
	total, err := q.Price.Amount()
	if err != nil {
		return fmt.Errorf("%w: total: %v", ErrQuoteMismatch, err)
	}
	if len(q.Breakup) == 0 {
		return fmt.Errorf("%w: no breakup lines", ErrQuoteMismatch)
	}
	sum := decimal.Zero
	for i, line := range q.Breakup {
		amt, err := line.Price.Amount()
		if err != nil {
			return fmt.Errorf("%w: line %d (%s): %v", ErrQuoteMismatch, i, line.Title, err)
		}
		sum = sum.Add(amt)
	}
	if !sum.Equal(total) {
		return fmt.Errorf("%w: lines sum to %s, total is %s", ErrQuoteMismatch, sum.String(), total.String())
	}
	return nil
}

// payable requires a positive total with no more fractional digits than the
// settlement currency carries.
func payable(q *beckn.Quote) error {
	total, err := q.Price.Amount()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnpayableTotal, err)
	}
	if !total.IsPositive() || !money.Floor(total).Equal(total) {
		return fmt.Errorf("%w: %s", ErrUnpayableTotal, total.String())
	}
	return nil
}

func deepCopy(o *Order) (*Order, error) {
	raw, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	var cp Order
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}
