package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/mbd888/staysettle/internal/beckn"
	"github.com/mbd888/staysettle/internal/clock"
	"github.com/mbd888/staysettle/internal/distribution"
	"github.com/mbd888/staysettle/internal/escrow"
	"github.com/mbd888/staysettle/internal/idgen"
	"github.com/mbd888/staysettle/internal/logging"
	"github.com/mbd888/staysettle/internal/metrics"
	"github.com/mbd888/staysettle/internal/money"
	"github.com/mbd888/staysettle/internal/syncutil"
	"github.com/mbd888/staysettle/internal/traces"
)

// Gateway is the network side of the lifecycle. *beckn.Client implements it.
type Gateway interface {
	Search(ctx context.Context, bctx beckn.Context, intent beckn.Intent) ([]beckn.Provider, error)
	Select(ctx context.Context, bctx beckn.Context, order *beckn.Order) (*beckn.Order, error)
	Init(ctx context.Context, bctx beckn.Context, order *beckn.Order) (*beckn.Order, error)
	Confirm(ctx context.Context, bctx beckn.Context, order *beckn.Order) (*beckn.Order, error)
	Track(ctx context.Context, bctx beckn.Context, orderID string) (*beckn.Order, error)
	Cancel(ctx context.Context, bctx beckn.Context, orderID, reasonID string) (*beckn.Order, error)
	Support(ctx context.Context, bctx beckn.Context, req beckn.SupportRequest) (*beckn.Response, error)
	Register(ctx context.Context, bctx beckn.Context, provider *beckn.Provider) (string, error)
	UpdateCatalog(ctx context.Context, bctx beckn.Context, providerID string, catalog *beckn.Catalog) error
}

// Escrow opens and cancels holds. *escrow.Service implements it.
type Escrow interface {
	CanOpen(ctx context.Context, req escrow.OpenRequest) error
	Open(ctx context.Context, req escrow.OpenRequest) (*escrow.Hold, error)
	Cancel(ctx context.Context, bookingID, reason string) (*escrow.Hold, error)
}

// Store persists orders.
type Store interface {
	Create(ctx context.Context, order *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	GetByTransaction(ctx context.Context, transactionID string) (*Order, error)
	Update(ctx context.Context, order *Order) error
	List(ctx context.Context, state State, limit int) ([]*Order, error)
}

// Notifier is told about every committed state change.
type Notifier interface {
	OrderChanged(ctx context.Context, from State, order *Order)
}

// EventStateChanged is the realtime event name for order transitions.
const EventStateChanged = "order.state_changed"

// Service runs the order lifecycle.
type Service struct {
	contexts *beckn.Factory
	gateway  Gateway
	escrow   Escrow
	store    Store
	notifier Notifier
	locks    *syncutil.KeyedMutex // per transaction
	clock    clock.Clock
	ids      idgen.Provider
	logger   *slog.Logger
}

// NewService creates an orchestrator.
func NewService(contexts *beckn.Factory, gateway Gateway, escrow Escrow, store Store) *Service {
	return &Service{
		contexts: contexts,
		gateway:  gateway,
		escrow:   escrow,
		store:    store,
		locks:    syncutil.NewKeyedMutex(),
		clock:    clock.NewSystem(),
		ids:      idgen.Prefixed(idgen.Default, "ord_"),
		logger:   slog.Default(),
	}
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

// SearchResult is the outcome of a discovery call. Discovery is best
// effort: a failed call yields no providers and records why in Err.
type SearchResult struct {
	TransactionID string
	Providers     []beckn.Provider
	Err           error
	intent        beckn.Intent
}

// All yields the providers with items outside the intent's price bounds
// removed. Providers whose items carry no prices are passed through.
func (r SearchResult) All() iter.Seq[beckn.Provider] {
	return func(yield func(beckn.Provider) bool) {
		for _, p := range r.Providers {
			filtered, ok := r.filter(p)
			if !ok {
				continue
			}
			if !yield(filtered) {
				return
			}
		}
	}
}

func (r SearchResult) filter(p beckn.Provider) (beckn.Provider, bool) {
	lo, hi := r.intent.MinPrice, r.intent.MaxPrice
	if lo == nil && hi == nil {
		return p, true
	}
	priced := false
	items := make([]beckn.Item, 0, len(p.Items))
	for _, it := range p.Items {
		if it.Price == nil {
			items = append(items, it)
			continue
		}
		amt, err := it.Price.Amount()
		if err != nil {
			items = append(items, it)
			continue
		}
		priced = true
		if lo != nil && amt.LessThan(*lo) {
			continue
		}
		if hi != nil && amt.GreaterThan(*hi) {
			continue
		}
		items = append(items, it)
	}
	if !priced {
		return p, true
	}
	if len(items) == 0 {
		return beckn.Provider{}, false
	}
	p.Items = items
	return p, true
}

// Search asks the network for providers matching intent. It never fails;
// transport and parse errors land in the result's Err.
func (s *Service) Search(ctx context.Context, intent beckn.Intent) SearchResult {
	txn := s.contexts.NewTransaction()
	ctx = logging.WithTransactionID(ctx, txn)
	result := SearchResult{TransactionID: txn, intent: intent}

	providers, err := s.gateway.Search(ctx, s.contexts.New(beckn.ActionSearch, txn), intent)
	if err != nil {
		s.logger.Warn("search failed, returning no providers", "transaction_id", txn, "error", err)
		result.Err = err
		return result
	}
	result.Providers = providers
	return result
}

// Select starts a transaction for items of one provider and records the
// order in the selected state.
func (s *Service) Select(ctx context.Context, req SelectRequest) (*Order, error) {
	if strings.TrimSpace(req.ProviderID) == "" || len(req.ItemIDs) == 0 || strings.TrimSpace(req.PayerID) == "" {
		return nil, fmt.Errorf("%w: payerId, providerId and itemIds are required", ErrInvalidRequest)
	}
	qty := max(req.Quantity, 1)

	txn := s.contexts.NewTransaction()
	ctx = logging.WithTransactionID(ctx, txn)
	ctx, span := traces.StartSpan(ctx, "orchestrator.Select", traces.TransactionID(txn))
	var err error
	defer func() { traces.End(span, err) }()

	unlock, err := s.locks.LockContext(ctx, txn)
	if err != nil {
		return nil, err
	}
	defer unlock()

	items := make([]beckn.Item, len(req.ItemIDs))
	for i, id := range req.ItemIDs {
		items[i] = beckn.Item{ID: id, Quantity: &beckn.ItemQuantity{Selected: &beckn.Quantity{Count: qty}}}
	}
	bctx := s.contexts.New(beckn.ActionSelect, txn).WithCounterparty(req.BPPID, req.BPPURI)
	resp, err := s.gateway.Select(ctx, bctx, &beckn.Order{
		Provider: &beckn.OrderProvider{ID: req.ProviderID},
		Items:    items,
	})
	if err != nil {
		return nil, err
	}
	if err = checkSelection(resp, req); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	order := &Order{
		ID:             s.ids.Allocate(),
		TransactionID:  txn,
		State:          StateSelected,
		PayerID:        req.PayerID,
		ProviderID:     req.ProviderID,
		BPPID:          req.BPPID,
		BPPURI:         req.BPPURI,
		Items:          resp.Items,
		Fulfillment:    resp.Fulfillment,
		Quote:          resp.Quote,
		NetworkOrderID: resp.ID,
		NetworkState:   resp.State,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err = s.store.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	s.committed(ctx, StateSearching, order)
	return order.clone(), nil
}

func checkSelection(resp *beckn.Order, req SelectRequest) error {
	if resp == nil {
		return &IntegrityError{Action: beckn.ActionSelect, Invariant: "order present", Err: ErrNoResult}
	}
	if resp.Provider == nil || resp.Provider.ID != req.ProviderID {
		return &IntegrityError{Action: beckn.ActionSelect, Invariant: "provider echoed",
			Err: fmt.Errorf("%w: %s", ErrUnknownProvider, req.ProviderID)}
	}
	known := make(map[string]bool, len(resp.Items))
	for _, it := range resp.Items {
		known[it.ID] = true
	}
	for _, id := range req.ItemIDs {
		if !known[id] {
			return &IntegrityError{Action: beckn.ActionSelect, Invariant: "items echoed",
				Err: fmt.Errorf("%w: %s", ErrUnknownItem, id)}
		}
	}
	return nil
}

// Init sends billing and fulfillment details and accepts the returned quote
// only if its breakup sums exactly to the total.
func (s *Service) Init(ctx context.Context, orderID string, req InitRequest) (*Order, error) {
	if req.Billing == nil || req.Fulfillment == nil {
		return nil, fmt.Errorf("%w: billing and fulfillment are required", ErrInvalidRequest)
	}
	if _, _, ok := req.Fulfillment.StayWindow(); !ok {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, ErrMissingStayDates)
	}

	order, unlock, err := s.lockOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	ctx = logging.WithTransactionID(ctx, order.TransactionID)

	if order.State != StateSelected {
		return nil, &StateError{From: order.State, Action: beckn.ActionInit}
	}

	pending := order.clone()
	pending.Billing = req.Billing
	pending.Fulfillment = req.Fulfillment
	pending.Payment = req.Payment

	bctx := s.contexts.New(beckn.ActionInit, order.TransactionID).WithCounterparty(order.BPPID, order.BPPURI)
	resp, err := s.gateway.Init(ctx, bctx, pending.wire())
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, &IntegrityError{Action: beckn.ActionInit, Invariant: "order present", Err: ErrNoResult}
	}
	if err := validateQuote(resp.Quote); err != nil {
		return nil, &IntegrityError{Action: beckn.ActionInit, Invariant: "quote breakup sums to total", Err: err}
	}
	if err := payable(resp.Quote); err != nil {
		return nil, &IntegrityError{Action: beckn.ActionInit, Invariant: "quote total payable", Err: err}
	}

	pending.Quote = resp.Quote
	if _, _, ok := resp.Fulfillment.StayWindow(); ok {
		pending.Fulfillment = resp.Fulfillment
	}
	if resp.Payment != nil {
		pending.Payment = resp.Payment
	}
	if resp.ID != "" {
		pending.NetworkOrderID = resp.ID
	}
	pending.NetworkState = resp.State
	return s.commit(ctx, order.State, pending, StateInitialized)
}

// Confirm books the order and opens its escrow hold. A repeated call for a
// confirmed transaction returns the existing order and opens nothing.
func (s *Service) Confirm(ctx context.Context, orderID string) (*Order, error) {
	order, unlock, err := s.lockOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	ctx = logging.WithTransactionID(ctx, order.TransactionID)
	ctx, span := traces.StartSpan(ctx, "orchestrator.Confirm",
		traces.OrderID(order.ID), traces.TransactionID(order.TransactionID))
	defer func() { traces.End(span, err) }()

	switch order.State {
	case StateConfirmed, StateTracking, StateCompleted:
		s.logger.Info("confirm repeated, returning existing order", "order_id", order.ID, "transaction_id", order.TransactionID)
		return order, nil
	case StateInitialized:
	default:
		err = &StateError{From: order.State, Action: beckn.ActionConfirm}
		return nil, err
	}

	start, end, ok := order.Fulfillment.StayWindow()
	if !ok {
		err = &IntegrityError{Action: beckn.ActionConfirm, Invariant: "stay window", Err: ErrMissingStayDates}
		return nil, err
	}

	openReq := escrow.OpenRequest{
		BookingID:     order.ID,
		TransactionID: order.TransactionID,
		PayerID:       order.PayerID,
		Amount:        order.Total(),
		Currency:      order.Quote.Price.Currency,
		CheckIn:       start,
		CheckOut:      end,
	}
	// The network must not see a confirm for a booking escrow would refuse.
	if err = s.escrow.CanOpen(ctx, openReq); err != nil {
		if unsettleable(err) {
			err = &IntegrityError{Action: beckn.ActionConfirm, Invariant: "escrow can hold total", Err: err}
		} else {
			err = fmt.Errorf("failed to check escrow: %w", err)
		}
		return nil, err
	}

	bctx := s.contexts.New(beckn.ActionConfirm, order.TransactionID).WithCounterparty(order.BPPID, order.BPPURI)
	resp, err := s.gateway.Confirm(ctx, bctx, order.wire())
	if err != nil {
		return nil, err
	}
	if resp == nil {
		err = &IntegrityError{Action: beckn.ActionConfirm, Invariant: "order present", Err: ErrNoResult}
		return nil, err
	}

	hold, err := s.escrow.Open(ctx, openReq)
	if err != nil {
		s.logger.Error("order confirmed on network but escrow not opened",
			"order_id", order.ID, "transaction_id", order.TransactionID, "error", err)
		err = fmt.Errorf("failed to open escrow: %w", err)
		return nil, err
	}

	pending := order.clone()
	if resp.ID != "" {
		pending.NetworkOrderID = resp.ID
	}
	pending.NetworkState = resp.State
	pending.HoldID = hold.ID
	now := s.clock.Now()
	pending.ConfirmedAt = &now
	s.logger.Info("order confirmed", "order_id", order.ID, "hold_id", hold.ID,
		"amount", money.Format(order.Total()))
	return s.commit(ctx, order.State, pending, StateConfirmed)
}

// Track polls fulfillment status. The first successful poll moves a
// confirmed order to tracking; a completed network state ends the order.
func (s *Service) Track(ctx context.Context, orderID string) (*Order, error) {
	order, unlock, err := s.lockOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	ctx = logging.WithTransactionID(ctx, order.TransactionID)

	if order.State != StateConfirmed && order.State != StateTracking {
		return nil, &StateError{From: order.State, Action: beckn.ActionTrack}
	}

	bctx := s.contexts.New(beckn.ActionTrack, order.TransactionID).WithCounterparty(order.BPPID, order.BPPURI)
	resp, err := s.gateway.Track(ctx, bctx, order.networkRef())
	if err != nil {
		return nil, err
	}

	pending := order.clone()
	next := StateTracking
	if resp != nil {
		if resp.State != "" {
			pending.NetworkState = resp.State
		}
		if resp.Fulfillment != nil && resp.Fulfillment.State != nil {
			if pending.Fulfillment == nil {
				pending.Fulfillment = &beckn.Fulfillment{}
			}
			pending.Fulfillment.State = resp.Fulfillment.State
		}
	}
	if strings.EqualFold(pending.NetworkState, "completed") {
		next = StateCompleted
	}
	return s.commit(ctx, order.State, pending, next)
}

// Cancel cancels a non-terminal order. If a hold exists for the booking,
// the escrow refund policy decides what the payer gets back. Holds are
// found by booking id, so one opened by a Confirm whose order update
// failed is still cancelled.
func (s *Service) Cancel(ctx context.Context, orderID, reason string) (*Order, error) {
	order, unlock, err := s.lockOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	ctx = logging.WithTransactionID(ctx, order.TransactionID)
	ctx, span := traces.StartSpan(ctx, "orchestrator.Cancel",
		traces.OrderID(order.ID), traces.TransactionID(order.TransactionID))
	defer func() { traces.End(span, err) }()

	if order.State.IsTerminal() {
		err = &StateError{From: order.State, Action: beckn.ActionCancel}
		return nil, err
	}

	bctx := s.contexts.New(beckn.ActionCancel, order.TransactionID).WithCounterparty(order.BPPID, order.BPPURI)
	resp, err := s.gateway.Cancel(ctx, bctx, order.networkRef(), reason)
	if err != nil {
		return nil, err
	}

	if order.State != StateSelected {
		if _, err = s.escrow.Cancel(ctx, order.ID, reason); err != nil {
			switch {
			case errors.Is(err, escrow.ErrHoldNotFound):
				err = nil
			case errors.Is(err, escrow.ErrAlreadyResolved):
				err = nil
				s.logger.Info("escrow already settled, cancelling order only", "order_id", order.ID, "hold_id", order.HoldID)
			default:
				err = fmt.Errorf("failed to cancel escrow: %w", err)
				return nil, err
			}
		}
	}

	pending := order.clone()
	if resp != nil && resp.State != "" {
		pending.NetworkState = resp.State
	}
	pending.CancellationReason = reason
	now := s.clock.Now()
	pending.CancelledAt = &now
	return s.commit(ctx, order.State, pending, StateCancelled)
}

// Support escalates an issue on an order in any state. The order itself is
// not changed.
func (s *Service) Support(ctx context.Context, orderID string, req SupportRequest) (*SupportTicket, error) {
	if strings.TrimSpace(req.IssueType) == "" {
		return nil, fmt.Errorf("%w: issueType is required", ErrInvalidRequest)
	}
	order, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithTransactionID(ctx, order.TransactionID)

	now := s.clock.Now()
	bctx := s.contexts.New(beckn.ActionSupport, order.TransactionID).WithCounterparty(order.BPPID, order.BPPURI)
	resp, err := s.gateway.Support(ctx, bctx, beckn.SupportRequest{
		OrderID:   order.networkRef(),
		IssueType: req.IssueType,
		Timestamp: now.UTC().Format(beckn.TimestampFormat),
	})
	if err != nil {
		return nil, err
	}

	ticket := &SupportTicket{OrderID: order.ID, IssueType: req.IssueType, RaisedAt: now}
	if resp != nil && resp.Message != nil {
		ticket.Reply = resp.Message.Support
	}
	return ticket, nil
}

// RegisterProvider announces a provider on the network and returns the id
// the network assigned.
func (s *Service) RegisterProvider(ctx context.Context, provider *beckn.Provider) (string, error) {
	if provider == nil || strings.TrimSpace(provider.ID) == "" {
		return "", fmt.Errorf("%w: provider id is required", ErrInvalidRequest)
	}
	txn := s.contexts.NewTransaction()
	return s.gateway.Register(logging.WithTransactionID(ctx, txn), s.contexts.New(beckn.ActionRegister, txn), provider)
}

// UpdateCatalog replaces a registered provider's catalog on the network.
func (s *Service) UpdateCatalog(ctx context.Context, providerID string, catalog *beckn.Catalog) error {
	if strings.TrimSpace(providerID) == "" || catalog == nil {
		return fmt.Errorf("%w: providerId and catalog are required", ErrInvalidRequest)
	}
	txn := s.contexts.NewTransaction()
	return s.gateway.UpdateCatalog(logging.WithTransactionID(ctx, txn), s.contexts.New(beckn.ActionUpdate, txn), providerID, catalog)
}

func (s *Service) Get(ctx context.Context, orderID string) (*Order, error) {
	return s.store.Get(ctx, orderID)
}

func (s *Service) GetByTransaction(ctx context.Context, transactionID string) (*Order, error) {
	return s.store.GetByTransaction(ctx, transactionID)
}

func (s *Service) List(ctx context.Context, state State, limit int) ([]*Order, error) {
	return s.store.List(ctx, state, limit)
}

// lockOrder enters the order's transaction critical section and returns a
// fresh read taken inside it.
func (s *Service) lockOrder(ctx context.Context, orderID string) (*Order, func(), error) {
	order, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	unlock, err := s.locks.LockContext(ctx, order.TransactionID)
	if err != nil {
		return nil, nil, err
	}
	order, err = s.store.Get(ctx, orderID)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return order, unlock, nil
}

// commit persists pending in state to. Nothing is written before every
// remote step of the action has succeeded.
// unsettleable reports whether an escrow check failed on the booking itself
// rather than on storage.
func unsettleable(err error) bool {
	return errors.Is(err, escrow.ErrInvalidAmount) ||
		errors.Is(err, escrow.ErrInvalidRequest) ||
		errors.Is(err, distribution.ErrNoRules) ||
		errors.Is(err, distribution.ErrUnsatisfiableBounds)
}

func (s *Service) commit(ctx context.Context, from State, pending *Order, to State) (*Order, error) {
	pending.State = to
	pending.UpdatedAt = s.clock.Now()
	if err := s.store.Update(ctx, pending); err != nil {
		return nil, fmt.Errorf("failed to update order: %w", err)
	}
	s.committed(ctx, from, pending)
	return pending.clone(), nil
}

func (s *Service) committed(ctx context.Context, from State, order *Order) {
	if from != order.State {
		metrics.OrderTransitionsTotal.WithLabelValues(string(from), string(order.State)).Inc()
		s.logger.Info("order transition", "order_id", order.ID, "transaction_id", order.TransactionID,
			"from", from, "to", order.State)
	}
	if s.notifier != nil {
		s.notifier.OrderChanged(ctx, from, order.clone())
	}
}
