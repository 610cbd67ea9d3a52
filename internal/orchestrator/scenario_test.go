package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/mbd888/staysettle/internal/beckn"
	"github.com/mbd888/staysettle/internal/clock"
	"github.com/mbd888/staysettle/internal/distribution"
	"github.com/mbd888/staysettle/internal/escrow"
	"github.com/mbd888/staysettle/internal/idgen"
	"github.com/mbd888/staysettle/internal/ledger"
	"github.com/mbd888/staysettle/internal/retry"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// networkStub plays a provider platform behind the gateway.
type networkStub struct {
	mu       sync.Mutex
	contexts []beckn.Context
}

func (n *networkStub) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Context beckn.Context   `json:"context"`
			Message json.RawMessage `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		n.mu.Lock()
		n.contexts = append(n.contexts, req.Context)
		n.mu.Unlock()

		var order struct {
			Order beckn.Order `json:"order"`
		}
		_ = json.Unmarshal(req.Message, &order)

		var reply any
		switch req.Context.Action {
		case beckn.ActionSearch:
			reply = map[string]any{"catalog": beckn.Catalog{Providers: []beckn.Provider{{
				ID:    "homestay-1",
				Items: []beckn.Item{{ID: "cottage", Price: &beckn.Price{Currency: "INR", Value: "10000"}}},
			}}}}
		case beckn.ActionSelect:
			o := order.Order
			o.Items[0].Price = &beckn.Price{Currency: "INR", Value: "10000"}
			reply = map[string]any{"order": o}
		case beckn.ActionInit:
			o := order.Order
			o.ID = "net-ord-42"
			o.Quote = &beckn.Quote{
				Price: beckn.Price{Currency: "INR", Value: "10000"},
				Breakup: []beckn.BreakupLine{
					{Title: "host stay", Price: beckn.Price{Currency: "INR", Value: "7000"}},
					{Title: "community fund", Price: beckn.Price{Currency: "INR", Value: "3000"}},
				},
			}
			reply = map[string]any{"order": o}
		case beckn.ActionConfirm:
			o := order.Order
			o.State = "Created"
			reply = map[string]any{"order": o}
		case beckn.ActionCancel:
			reply = map[string]any{"order": beckn.Order{ID: "net-ord-42", State: "Cancelled"}}
		default:
			reply = map[string]any{}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"context": req.Context, "message": reply})
	})
}

type stack struct {
	orders  *Service
	escrow  *escrow.Service
	ledger  *ledger.Ledger
	clock   *clock.Manual
	network *networkStub
}

func newStack(t *testing.T) *stack {
	t.Helper()
	ctx := context.Background()

	rules := distribution.NewLedger(distribution.NewMemoryStore())
	_, err := rules.RegisterRules(ctx, distribution.RegisterRequest{
		Rules: []distribution.Rule{
			{StakeholderID: "stakeholder-a", Role: "host", Percentage: decimal.NewFromInt(70), WalletReference: "a@upi"},
			{StakeholderID: "stakeholder-b", Role: "community", Percentage: decimal.NewFromInt(30), WalletReference: "b@upi"},
		},
		PenaltyStakeholderID: "stakeholder-b",
	})
	require.NoError(t, err)

	st := &stack{
		ledger:  ledger.New(ledger.NewMemoryStore()),
		clock:   clock.NewManual(t0),
		network: &networkStub{},
	}
	srv := httptest.NewServer(st.network.handler(t))
	t.Cleanup(srv.Close)

	st.escrow = escrow.NewService(escrow.NewMemoryStore(), ledger.NewEscrowAccounts(st.ledger), rules).
		WithClock(st.clock)

	client := beckn.NewClient(beckn.Config{BaseURL: srv.URL, APIKey: "k", Timeout: 2 * time.Second}, nil).
		WithRetryPolicy(retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond})
	contexts := beckn.NewFactory(beckn.Network{
		Domain: "rural-tourism", Country: "IND", City: "std:080", CoreVersion: "1.2.0",
		BAPID: "villagestay.com", BAPURI: "https://villagestay.com/beckn",
	}).WithClock(st.clock)
	st.orders = NewService(contexts, client, st.escrow, NewMemoryStore()).
		WithClock(st.clock).
		WithIDs(idgen.NewSequence("bk"))
	return st
}

func (st *stack) book(t *testing.T) *Order {
	t.Helper()
	ctx := context.Background()

	result := st.orders.Search(ctx, beckn.Intent{GPS: "12.9,77.6", Guests: 2})
	require.NoError(t, result.Err)
	require.Len(t, result.Providers, 1)
	provider := result.Providers[0]

	o, err := st.orders.Select(ctx, SelectRequest{PayerID: "guest-1", ProviderID: provider.ID, ItemIDs: []string{"cottage"}})
	require.NoError(t, err)
	o, err = st.orders.Init(ctx, o.ID, InitRequest{Billing: &beckn.Billing{Name: "Asha"}, Fulfillment: stay()})
	require.NoError(t, err)

	confirmed, err := st.orders.Confirm(ctx, o.ID)
	require.NoError(t, err)
	again, err := st.orders.Confirm(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, confirmed.HoldID, again.HoldID)
	return confirmed
}

func balance(t *testing.T, l *ledger.Ledger, account string) *ledger.Balance {
	t.Helper()
	b, err := l.Balance(context.Background(), account)
	require.NoError(t, err)
	return b
}

func TestScenario_CheckInCheckOutReleases(t *testing.T) {
	st := newStack(t)
	ctx := context.Background()
	o := st.book(t)

	holds, err := st.escrow.ListByStatus(ctx, escrow.StatusHeld, 10)
	require.NoError(t, err)
	require.Len(t, holds, 1, "two confirms open exactly one hold")
	assert.True(t, balance(t, st.ledger, "guest-1").Escrowed.Equal(decimal.NewFromInt(10000)))

	st.clock.Set(checkIn)
	hold, err := st.escrow.ConfirmCheckIn(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusHeld, hold.Status)

	st.clock.Set(checkOut)
	hold, err = st.escrow.ConfirmCheckOut(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusReleased, hold.Status)

	assert.True(t, balance(t, st.ledger, "stakeholder-a").Received.Equal(decimal.NewFromInt(7000)))
	assert.True(t, balance(t, st.ledger, "stakeholder-b").Received.Equal(decimal.NewFromInt(3000)))
	assert.True(t, balance(t, st.ledger, "guest-1").Escrowed.IsZero())

	// A late duplicate signal pays nothing more.
	_, err = st.escrow.ConfirmCheckOut(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, balance(t, st.ledger, "stakeholder-a").Received.Equal(decimal.NewFromInt(7000)))

	seen := map[string]bool{}
	for _, bctx := range st.network.contexts[1:] {
		assert.Equal(t, o.TransactionID, bctx.TransactionID)
		assert.False(t, seen[bctx.MessageID])
		seen[bctx.MessageID] = true
	}
}

func TestScenario_CancelBeforeDeadlineRefunds(t *testing.T) {
	st := newStack(t)
	ctx := context.Background()
	o := st.book(t)

	// Deadline is one day before check-in; cancel two days before that.
	st.clock.Set(checkIn.Add(-24 * time.Hour).Add(-48 * time.Hour))
	cancelled, err := st.orders.Cancel(ctx, o.ID, "change of plans")
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, cancelled.State)
	assert.Equal(t, "Cancelled", cancelled.NetworkState)

	hold, err := st.escrow.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusRefunded, hold.Status)
	assert.True(t, hold.RefundAmount.Equal(decimal.NewFromInt(8000)))
	assert.True(t, hold.Policy.PenaltyAmount.Equal(decimal.NewFromInt(2000)))

	assert.True(t, balance(t, st.ledger, "guest-1").Refunded.Equal(decimal.NewFromInt(8000)))
	assert.True(t, balance(t, st.ledger, "stakeholder-b").Received.Equal(decimal.NewFromInt(2000)))
	assert.True(t, balance(t, st.ledger, "stakeholder-a").Received.IsZero())
}

func TestScenario_CancelAfterDeadlineForfeits(t *testing.T) {
	st := newStack(t)
	o := st.book(t)

	st.clock.Set(checkIn.Add(-time.Hour))
	_, err := st.orders.Cancel(context.Background(), o.ID, "")
	require.NoError(t, err)

	hold, err := st.escrow.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.True(t, hold.RefundAmount.IsZero())
	assert.True(t, balance(t, st.ledger, "guest-1").Refunded.IsZero())
	assert.True(t, balance(t, st.ledger, "stakeholder-b").Received.Equal(decimal.NewFromInt(10000)))
}
