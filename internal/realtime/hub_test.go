package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/mbd888/staysettle/internal/escrow"
	"github.com/mbd888/staysettle/internal/governance"
	"github.com/mbd888/staysettle/internal/orchestrator"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	event := &Event{Type: EventEscrowOpened, Timestamp: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventEscrowReleased, EventEscrowRefunded},
	}}

	if !h.shouldSend(client, &Event{Type: EventEscrowReleased}) {
		t.Error("Should receive release events")
	}
	if !h.shouldSend(client, &Event{Type: EventEscrowRefunded}) {
		t.Error("Should receive refund events")
	}
	if h.shouldSend(client, &Event{Type: EventOrderStateChanged}) {
		t.Error("Should NOT receive order events")
	}
}

func TestShouldSend_BookingFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{BookingIDs: []string{"bk-1"}}}

	if !h.shouldSend(client, &Event{Type: EventEscrowOpened, BookingID: "bk-1"}) {
		t.Error("Should match on booking")
	}
	if h.shouldSend(client, &Event{Type: EventEscrowOpened, BookingID: "bk-2"}) {
		t.Error("Should NOT match other bookings")
	}
	if !h.shouldSend(client, &Event{Type: EventProposalOpened}) {
		t.Error("Events without a booking pass the booking filter")
	}
}

func TestShouldSend_CombinedFilters(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventOrderStateChanged},
		BookingIDs: []string{"bk-1"},
	}}

	if !h.shouldSend(client, &Event{Type: EventOrderStateChanged, BookingID: "bk-1"}) {
		t.Error("Should receive matching type and booking")
	}
	if h.shouldSend(client, &Event{Type: EventEscrowReleased, BookingID: "bk-1"}) {
		t.Error("Type filter still applies")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()

	// No filters, not AllEvents
	client := &Client{sub: Subscription{}}

	if !h.shouldSend(client, &Event{Type: EventEscrowOpened}) {
		t.Error("Empty subscription (no filters) should receive events")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_BroadcastAndStats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Broadcast an event
	h.Broadcast(&Event{Type: EventEscrowOpened, Timestamp: time.Now()})
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["totalEvents"].(int64) != 1 {
		t.Errorf("Expected 1 total event, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak 1, got %v", stats["peakClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
	// Peak should still be 1
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peakClients"])
	}
}

func TestHub_BroadcastToClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(&Event{
		Type:      EventEscrowOpened,
		Timestamp: time.Now(),
		Data:      map[string]any{"amount": "5.00"},
	})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for broadcast")
	}
}

func TestHub_NotifierEvents(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{BookingIDs: []string{"bk-1"}},
	}
	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.OrderChanged(ctx, orchestrator.StateInitialized, &orchestrator.Order{ID: "bk-1", TransactionID: "txn-1", State: orchestrator.StateConfirmed})
	h.HoldChanged(ctx, escrow.EventOpened, &escrow.Hold{ID: "esc_1", BookingID: "bk-2"})
	h.ProposalChanged(ctx, governance.EventOpened, &governance.Proposal{ID: "prop_1", BookingID: "bk-1"})

	var got []Event
	for range 2 {
		select {
		case msg := <-client.send:
			var e Event
			if err := json.Unmarshal(msg, &e); err != nil {
				t.Fatalf("decode event: %v", err)
			}
			got = append(got, e)
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d events", len(got))
		}
	}
	if got[0].Type != EventOrderStateChanged || got[0].TransactionID != "txn-1" {
		t.Errorf("unexpected first event %+v", got[0])
	}
	if got[1].Type != EventProposalOpened {
		t.Errorf("expected proposal event, got %s", got[1].Type)
	}

	select {
	case msg := <-client.send:
		t.Errorf("unexpected extra event %s", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// Hub stopped
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Client only wants releases
	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{EventTypes: []EventType{EventEscrowReleased}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	// Send an open event (should be filtered out)
	h.Broadcast(&Event{Type: EventEscrowOpened, Timestamp: time.Now()})
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Client should NOT receive open event")
	default:
		// Good - filtered out
	}

	// Send a release event (should be received)
	h.Broadcast(&Event{Type: EventEscrowReleased, Timestamp: time.Now()})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Client should receive release event")
	}
}
