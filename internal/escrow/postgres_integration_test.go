//go:build integration

package escrow_test

import (
	"context"
	"testing"
	"time"

	"github.com/mbd888/staysettle/internal/clock"
	"github.com/mbd888/staysettle/internal/distribution"
	"github.com/mbd888/staysettle/internal/escrow"
	"github.com/mbd888/staysettle/internal/ledger"
	"github.com/mbd888/staysettle/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgres_ReleaseOnCheckOut(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	ctx := context.Background()

	clk := clock.NewManual(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	rules := distribution.NewLedger(distribution.NewPostgresStore(db)).WithClock(clk)
	_, err := rules.RegisterRules(ctx, distribution.RegisterRequest{
		Rules: []distribution.Rule{
			{StakeholderID: "host-1", Role: "host", Percentage: decimal.NewFromInt(70), WalletReference: "host@upi"},
			{StakeholderID: "community-1", Role: "community", Percentage: decimal.NewFromInt(30), WalletReference: "community@upi"},
		},
	})
	require.NoError(t, err)

	book := ledger.New(ledger.NewPostgresStore(db)).WithClock(clk)
	svc := escrow.NewService(escrow.NewPostgresStore(db), ledger.NewEscrowAccounts(book), rules).WithClock(clk)

	_, err = svc.Open(ctx, escrow.OpenRequest{
		BookingID: "ord_1",
		PayerID:   "guest-1",
		Amount:    decimal.RequireFromString("10000.01"),
		CheckIn:   time.Date(2026, 6, 10, 14, 0, 0, 0, time.UTC),
		CheckOut:  time.Date(2026, 6, 12, 11, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	again, err := svc.Open(ctx, escrow.OpenRequest{
		BookingID: "ord_1",
		PayerID:   "guest-1",
		Amount:    decimal.NewFromInt(1),
		CheckIn:   time.Date(2026, 6, 10, 14, 0, 0, 0, time.UTC),
		CheckOut:  time.Date(2026, 6, 12, 11, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.True(t, again.TotalAmount.Equal(decimal.RequireFromString("10000.01")), "reopen returned %s", again.TotalAmount)

	_, err = svc.ConfirmCheckIn(ctx, "ord_1")
	require.NoError(t, err)
	hold, err := svc.ConfirmCheckOut(ctx, "ord_1")
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusReleased, hold.Status)

	reloaded, err := svc.Get(ctx, "ord_1")
	require.NoError(t, err)
	require.Len(t, reloaded.Payouts, 2)
	total := decimal.Zero
	for _, p := range reloaded.Payouts {
		total = total.Add(p.Amount)
	}
	assert.True(t, total.Equal(decimal.RequireFromString("10000.01")), "payouts sum to %s", total)

	host, err := book.Balance(ctx, "host-1")
	require.NoError(t, err)
	assert.True(t, host.Received.Equal(decimal.RequireFromString("7000.01")), "host received %s", host.Received)

	guest, err := book.Balance(ctx, "guest-1")
	require.NoError(t, err)
	assert.True(t, guest.Escrowed.IsZero(), "guest still escrowed %s", guest.Escrowed)
}

func TestPostgres_StaleUpdateRejected(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	ctx := context.Background()

	clk := clock.NewManual(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	rules := distribution.NewLedger(distribution.NewPostgresStore(db)).WithClock(clk)
	_, err := rules.RegisterRules(ctx, distribution.RegisterRequest{
		Rules: []distribution.Rule{
			{StakeholderID: "host-1", Role: "host", Percentage: decimal.NewFromInt(100), WalletReference: "host@upi"},
		},
	})
	require.NoError(t, err)

	store := escrow.NewPostgresStore(db)
	book := ledger.New(ledger.NewPostgresStore(db)).WithClock(clk)
	svc := escrow.NewService(store, ledger.NewEscrowAccounts(book), rules).WithClock(clk)
	_, err = svc.Open(ctx, escrow.OpenRequest{
		BookingID: "ord_2",
		PayerID:   "guest-1",
		Amount:    decimal.NewFromInt(500),
		CheckIn:   time.Date(2026, 6, 10, 14, 0, 0, 0, time.UTC),
		CheckOut:  time.Date(2026, 6, 12, 11, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	// Two replicas read the same row.
	first, err := store.Get(ctx, "ord_2")
	require.NoError(t, err)
	second, err := store.Get(ctx, "ord_2")
	require.NoError(t, err)

	first.Conditions.CheckInConfirmed = true
	first.UpdatedAt = first.UpdatedAt.Add(time.Second)
	require.NoError(t, store.Update(ctx, first))

	second.Conditions.CheckOutConfirmed = true
	second.UpdatedAt = second.UpdatedAt.Add(2 * time.Second)
	assert.ErrorIs(t, store.Update(ctx, second), escrow.ErrStaleHold)

	got, err := store.Get(ctx, "ord_2")
	require.NoError(t, err)
	assert.True(t, got.Conditions.CheckInConfirmed)
	assert.False(t, got.Conditions.CheckOutConfirmed)
}
