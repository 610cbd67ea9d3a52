package ledger

import (
	"context"
	"testing"

	"github.com/mbd888/staysettle/internal/distribution"
	"github.com/mbd888/staysettle/internal/escrow"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscrowAccountsMapsDuplicateSettlement(t *testing.T) {
	ctx := context.Background()
	acc := NewEscrowAccounts(New(NewMemoryStore()))
	total := decimal.NewFromInt(100)
	shares := []distribution.Share{{StakeholderID: "host-1", Amount: total}}

	require.NoError(t, acc.EscrowLock(ctx, "guest-1", total, "esc_1"))
	require.NoError(t, acc.EscrowLock(ctx, "guest-1", total, "esc_1"), "repeated lock is absorbed")

	require.NoError(t, acc.Disburse(ctx, "guest-1", total, shares, "esc_1"))
	err := acc.Disburse(ctx, "guest-1", total, shares, "esc_1")
	assert.ErrorIs(t, err, escrow.ErrAlreadySettled)

	err = acc.Refund(ctx, "guest-1", total, total, nil, "esc_1")
	assert.ErrorIs(t, err, escrow.ErrAlreadySettled, "refund after release shares the settle reference")
}
