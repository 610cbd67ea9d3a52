package ledger

import (
	"context"
	"errors"

	"github.com/mbd888/staysettle/internal/distribution"
	"github.com/mbd888/staysettle/internal/escrow"
	"github.com/shopspring/decimal"
)

// EscrowAccounts exposes the ledger to the escrow engine. A settlement that
// is already recorded comes back as escrow.ErrAlreadySettled.
type EscrowAccounts struct {
	ledger *Ledger
}

// NewEscrowAccounts wraps l for the escrow engine.
func NewEscrowAccounts(l *Ledger) *EscrowAccounts {
	return &EscrowAccounts{ledger: l}
}

// EscrowLock treats a repeated lock for the same hold as done; hold ids are
// never reused.
func (a *EscrowAccounts) EscrowLock(ctx context.Context, payerID string, amount decimal.Decimal, reference string) error {
	err := a.ledger.EscrowLock(ctx, payerID, amount, reference)
	if errors.Is(err, ErrDuplicateReference) {
		return nil
	}
	return err
}

func (a *EscrowAccounts) Disburse(ctx context.Context, payerID string, total decimal.Decimal, shares []distribution.Share, reference string) error {
	return settled(a.ledger.Disburse(ctx, payerID, total, shares, reference))
}

func (a *EscrowAccounts) Refund(ctx context.Context, payerID string, total, refund decimal.Decimal, penalty []distribution.Share, reference string) error {
	return settled(a.ledger.Refund(ctx, payerID, total, refund, penalty, reference))
}

func settled(err error) error {
	if errors.Is(err, ErrDuplicateReference) {
		return escrow.ErrAlreadySettled
	}
	return err
}

var _ escrow.LedgerService = (*EscrowAccounts)(nil)
