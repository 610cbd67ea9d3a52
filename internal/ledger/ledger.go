// Package ledger records settlement money movements.
//
// Flow:
//  1. Booking confirmed: payer funds locked (escrow_lock)
//  2. Hold released: locked funds paid out to stakeholders (escrow_release + payout)
//  3. Hold refunded: locked funds split between payer refund and penalty recipient
//
// Every movement is appended as a batch under a unique reference, so a
// settlement can be recorded at most once no matter how often it is retried.
// Each entry carries a keccak-256 receipt hash that a chain-backed settlement
// backend can anchor.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mbd888/staysettle/internal/clock"
	"github.com/mbd888/staysettle/internal/distribution"
	"github.com/mbd888/staysettle/internal/idgen"
	"github.com/mbd888/staysettle/internal/money"
	"github.com/shopspring/decimal"
)

var (
	ErrDuplicateReference = errors.New("ledger reference already recorded")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrUnbalanced         = errors.New("settlement does not balance against locked amount")
	ErrReferenceNotFound  = errors.New("ledger reference not found")
)

// EntryType classifies a ledger entry.
type EntryType string

const (
	EntryEscrowLock    EntryType = "escrow_lock"
	EntryEscrowRelease EntryType = "escrow_release"
	EntryPayout        EntryType = "payout"
	EntryPenalty       EntryType = "penalty"
	EntryRefund        EntryType = "refund"
)

// Entry is one line of a recorded movement.
type Entry struct {
	ID              string          `json:"id"`
	Reference       string          `json:"reference"`
	Type            EntryType       `json:"type"`
	AccountID       string          `json:"accountId"`
	WalletReference string          `json:"walletReference,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	TxHash          string          `json:"txHash"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// Balance aggregates an account's settlement position.
type Balance struct {
	AccountID string          `json:"accountId"`
	Escrowed  decimal.Decimal `json:"escrowed"` // locked and not yet settled
	Received  decimal.Decimal `json:"received"` // payouts and penalties credited
	Refunded  decimal.Decimal `json:"refunded"` // returned to the account as payer
}

// Store persists ledger entries.
type Store interface {
	// AppendBatch records entries under reference atomically.
	// Returns ErrDuplicateReference if reference was already recorded.
	AppendBatch(ctx context.Context, reference string, entries []*Entry) error
	ByReference(ctx context.Context, reference string) ([]*Entry, error)
	ByAccount(ctx context.Context, accountID string, limit int) ([]*Entry, error)
	Balance(ctx context.Context, accountID string) (*Balance, error)
}

// Ledger records escrow locks and settlements.
type Ledger struct {
	store Store
	ids   idgen.Provider
	clock clock.Clock
}

// New creates a new ledger
func New(store Store) *Ledger {
	return &Ledger{
		store: store,
		ids:   idgen.Prefixed(idgen.Default, "le_"),
		clock: clock.NewSystem(),
	}
}

// WithClock replaces the time source.
func (l *Ledger) WithClock(c clock.Clock) *Ledger {
	l.clock = c
	return l
}

// WithIDs replaces the entry id provider.
func (l *Ledger) WithIDs(p idgen.Provider) *Ledger {
	l.ids = p
	return l
}

// LockReference is the ledger key for a hold's escrow lock.
func LockReference(holdRef string) string { return "lock:" + holdRef }

// SettleReference is the ledger key for a hold's one and only settlement.
func SettleReference(holdRef string) string { return "settle:" + holdRef }

// EscrowLock records the payer's funds entering escrow.
func (l *Ledger) EscrowLock(ctx context.Context, payerID string, amount decimal.Decimal, reference string) error {
	done := observeOp("escrow_lock")
	defer done()

	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	ref := LockReference(reference)
	entries := []*Entry{l.entry(ref, EntryEscrowLock, payerID, "", amount, 0)}
	return l.append(ctx, ref, entries)
}

// Disburse pays a released hold out to stakeholders. The shares must sum to
// total exactly.
func (l *Ledger) Disburse(ctx context.Context, payerID string, total decimal.Decimal, shares []distribution.Share, reference string) error {
	done := observeOp("disburse")
	defer done()

	if !money.Sum(shareAmounts(shares)...).Equal(total) {
		return fmt.Errorf("%w: shares %s, total %s", ErrUnbalanced,
			money.Format(money.Sum(shareAmounts(shares)...)), money.Format(total))
	}

	ref := SettleReference(reference)
	entries := []*Entry{l.entry(ref, EntryEscrowRelease, payerID, "", total, 0)}
	for i, s := range shares {
		if s.Amount.IsZero() {
			continue
		}
		entries = append(entries, l.entry(ref, EntryPayout, s.StakeholderID, s.WalletReference, s.Amount, i+1))
	}
	return l.append(ctx, ref, entries)
}

// Refund settles a cancelled or refunded hold: refund goes back to the payer,
// penalty shares go to their stakeholders. refund plus penalties must equal total.
func (l *Ledger) Refund(ctx context.Context, payerID string, total, refund decimal.Decimal, penalty []distribution.Share, reference string) error {
	done := observeOp("refund")
	defer done()

	if refund.IsNegative() {
		return ErrInvalidAmount
	}
	settled := refund.Add(money.Sum(shareAmounts(penalty)...))
	if !settled.Equal(total) {
		return fmt.Errorf("%w: settled %s, total %s", ErrUnbalanced, money.Format(settled), money.Format(total))
	}

	ref := SettleReference(reference)
	entries := []*Entry{l.entry(ref, EntryEscrowRelease, payerID, "", total, 0)}
	if refund.IsPositive() {
		entries = append(entries, l.entry(ref, EntryRefund, payerID, "", refund, 1))
	}
	for i, s := range penalty {
		if s.Amount.IsZero() {
			continue
		}
		entries = append(entries, l.entry(ref, EntryPenalty, s.StakeholderID, s.WalletReference, s.Amount, i+2))
	}
	return l.append(ctx, ref, entries)
}

// Balance returns an account's settlement position.
func (l *Ledger) Balance(ctx context.Context, accountID string) (*Balance, error) {
	return l.store.Balance(ctx, strings.TrimSpace(accountID))
}

// Entries returns an account's most recent entries.
func (l *Ledger) Entries(ctx context.Context, accountID string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.store.ByAccount(ctx, strings.TrimSpace(accountID), limit)
}

// ByReference returns the entries recorded under a reference.
func (l *Ledger) ByReference(ctx context.Context, reference string) ([]*Entry, error) {
	entries, err := l.store.ByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrReferenceNotFound
	}
	return entries, nil
}

func (l *Ledger) append(ctx context.Context, reference string, entries []*Entry) error {
	if err := l.store.AppendBatch(ctx, reference, entries); err != nil {
		if errors.Is(err, ErrDuplicateReference) {
			LedgerDuplicatesTotal.Inc()
		}
		return err
	}
	return nil
}

func (l *Ledger) entry(reference string, typ EntryType, account, wallet string, amount decimal.Decimal, seq int) *Entry {
	return &Entry{
		ID:              l.ids.Allocate(),
		Reference:       reference,
		Type:            typ,
		AccountID:       account,
		WalletReference: wallet,
		Amount:          amount,
		TxHash:          ReceiptHash(reference, typ, account, amount, seq),
		CreatedAt:       l.clock.Now(),
	}
}

// ReceiptHash is the keccak-256 digest identifying one entry of a batch.
// It depends only on the movement itself, so replays produce the same hash.
func ReceiptHash(reference string, typ EntryType, account string, amount decimal.Decimal, seq int) string {
	payload := fmt.Sprintf("%s|%s|%s|%s|%d", reference, typ, account, money.Format(amount), seq)
	return crypto.Keccak256Hash([]byte(payload)).Hex()
}

func shareAmounts(shares []distribution.Share) []decimal.Decimal {
	out := make([]decimal.Decimal, len(shares))
	for i, s := range shares {
		out[i] = s.Amount
	}
	return out
}
