// Package reconciliation cross-checks escrow holds against the settlement ledger.
//
// A hold that is still held must have its lock recorded and no settlement.
// A released or refunded hold must have exactly one settlement whose entries
// account for the full locked amount, matching what the hold says was paid.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mbd888/staysettle/internal/clock"
	"github.com/mbd888/staysettle/internal/escrow"
	"github.com/mbd888/staysettle/internal/ledger"
	"github.com/mbd888/staysettle/internal/money"
	"github.com/shopspring/decimal"
)

// HoldLister lists escrow holds by status.
type HoldLister interface {
	ListByStatus(ctx context.Context, status escrow.Status, limit int) ([]*escrow.Hold, error)
}

// EntryReader returns the ledger entries recorded under a reference.
type EntryReader interface {
	ByReference(ctx context.Context, reference string) ([]*ledger.Entry, error)
}

// Mismatch describes one hold whose ledger record disagrees with it.
type Mismatch struct {
	BookingID string        `json:"bookingId"`
	HoldID    string        `json:"holdId"`
	Status    escrow.Status `json:"status"`
	Problem   string        `json:"problem"`
}

// Report is the outcome of one reconciliation run.
type Report struct {
	Checked    int           `json:"checked"`
	Mismatches []Mismatch    `json:"mismatches"`
	RanAt      time.Time     `json:"ranAt"`
	Duration   time.Duration `json:"durationNs"`
}

// Clean reports whether the run found nothing wrong.
func (r *Report) Clean() bool { return len(r.Mismatches) == 0 }

// Service performs reconciliation between escrow and the ledger.
type Service struct {
	holds   HoldLister
	entries EntryReader
	clock   clock.Clock
	limit   int

	mu   sync.Mutex
	last *Report
}

// NewService creates a reconciliation service.
func NewService(holds HoldLister, entries EntryReader) *Service {
	return &Service{
		holds:   holds,
		entries: entries,
		clock:   clock.NewSystem(),
		limit:   1000,
	}
}

// WithClock replaces the time source.
func (s *Service) WithClock(c clock.Clock) *Service {
	s.clock = c
	return s
}

// WithLimit caps how many holds of each status one run inspects.
func (s *Service) WithLimit(n int) *Service {
	if n > 0 {
		s.limit = n
	}
	return s
}

// Last returns the most recent report, or nil before the first run.
func (s *Service) Last() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Run checks every held, released and refunded hold.
func (s *Service) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{RanAt: s.clock.Now(), Mismatches: []Mismatch{}}

	for _, status := range []escrow.Status{escrow.StatusHeld, escrow.StatusReleased, escrow.StatusRefunded} {
		holds, err := s.holds.ListByStatus(ctx, status, s.limit)
		if err != nil {
			reconcileErrors.Inc()
			return nil, fmt.Errorf("failed to list %s holds: %w", status, err)
		}
		for _, h := range holds {
			problem, err := s.check(ctx, h)
			if err != nil {
				reconcileErrors.Inc()
				return nil, fmt.Errorf("failed to check hold %s: %w", h.ID, err)
			}
			report.Checked++
			if problem != "" {
				report.Mismatches = append(report.Mismatches, Mismatch{
					BookingID: h.BookingID,
					HoldID:    h.ID,
					Status:    h.Status,
					Problem:   problem,
				})
			}
		}
	}

	report.Duration = time.Since(start)
	reconcileDuration.Observe(report.Duration.Seconds())
	reconcileMismatches.Set(float64(len(report.Mismatches)))
	reconcileChecked.Set(float64(report.Checked))

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()
	return report, nil
}

// check returns a description of what is wrong with h, or "" when it agrees
// with the ledger.
func (s *Service) check(ctx context.Context, h *escrow.Hold) (string, error) {
	lock, err := s.lookup(ctx, ledger.LockReference(h.ID))
	if err != nil {
		return "", err
	}
	if len(lock) == 0 {
		return "escrow lock missing from ledger", nil
	}
	if locked := sumOf(lock, ledger.EntryEscrowLock); !locked.Equal(h.TotalAmount) {
		return fmt.Sprintf("locked %s, hold total %s", money.Format(locked), money.Format(h.TotalAmount)), nil
	}

	settlement, err := s.lookup(ctx, ledger.SettleReference(h.ID))
	if err != nil {
		return "", err
	}

	if h.Status == escrow.StatusHeld {
		if len(settlement) > 0 {
			return "settlement recorded for a hold that is still held", nil
		}
		return "", nil
	}

	if len(settlement) == 0 {
		return "settlement missing from ledger", nil
	}
	released := sumOf(settlement, ledger.EntryEscrowRelease)
	if !released.Equal(h.TotalAmount) {
		return fmt.Sprintf("released %s, hold total %s", money.Format(released), money.Format(h.TotalAmount)), nil
	}
	paidOut := sumOf(settlement, ledger.EntryPayout, ledger.EntryPenalty, ledger.EntryRefund)
	if !paidOut.Equal(h.TotalAmount) {
		return fmt.Sprintf("settlement entries sum to %s, hold total %s", money.Format(paidOut), money.Format(h.TotalAmount)), nil
	}

	switch h.Status {
	case escrow.StatusReleased:
		want := decimal.Zero
		for _, p := range h.Payouts {
			want = want.Add(p.Amount)
		}
		if got := sumOf(settlement, ledger.EntryPayout); !got.Equal(want) {
			return fmt.Sprintf("ledger payouts %s, hold payouts %s", money.Format(got), money.Format(want)), nil
		}
	case escrow.StatusRefunded:
		if got := sumOf(settlement, ledger.EntryRefund); !got.Equal(h.RefundAmount) {
			return fmt.Sprintf("ledger refund %s, hold refund %s", money.Format(got), money.Format(h.RefundAmount)), nil
		}
	}
	return "", nil
}

func (s *Service) lookup(ctx context.Context, reference string) ([]*ledger.Entry, error) {
	entries, err := s.entries.ByReference(ctx, reference)
	if errors.Is(err, ledger.ErrReferenceNotFound) {
		return nil, nil
	}
	return entries, err
}

func sumOf(entries []*ledger.Entry, types ...ledger.EntryType) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		for _, t := range types {
			if e.Type == t {
				total = total.Add(e.Amount)
				break
			}
		}
	}
	return total
}
