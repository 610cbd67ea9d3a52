package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Timer periodically records timeouts on holds past their release deadline,
// releasing those with no open dispute.
type Timer struct {
	service  *Service
	store    Store
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates a new escrow timeout timer.
func NewTimer(service *Service, store Store, interval time.Duration, logger *slog.Logger) *Timer {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Timer{
		service:  service,
		store:    store,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the timeout loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeSweep(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in escrow timer", "panic", fmt.Sprint(r))
		}
	}()
	t.sweep(ctx)
}

// sweep processes one batch of due holds and returns how many it touched.
func (t *Timer) sweep(ctx context.Context) int {
	due, err := t.store.ListDue(ctx, t.service.clock.Now(), 100)
	if err != nil {
		t.logger.Warn("failed to list due escrow holds", "error", err)
		return 0
	}

	for _, hold := range due {
		updated, err := t.service.CheckTimeout(ctx, hold.BookingID)
		if err != nil {
			t.logger.Warn("failed to apply escrow timeout",
				"bookingId", hold.BookingID,
				"error", err,
			)
			continue
		}
		if updated.Status == StatusReleased {
			t.logger.Info("auto-released escrow",
				"bookingId", updated.BookingID,
				"amount", updated.TotalAmount.StringFixed(2),
			)
		} else {
			t.logger.Debug("escrow timeout recorded, dispute still open",
				"bookingId", updated.BookingID,
				"proposalId", updated.ProposalID,
			)
		}
	}
	return len(due)
}
