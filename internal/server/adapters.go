package server

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/mbd888/staysettle/internal/escrow"
	"github.com/mbd888/staysettle/internal/governance"
)

// Proposal actions offered on every dispute vote. A passing vote releases.
var disputeActions = []string{string(escrow.OutcomeRelease), string(escrow.OutcomeRefund)}

// disputeArbiter opens a governance proposal for a disputed hold.
type disputeArbiter struct {
	governance *governance.Service
}

func (a *disputeArbiter) OpenArbitration(ctx context.Context, hold *escrow.Hold, raisedBy, reason string) (string, error) {
	p, err := a.governance.Open(ctx, governance.OpenRequest{
		Title:       fmt.Sprintf("Dispute on booking %s", hold.BookingID),
		Description: reason,
		Proposer:    raisedBy,
		BookingID:   hold.BookingID,
		Actions:     slices.Clone(disputeActions),
	})
	if err != nil {
		return "", err
	}
	return p.ID, nil
}

// disputeResolver delivers a finalized proposal to the disputed hold.
type disputeResolver struct {
	escrow *escrow.Service
}

func (r *disputeResolver) ResolveDispute(ctx context.Context, bookingID string, release bool) error {
	outcome := escrow.OutcomeRefund
	if release {
		outcome = escrow.OutcomeRelease
	}
	_, err := r.escrow.ResolveDispute(ctx, bookingID, outcome)
	if errors.Is(err, escrow.ErrAlreadyResolved) {
		// settled by another path while the vote ran
		return nil
	}
	return err
}

var (
	_ escrow.Arbiter      = (*disputeArbiter)(nil)
	_ governance.Resolver = (*disputeResolver)(nil)
)
