package escrow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/mbd888/staysettle/internal/distribution"
)

// PostgresStore persists holds in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed hold store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const holdColumns = `id, booking_id, transaction_id, payer_id, total_amount, currency,
	check_in_confirmed, check_out_confirmed, dispute_resolved, timeout_reached,
	dispute_open, dispute_reason, dispute_outcome, proposal_id,
	cancellation_deadline, refund_percentage, penalty_amount,
	check_in, check_out, release_after, rules, status, resolution, payouts,
	refund_amount, cancel_reason, resolved_at, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, hold *Hold) error {
	rules, payouts, err := marshalSettlement(hold)
	if err != nil {
		return err
	}
	hold.CreatedAt = hold.CreatedAt.Truncate(time.Microsecond)
	hold.UpdatedAt = hold.UpdatedAt.Truncate(time.Microsecond)

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO escrow_holds (`+holdColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29)`,
		hold.ID, hold.BookingID, nullString(hold.TransactionID), hold.PayerID, hold.TotalAmount, hold.Currency,
		hold.Conditions.CheckInConfirmed, hold.Conditions.CheckOutConfirmed,
		hold.Conditions.DisputeResolved, hold.Conditions.TimeoutReached,
		hold.DisputeOpen, nullString(hold.DisputeReason), nullString(string(hold.DisputeOutcome)), nullString(hold.ProposalID),
		hold.Policy.CancellationDeadline, hold.Policy.RefundPercentage, hold.Policy.PenaltyAmount,
		hold.CheckIn, hold.CheckOut, hold.ReleaseAfter, rules, string(hold.Status),
		nullString(hold.Resolution), payouts, hold.RefundAmount, nullString(hold.CancelReason),
		nullTime(hold.ResolvedAt), hold.CreatedAt, hold.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrHoldExists
		}
		return fmt.Errorf("failed to insert hold: %w", err)
	}
	hold.loadedAt = hold.UpdatedAt
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, bookingID string) (*Hold, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+holdColumns+` FROM escrow_holds WHERE booking_id = $1`, bookingID)
	hold, err := scanHold(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrHoldNotFound
	}
	return hold, err
}

// Update writes hold back. A hold read from this store is only written if
// the row has not been updated since; otherwise ErrStaleHold is returned.
func (p *PostgresStore) Update(ctx context.Context, hold *Hold) error {
	_, payouts, err := marshalSettlement(hold)
	if err != nil {
		return err
	}
	// Postgres keeps microseconds; the guard compares stored values exactly.
	hold.UpdatedAt = hold.UpdatedAt.Truncate(time.Microsecond)
	var guard *time.Time
	if !hold.loadedAt.IsZero() {
		guard = &hold.loadedAt
	}

	result, err := p.db.ExecContext(ctx, `
		UPDATE escrow_holds SET
			check_in_confirmed = $2, check_out_confirmed = $3, dispute_resolved = $4, timeout_reached = $5,
			dispute_open = $6, dispute_reason = $7, dispute_outcome = $8, proposal_id = $9,
			penalty_amount = $10, status = $11, resolution = $12, payouts = $13,
			refund_amount = $14, cancel_reason = $15, resolved_at = $16, updated_at = $17
		WHERE booking_id = $1 AND ($18::timestamptz IS NULL OR updated_at = $18)`,
		hold.BookingID,
		hold.Conditions.CheckInConfirmed, hold.Conditions.CheckOutConfirmed,
		hold.Conditions.DisputeResolved, hold.Conditions.TimeoutReached,
		hold.DisputeOpen, nullString(hold.DisputeReason), nullString(string(hold.DisputeOutcome)), nullString(hold.ProposalID),
		hold.Policy.PenaltyAmount, string(hold.Status), nullString(hold.Resolution), payouts,
		hold.RefundAmount, nullString(hold.CancelReason), nullTime(hold.ResolvedAt), hold.UpdatedAt,
		nullTime(guard),
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if guard != nil {
			return ErrStaleHold
		}
		return ErrHoldNotFound
	}
	hold.loadedAt = hold.UpdatedAt
	return nil
}

func (p *PostgresStore) ListDue(ctx context.Context, before time.Time, limit int) ([]*Hold, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+holdColumns+`
		FROM escrow_holds
		WHERE status = 'held' AND timeout_reached = FALSE AND release_after <= $1
		ORDER BY release_after ASC
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanHolds(rows)
}

func (p *PostgresStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Hold, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+holdColumns+`
		FROM escrow_holds
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanHolds(rows)
}

func marshalSettlement(hold *Hold) ([]byte, []byte, error) {
	rules, err := json.Marshal(hold.Rules)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode rules: %w", err)
	}
	payouts := []byte("[]")
	if len(hold.Payouts) > 0 {
		if payouts, err = json.Marshal(hold.Payouts); err != nil {
			return nil, nil, fmt.Errorf("failed to encode payouts: %w", err)
		}
	}
	return rules, payouts, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanHold(s scanner) (*Hold, error) {
	h := &Hold{}
	var (
		txnID, disputeReason, outcome, proposalID sql.NullString
		resolution, cancelReason                  sql.NullString
		status                                    string
		rules, payouts                            []byte
		resolvedAt                                sql.NullTime
	)

	err := s.Scan(
		&h.ID, &h.BookingID, &txnID, &h.PayerID, &h.TotalAmount, &h.Currency,
		&h.Conditions.CheckInConfirmed, &h.Conditions.CheckOutConfirmed,
		&h.Conditions.DisputeResolved, &h.Conditions.TimeoutReached,
		&h.DisputeOpen, &disputeReason, &outcome, &proposalID,
		&h.Policy.CancellationDeadline, &h.Policy.RefundPercentage, &h.Policy.PenaltyAmount,
		&h.CheckIn, &h.CheckOut, &h.ReleaseAfter, &rules, &status, &resolution, &payouts,
		&h.RefundAmount, &cancelReason, &resolvedAt, &h.CreatedAt, &h.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	h.loadedAt = h.UpdatedAt
	h.TransactionID = txnID.String
	h.DisputeReason = disputeReason.String
	h.DisputeOutcome = Outcome(outcome.String)
	h.ProposalID = proposalID.String
	h.Status = Status(status)
	h.Resolution = resolution.String
	h.CancelReason = cancelReason.String
	if resolvedAt.Valid {
		h.ResolvedAt = &resolvedAt.Time
	}
	if err := json.Unmarshal(rules, &h.Rules); err != nil {
		return nil, fmt.Errorf("failed to decode rules: %w", err)
	}
	if len(payouts) > 0 {
		var shares []distribution.Share
		if err := json.Unmarshal(payouts, &shares); err != nil {
			return nil, fmt.Errorf("failed to decode payouts: %w", err)
		}
		if len(shares) > 0 {
			h.Payouts = shares
		}
	}
	return h, nil
}

func scanHolds(rows *sql.Rows) ([]*Hold, error) {
	var result []*Hold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, h)
	}
	return result, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

var _ Store = (*PostgresStore)(nil)
