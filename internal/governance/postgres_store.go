package governance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists proposals and votes in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed governance store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const proposalColumns = `id, title, description, proposer, booking_id, actions, status,
	yes_votes, no_votes, voter_count, eligible_power, quorum_percentage, required_votes,
	deadline, applied, apply_error, finalized_at, created_at, updated_at`

func (p *PostgresStore) CreateProposal(ctx context.Context, prop *Proposal) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO proposals (`+proposalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		prop.ID, prop.Title, nullStr(prop.Description), prop.Proposer, nullStr(prop.BookingID),
		pq.Array(prop.Actions), string(prop.Status),
		prop.YesVotes, prop.NoVotes, prop.VoterCount, prop.EligiblePower, prop.QuorumPercentage, prop.RequiredVotes,
		prop.Deadline, prop.Applied, nullStr(prop.ApplyError), nullTime(prop.FinalizedAt), prop.CreatedAt, prop.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert proposal: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetProposal(ctx context.Context, id string) (*Proposal, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id = $1`, id)
	prop, err := scanProposal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProposalNotFound
	}
	return prop, err
}

const updateProposalSQL = `
	UPDATE proposals SET
		status = $2, yes_votes = $3, no_votes = $4, voter_count = $5,
		applied = $6, apply_error = $7, finalized_at = $8, updated_at = $9
	WHERE id = $1`

func proposalUpdateArgs(prop *Proposal) []any {
	return []any{
		prop.ID, string(prop.Status), prop.YesVotes, prop.NoVotes, prop.VoterCount,
		prop.Applied, nullStr(prop.ApplyError), nullTime(prop.FinalizedAt), prop.UpdatedAt,
	}
}

func (p *PostgresStore) UpdateProposal(ctx context.Context, prop *Proposal) error {
	result, err := p.db.ExecContext(ctx, updateProposalSQL, proposalUpdateArgs(prop)...)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrProposalNotFound
	}
	return nil
}

func (p *PostgresStore) RecordVote(ctx context.Context, v *Vote, prop *Proposal) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO votes (proposal_id, voter, support, power, cast_at)
		VALUES ($1, $2, $3, $4, $5)`,
		v.ProposalID, v.Voter, v.Support, v.Power, v.CastAt,
	); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrAlreadyVoted
		}
		return fmt.Errorf("failed to insert vote: %w", err)
	}

	if _, err := tx.ExecContext(ctx, updateProposalSQL, proposalUpdateArgs(prop)...); err != nil {
		return fmt.Errorf("failed to update tallies: %w", err)
	}
	return tx.Commit()
}

func (p *PostgresStore) ListVotes(ctx context.Context, proposalID string) ([]*Vote, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT proposal_id, voter, support, power, cast_at
		FROM votes
		WHERE proposal_id = $1
		ORDER BY cast_at ASC`, proposalID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Vote
	for rows.Next() {
		v := &Vote{}
		if err := rows.Scan(&v.ProposalID, &v.Voter, &v.Support, &v.Power, &v.CastAt); err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

func (p *PostgresStore) ListProposals(ctx context.Context, status Status, limit int) ([]*Proposal, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+proposalColumns+`
		FROM proposals
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanProposals(rows)
}

func (p *PostgresStore) ListDue(ctx context.Context, before time.Time, limit int) ([]*Proposal, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+proposalColumns+`
		FROM proposals
		WHERE status = 'active' AND deadline <= $1
		ORDER BY deadline ASC
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanProposals(rows)
}

func (p *PostgresStore) ListUnapplied(ctx context.Context, limit int) ([]*Proposal, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+proposalColumns+`
		FROM proposals
		WHERE status IN ('passed', 'failed') AND booking_id IS NOT NULL AND applied = FALSE
		ORDER BY finalized_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanProposals(rows)
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanProposal(sc scanner) (*Proposal, error) {
	prop := &Proposal{}
	var (
		description, bookingID, applyError sql.NullString
		status                             string
		actions                            pq.StringArray
		finalizedAt                        sql.NullTime
	)
	err := sc.Scan(
		&prop.ID, &prop.Title, &description, &prop.Proposer, &bookingID, &actions, &status,
		&prop.YesVotes, &prop.NoVotes, &prop.VoterCount, &prop.EligiblePower, &prop.QuorumPercentage, &prop.RequiredVotes,
		&prop.Deadline, &prop.Applied, &applyError, &finalizedAt, &prop.CreatedAt, &prop.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	prop.Description = description.String
	prop.BookingID = bookingID.String
	prop.ApplyError = applyError.String
	prop.Status = Status(status)
	if len(actions) > 0 {
		prop.Actions = []string(actions)
	}
	if finalizedAt.Valid {
		prop.FinalizedAt = &finalizedAt.Time
	}
	return prop, nil
}

func scanProposals(rows *sql.Rows) ([]*Proposal, error) {
	var result []*Proposal
	for rows.Next() {
		prop, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, prop)
	}
	return result, rows.Err()
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

var _ Store = (*PostgresStore)(nil)
