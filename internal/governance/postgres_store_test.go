package governance

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_RecordVote(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	prop := &Proposal{ID: "prop_1", Status: StatusActive, YesVotes: 10, VoterCount: 1, UpdatedAt: now}
	v := &Vote{ProposalID: "prop_1", Voter: "v1", Support: true, Power: 10, CastAt: now}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO votes")).
		WithArgs("prop_1", "v1", true, int64(10), now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE proposals SET")).
		WithArgs("prop_1", "active", int64(10), int64(0), 1, false, nil, nil, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, NewPostgresStore(db).RecordVote(context.Background(), v, prop))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordVoteDuplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO votes")).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err = NewPostgresStore(db).RecordVote(context.Background(), &Vote{ProposalID: "prop_1", Voter: "v1"}, &Proposal{ID: "prop_1"})
	assert.ErrorIs(t, err, ErrAlreadyVoted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetProposal(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	cols := []string{"id", "title", "description", "proposer", "booking_id", "actions", "status",
		"yes_votes", "no_votes", "voter_count", "eligible_power", "quorum_percentage", "required_votes",
		"deadline", "applied", "apply_error", "finalized_at", "created_at", "updated_at"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM proposals WHERE id = $1")).
		WithArgs("prop_1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"prop_1", "Dispute bk-1", nil, "guest-1", "bk-1", "{release}", "passed",
			300, 0, 1, 1000, 20, 200,
			now, false, "escrow unavailable", now, now, now,
		))

	p, err := NewPostgresStore(db).GetProposal(context.Background(), "prop_1")
	require.NoError(t, err)
	assert.Equal(t, "bk-1", p.BookingID)
	assert.Equal(t, []string{"release"}, p.Actions)
	assert.Equal(t, StatusPassed, p.Status)
	assert.True(t, p.NeedsApply())
	assert.Equal(t, "escrow unavailable", p.ApplyError)
}

func TestPostgresStore_GetProposalNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM proposals")).WillReturnError(sql.ErrNoRows)

	_, err = NewPostgresStore(db).GetProposal(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrProposalNotFound)
}
