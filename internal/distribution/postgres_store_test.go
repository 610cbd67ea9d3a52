package distribution

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_Save(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	rs := &RuleSet{
		Version:              3,
		Rules:                []Rule{rule("host", "100")},
		RemainderStakeholder: "host",
		PenaltyStakeholder:   "host",
		CreatedAt:            time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO distribution_rule_sets")).
		WithArgs(3, sqlmock.AnyArg(), "host", "host", rs.CreatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Save(context.Background(), rs))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO distribution_rule_sets")).
		WillReturnError(&pq.Error{Code: "23505"})

	err = NewPostgresStore(db).Save(context.Background(), &RuleSet{Version: 1})
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestPostgresStore_Latest(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	created := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"version", "rules", "remainder_stakeholder", "penalty_stakeholder", "created_at"}).
		AddRow(2, []byte(`[{"stakeholderId":"host","role":"host","percentage":"100","walletReference":"host@upi","minimumAmount":"0","maximumAmount":"0"}]`), "host", "host", created)

	mock.ExpectQuery(regexp.QuoteMeta("FROM distribution_rule_sets")).WillReturnRows(rows)

	rs, err := NewPostgresStore(db).Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rs.Version)
	require.Len(t, rs.Rules, 1)
	assert.Equal(t, "host@upi", rs.Rules[0].WalletReference)
	assert.True(t, rs.Rules[0].Percentage.Equal(d("100")))
}

func TestPostgresStore_LatestEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM distribution_rule_sets")).
		WillReturnRows(sqlmock.NewRows([]string{"version", "rules", "remainder_stakeholder", "penalty_stakeholder", "created_at"}))

	_, err = NewPostgresStore(db).Latest(context.Background())
	assert.ErrorIs(t, err, ErrNoRules)
}

func TestPostgresStore_GetVersionMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE version = $1")).
		WithArgs(9).
		WillReturnRows(sqlmock.NewRows([]string{"version", "rules", "remainder_stakeholder", "penalty_stakeholder", "created_at"}))

	_, err = NewPostgresStore(db).GetVersion(context.Background(), 9)
	assert.ErrorIs(t, err, ErrVersionNotFound)
}
