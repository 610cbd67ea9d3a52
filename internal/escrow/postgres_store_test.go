package escrow

import (
	"context"
	"database/sql"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func holdColumnNames() []string {
	cols := strings.Split(holdColumns, ",")
	for i, c := range cols {
		cols[i] = strings.TrimSpace(c)
	}
	return cols
}

func TestPostgresStore_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	resolved := now.Add(time.Hour)
	rules := []byte(`{"version":3,"rules":[{"stakeholderId":"host-1","role":"host","percentage":"100","walletReference":"host@upi","minimumAmount":"0","maximumAmount":"0"}],"remainderStakeholder":"host-1","penaltyStakeholder":"host-1","createdAt":"2026-05-01T00:00:00Z"}`)
	payouts := []byte(`[{"stakeholderId":"host-1","role":"host","walletReference":"host@upi","amount":"1000"}]`)

	rows := sqlmock.NewRows(holdColumnNames()).AddRow(
		"esc_1", "bk-1", "txn-1", "guest-1", "1000.00", "INR",
		true, true, false, false,
		false, nil, nil, nil,
		checkIn.Add(-24*time.Hour), "80", "0",
		checkIn, checkOut, checkOut.Add(7*24*time.Hour), rules, "released", "conditions_met", payouts,
		"0", nil, resolved, now, resolved,
	)
	mock.ExpectQuery(regexp.QuoteMeta("FROM escrow_holds WHERE booking_id = $1")).
		WithArgs("bk-1").
		WillReturnRows(rows)

	hold, err := NewPostgresStore(db).Get(context.Background(), "bk-1")
	require.NoError(t, err)

	assert.Equal(t, "esc_1", hold.ID)
	assert.Equal(t, "txn-1", hold.TransactionID)
	assert.Equal(t, StatusReleased, hold.Status)
	assert.True(t, hold.Conditions.CheckOutConfirmed)
	assert.Equal(t, 3, hold.Rules.Version)
	assert.Equal(t, "host-1", hold.Rules.PenaltyStakeholder)
	require.Len(t, hold.Payouts, 1)
	assert.True(t, hold.Payouts[0].Amount.Equal(d("1000")))
	require.NotNil(t, hold.ResolvedAt)
	assert.Empty(t, hold.DisputeReason)
	assert.Equal(t, resolved, hold.loadedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM escrow_holds")).WillReturnError(sql.ErrNoRows)

	_, err = NewPostgresStore(db).Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrHoldNotFound)
}

func TestPostgresStore_CreateDuplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO escrow_holds")).
		WillReturnError(&pq.Error{Code: "23505"})

	err = NewPostgresStore(db).Create(context.Background(), &Hold{ID: "esc_1", BookingID: "bk-1"})
	assert.ErrorIs(t, err, ErrHoldExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE escrow_holds SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = NewPostgresStore(db).Update(context.Background(), &Hold{BookingID: "missing", Status: StatusHeld})
	assert.ErrorIs(t, err, ErrHoldNotFound)
}

func TestPostgresStore_UpdateGuardsOnLoadedTimestamp(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	read := time.Date(2026, 6, 1, 0, 0, 0, 123456000, time.UTC)
	hold := &Hold{BookingID: "bk-1", Status: StatusHeld, UpdatedAt: read.Add(1500 * time.Nanosecond), loadedAt: read}

	mock.ExpectExec(regexp.QuoteMeta("WHERE booking_id = $1 AND ($18::timestamptz IS NULL OR updated_at = $18)")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewPostgresStore(db).Update(context.Background(), hold))
	assert.Equal(t, read.Add(time.Microsecond), hold.UpdatedAt, "updated_at is stored at microsecond precision")
	assert.Equal(t, hold.UpdatedAt, hold.loadedAt, "next update guards on what was just written")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateStale(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	read := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	hold := &Hold{BookingID: "bk-1", Status: StatusHeld, UpdatedAt: read.Add(time.Minute), loadedAt: read}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE escrow_holds SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = NewPostgresStore(db).Update(context.Background(), hold)
	assert.ErrorIs(t, err, ErrStaleHold)
	assert.Equal(t, read, hold.loadedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListDue(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	before := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = 'held' AND timeout_reached = FALSE AND release_after <= $1")).
		WithArgs(before, 100).
		WillReturnRows(sqlmock.NewRows(holdColumnNames()))

	holds, err := NewPostgresStore(db).ListDue(context.Background(), before, 100)
	require.NoError(t, err)
	assert.Empty(t, holds)
	assert.NoError(t, mock.ExpectationsWereMet())
}
