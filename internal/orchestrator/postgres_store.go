package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/mbd888/staysettle/internal/beckn"
)

// PostgresStore persists orders in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed order store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const orderColumns = `id, transaction_id, state, payer_id, provider_id, bpp_id, bpp_uri,
	payload, total_amount, network_order_id, network_state, hold_id,
	cancellation_reason, created_at, updated_at, confirmed_at, cancelled_at`

// orderPayload holds the protocol objects stored as one JSONB document.
type orderPayload struct {
	Items       []beckn.Item       `json:"items,omitempty"`
	Fulfillment *beckn.Fulfillment `json:"fulfillment,omitempty"`
	Quote       *beckn.Quote       `json:"quote,omitempty"`
	Payment     *beckn.Payment     `json:"payment,omitempty"`
	Billing     *beckn.Billing     `json:"billing,omitempty"`
}

func encodePayload(o *Order) ([]byte, error) {
	b, err := json.Marshal(orderPayload{
		Items:       o.Items,
		Fulfillment: o.Fulfillment,
		Quote:       o.Quote,
		Payment:     o.Payment,
		Billing:     o.Billing,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode order payload: %w", err)
	}
	return b, nil
}

func (p *PostgresStore) Create(ctx context.Context, o *Order) error {
	payload, err := encodePayload(o)
	if err != nil {
		return err
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		o.ID, o.TransactionID, string(o.State), o.PayerID, o.ProviderID,
		nullString(o.BPPID), nullString(o.BPPURI), payload, o.Total(),
		nullString(o.NetworkOrderID), nullString(o.NetworkState), nullString(o.HoldID),
		nullString(o.CancellationReason), o.CreatedAt, o.UpdatedAt,
		nullTime(o.ConfirmedAt), nullTime(o.CancelledAt),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrOrderExists
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Order, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	return o, err
}

func (p *PostgresStore) GetByTransaction(ctx context.Context, transactionID string) (*Order, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE transaction_id = $1`, transactionID)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	return o, err
}

func (p *PostgresStore) Update(ctx context.Context, o *Order) error {
	payload, err := encodePayload(o)
	if err != nil {
		return err
	}

	result, err := p.db.ExecContext(ctx, `
		UPDATE orders SET
			state = $2, payload = $3, total_amount = $4, network_order_id = $5, network_state = $6,
			hold_id = $7, cancellation_reason = $8, updated_at = $9, confirmed_at = $10, cancelled_at = $11
		WHERE id = $1`,
		o.ID, string(o.State), payload, o.Total(), nullString(o.NetworkOrderID), nullString(o.NetworkState),
		nullString(o.HoldID), nullString(o.CancellationReason), o.UpdatedAt,
		nullTime(o.ConfirmedAt), nullTime(o.CancelledAt),
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, state State, limit int) ([]*Order, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE ($1 = '' OR state = $1)
		ORDER BY created_at ASC
		LIMIT $2`, string(state), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(s scanner) (*Order, error) {
	o := &Order{}
	var (
		state                                   string
		bppID, bppURI, networkOrderID, netState sql.NullString
		holdID, reason                          sql.NullString
		payload                                 []byte
		total                                   sql.NullString
		confirmedAt, cancelledAt                sql.NullTime
	)

	err := s.Scan(
		&o.ID, &o.TransactionID, &state, &o.PayerID, &o.ProviderID, &bppID, &bppURI,
		&payload, &total, &networkOrderID, &netState, &holdID,
		&reason, &o.CreatedAt, &o.UpdatedAt, &confirmedAt, &cancelledAt,
	)
	if err != nil {
		return nil, err
	}

	o.State = State(state)
	o.BPPID = bppID.String
	o.BPPURI = bppURI.String
	o.NetworkOrderID = networkOrderID.String
	o.NetworkState = netState.String
	o.HoldID = holdID.String
	o.CancellationReason = reason.String
	if confirmedAt.Valid {
		o.ConfirmedAt = &confirmedAt.Time
	}
	if cancelledAt.Valid {
		o.CancelledAt = &cancelledAt.Time
	}

	var pl orderPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &pl); err != nil {
			return nil, fmt.Errorf("failed to decode order payload: %w", err)
		}
	}
	o.Items = pl.Items
	o.Fulfillment = pl.Fulfillment
	o.Quote = pl.Quote
	o.Payment = pl.Payment
	o.Billing = pl.Billing
	return o, nil
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
