package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// PostgresStore persists ledger entries in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const entryColumns = `id, reference, entry_type, account_id, wallet_reference, amount, tx_hash, created_at`

func (p *PostgresStore) AppendBatch(ctx context.Context, reference string, entries []*Entry) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_references (reference, created_at) VALUES ($1, NOW())`, reference,
	); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateReference
		}
		return fmt.Errorf("failed to record reference: %w", err)
	}

	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_entries (`+entryColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			e.ID, e.Reference, string(e.Type), e.AccountID, nullString(e.WalletReference),
			e.Amount, e.TxHash, e.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert ledger entry: %w", err)
		}
	}

	return tx.Commit()
}

func (p *PostgresStore) ByReference(ctx context.Context, reference string) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE reference = $1
		ORDER BY created_at, id`, reference)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanEntries(rows)
}

func (p *PostgresStore) ByAccount(ctx context.Context, accountID string, limit int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanEntries(rows)
}

func (p *PostgresStore) Balance(ctx context.Context, accountID string) (*Balance, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT entry_type, COALESCE(SUM(amount), 0)
		FROM ledger_entries
		WHERE account_id = $1
		GROUP BY entry_type`, accountID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	bal := &Balance{AccountID: accountID, Escrowed: decimal.Zero, Received: decimal.Zero, Refunded: decimal.Zero}
	for rows.Next() {
		var (
			typ    string
			amount decimal.Decimal
		)
		if err := rows.Scan(&typ, &amount); err != nil {
			return nil, err
		}
		bal.apply(EntryType(typ), amount)
	}
	return bal, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(s scanner) (*Entry, error) {
	e := &Entry{}
	var (
		typ    string
		wallet sql.NullString
	)
	if err := s.Scan(&e.ID, &e.Reference, &typ, &e.AccountID, &wallet, &e.Amount, &e.TxHash, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Type = EntryType(typ)
	e.WalletReference = wallet.String
	return e, nil
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var result []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
