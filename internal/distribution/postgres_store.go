package distribution

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/lib/pq"
)

// PostgresStore persists rule set versions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed rule set store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const ruleSetColumns = `version, rules, remainder_stakeholder, penalty_stakeholder, created_at`

func (p *PostgresStore) Save(ctx context.Context, rs *RuleSet) error {
	rulesJSON, err := json.Marshal(rs.Rules)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO distribution_rule_sets (`+ruleSetColumns+`)
		VALUES ($1, $2, $3, $4, $5)`,
		rs.Version, rulesJSON, rs.RemainderStakeholder, rs.PenaltyStakeholder, rs.CreatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrVersionConflict
	}
	return err
}

func (p *PostgresStore) Latest(ctx context.Context) (*RuleSet, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+ruleSetColumns+`
		FROM distribution_rule_sets
		ORDER BY version DESC
		LIMIT 1`)
	rs, err := scanRuleSet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRules
	}
	return rs, err
}

func (p *PostgresStore) GetVersion(ctx context.Context, version int) (*RuleSet, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+ruleSetColumns+`
		FROM distribution_rule_sets
		WHERE version = $1`, version)
	rs, err := scanRuleSet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrVersionNotFound
	}
	return rs, err
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRuleSet(s scanner) (*RuleSet, error) {
	rs := &RuleSet{}
	var rulesJSON []byte
	if err := s.Scan(&rs.Version, &rulesJSON, &rs.RemainderStakeholder, &rs.PenaltyStakeholder, &rs.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(rulesJSON, &rs.Rules); err != nil {
		return nil, err
	}
	return rs, nil
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
