package pricing

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresSettingsStore reads subscription settings from PostgreSQL.
type PostgresSettingsStore struct {
	db *sql.DB
}

// NewPostgresSettingsStore creates a PostgreSQL-backed settings store.
func NewPostgresSettingsStore(db *sql.DB) *PostgresSettingsStore {
	return &PostgresSettingsStore{db: db}
}

// Active returns the most recently updated active row.
func (p *PostgresSettingsStore) Active(ctx context.Context) (*Settings, error) {
	s := &Settings{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, credit_unit_price, individual_discount, organization_discount, updated_at
		FROM subscription_settings
		WHERE active = TRUE
		ORDER BY updated_at DESC
		LIMIT 1`,
	).Scan(&s.ID, &s.CreditUnitPrice, &s.IndividualDiscount, &s.OrganizationDiscount, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSettingsNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

var _ SettingsStore = (*PostgresSettingsStore)(nil)
