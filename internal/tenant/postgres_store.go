package tenant

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// PostgresStore persists tenants in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed tenant store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const tenantColumns = `id, name, slug, COALESCE(domain, ''), currency, multiplier, status, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, t *Tenant) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, slug, domain, currency, multiplier, status, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9)`,
		t.ID, t.Name, t.Slug, t.Domain, t.Currency, t.Multiplier, string(t.Status),
		t.CreatedAt, t.UpdatedAt,
	)
	return uniqueErr(err)
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Tenant, error) {
	return scanTenant(p.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id))
}

func (p *PostgresStore) GetBySlug(ctx context.Context, slug string) (*Tenant, error) {
	return scanTenant(p.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE slug = $1`, slug))
}

func (p *PostgresStore) GetByDomain(ctx context.Context, domain string) (*Tenant, error) {
	return scanTenant(p.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE domain = $1`, domain))
}

func (p *PostgresStore) Update(ctx context.Context, t *Tenant) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE tenants SET name = $1, domain = NULLIF($2, ''), currency = $3, multiplier = $4,
			status = $5, updated_at = $6
		WHERE id = $7`,
		t.Name, t.Domain, t.Currency, t.Multiplier, string(t.Status), t.UpdatedAt, t.ID,
	)
	if err != nil {
		return uniqueErr(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTenantNotFound
	}
	return nil
}

func (p *PostgresStore) BindPrincipal(ctx context.Context, principalID, slug string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO tenant_principals (principal_id, tenant_slug, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (principal_id) DO UPDATE SET tenant_slug = EXCLUDED.tenant_slug`,
		principalID, slug,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23503" {
		return ErrTenantNotFound
	}
	return err
}

func (p *PostgresStore) TenantKeyForPrincipal(ctx context.Context, principalID string) (string, error) {
	var slug string
	err := p.db.QueryRowContext(ctx, `
		SELECT tenant_slug FROM tenant_principals WHERE principal_id = $1`, principalID,
	).Scan(&slug)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrBindingNotFound
	}
	return slug, err
}

func scanTenant(row *sql.Row) (*Tenant, error) {
	t := &Tenant{}
	var status string
	err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.Domain, &t.Currency, &t.Multiplier, &status,
		&t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Status = Status(status)
	return t, nil
}

func uniqueErr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		if pqErr.Constraint == "tenants_domain_key" {
			return ErrDomainTaken
		}
		return ErrSlugTaken
	}
	return err
}

var _ Store = (*PostgresStore)(nil)
