package org

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// PostgresStore persists organizations in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateOrganization(ctx context.Context, o *Organization) error {
	return p.db.QueryRowContext(ctx, `
		INSERT INTO organizations (id, name, created_at)
		VALUES ($1, $2, NOW())
		RETURNING created_at`,
		o.ID, o.Name,
	).Scan(&o.CreatedAt)
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Organization, error) {
	o := &Organization{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, name, created_at FROM organizations WHERE id = $1`, id,
	).Scan(&o.ID, &o.Name, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (p *PostgresStore) AddMembership(ctx context.Context, m *Membership) error {
	if m.Status == "" {
		m.Status = StatusActive
	}
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO organization_memberships (org_id, user_id, role, status, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING created_at`,
		m.OrgID, m.UserID, string(m.Role), string(m.Status),
	).Scan(&m.CreatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return ErrMembershipExists
		case "23503": // foreign_key_violation
			return ErrNotFound
		}
	}
	return err
}

func (p *PostgresStore) SetMembershipStatus(ctx context.Context, orgID, userID string, status MembershipStatus) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE organization_memberships SET status = $3
		WHERE org_id = $1 AND user_id = $2`,
		orgID, userID, string(status),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrMembershipNotFound
	}
	return nil
}

func (p *PostgresStore) Membership(ctx context.Context, orgID, userID string) (*Membership, error) {
	m := &Membership{}
	err := p.db.QueryRowContext(ctx, `
		SELECT org_id, user_id, role, status, created_at
		FROM organization_memberships
		WHERE org_id = $1 AND user_id = $2`,
		orgID, userID,
	).Scan(&m.OrgID, &m.UserID, &m.Role, &m.Status, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMembershipNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (p *PostgresStore) MembershipsForUser(ctx context.Context, userID string) ([]*Membership, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT org_id, user_id, role, status, created_at
		FROM organization_memberships
		WHERE user_id = $1
		ORDER BY created_at, org_id`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Membership
	for rows.Next() {
		m := &Membership{}
		if err := rows.Scan(&m.OrgID, &m.UserID, &m.Role, &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
