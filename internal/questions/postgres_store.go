package questions

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// PostgresStore persists questions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, q *Question) error {
	if q.Status == "" {
		q.Status = StatusSubmitted
	}
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO questions (id, owner_id, assignee_id, title, status, base_price, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, NOW(), NOW())
		RETURNING created_at, updated_at`,
		q.ID, q.OwnerID, q.AssigneeID, q.Title, string(q.Status), q.BasePrice,
	).Scan(&q.CreatedAt, &q.UpdatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrExists
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Question, error) {
	q := &Question{}
	var approvedAt sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		SELECT id, owner_id, COALESCE(assignee_id, ''), title, status, base_price,
		       approved_at, COALESCE(paid_by_scope, ''), COALESCE(paid_credits, 0),
		       created_at, updated_at
		FROM questions WHERE id = $1`, id,
	).Scan(&q.ID, &q.OwnerID, &q.AssigneeID, &q.Title, &q.Status, &q.BasePrice,
		&approvedAt, &q.PaidByScope, &q.PaidCredits, &q.CreatedAt, &q.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if approvedAt.Valid {
		t := approvedAt.Time
		q.ApprovedAt = &t
	}
	return q, nil
}

var _ Store = (*PostgresStore)(nil)
