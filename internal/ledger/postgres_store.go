package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mbd888/customsdesk/internal/idgen"
	"github.com/mbd888/customsdesk/internal/pagination"
)

// Querier is satisfied by both *sql.DB and *sql.Tx, so the same statements
// run standalone or inside the payment transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore implements Store on the credit_ledger table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) BalanceOf(ctx context.Context, scope Scope) (int64, error) {
	return SumWith(ctx, p.db, scope)
}

func (p *PostgresStore) Append(ctx context.Context, e *Entry) (string, error) {
	return InsertWith(ctx, p.db, e)
}

func (p *PostgresStore) History(ctx context.Context, scope Scope, limit int, before *pagination.Cursor) ([]*Entry, error) {
	query := `
		SELECT id, scope_type, scope_id, quantity, reason, COALESCE(resource_ref, ''), created_at
		FROM credit_ledger
		WHERE scope_type = $1 AND scope_id = $2`
	args := []any{string(scope.Type), scope.ID}
	if before != nil {
		query += ` AND (created_at, id) < ($3, $4)`
		args = append(args, before.CreatedAt, before.ID)
	}
	query += fmt.Sprintf(`
		ORDER BY created_at DESC, id DESC
		LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.ID, &e.ScopeType, &e.ScopeID, &e.Quantity, &e.Reason, &e.ResourceRef, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Scopes(ctx context.Context) ([]Scope, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT DISTINCT scope_type, scope_id FROM credit_ledger ORDER BY scope_type, scope_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Scope
	for rows.Next() {
		var s Scope
		if err := rows.Scan(&s.Type, &s.ID); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SumWith returns the authoritative balance for scope using q.
func SumWith(ctx context.Context, q Querier, scope Scope) (int64, error) {
	var sum int64
	err := q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(quantity), 0)::BIGINT
		FROM credit_ledger
		WHERE scope_type = $1 AND scope_id = $2`,
		string(scope.Type), scope.ID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum ledger for %s: %w", scope, err)
	}
	return sum, nil
}

// InsertWith appends e using q and fills in its id and timestamp.
func InsertWith(ctx context.Context, q Querier, e *Entry) (string, error) {
	if err := validateEntry(e); err != nil {
		return "", err
	}
	if e.ID == "" {
		e.ID = idgen.New()
	}
	err := q.QueryRowContext(ctx, `
		INSERT INTO credit_ledger (id, scope_type, scope_id, quantity, reason, resource_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NOW())
		RETURNING created_at`,
		e.ID, string(e.ScopeType), e.ScopeID, e.Quantity, string(e.Reason), e.ResourceRef,
	).Scan(&e.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("insert ledger entry: %w", err)
	}
	return e.ID, nil
}

var _ Store = (*PostgresStore)(nil)
