package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/mbd888/customsdesk/internal/ledger"
	"github.com/mbd888/customsdesk/internal/questions"
	"github.com/mbd888/customsdesk/internal/retry"
)

const (
	serializationAttempts = 5
	serializationBackoff  = 20 * time.Millisecond
)

// PostgresStore runs the atomic section in one transaction. A
// transaction-scoped advisory lock on the scope key serializes debits of one
// scope, and the question row lock serializes payers of one question.
// Statements after the advisory lock must see the previous holder's commit,
// so the isolation is READ COMMITTED; a serializable snapshot would predate
// the lock wait. Deadlocks and serialization failures are retried.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) DebitAndApprove(ctx context.Context, d Debit) (*Result, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}

	var res *Result
	err := retry.DoIf(ctx, serializationAttempts, serializationBackoff, isSerializationFailure, func() error {
		r, err := p.debitOnce(ctx, d)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (p *PostgresStore) debitOnce(ctx context.Context, d Debit) (*Result, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin payment tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, d.Scope.Key()); err != nil {
		return nil, fmt.Errorf("lock scope %s: %w", d.Scope, err)
	}

	var (
		status   string
		approved bool
	)
	err = tx.QueryRowContext(ctx, `
		SELECT status, approved_at IS NOT NULL
		FROM questions WHERE id = $1
		FOR UPDATE`, d.QuestionID,
	).Scan(&status, &approved)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, questions.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load question %s: %w", d.QuestionID, err)
	}
	if questions.Status(status) != questions.StatusSubmitted || approved {
		return nil, ErrAlreadyProcessed
	}

	balance, err := ledger.SumWith(ctx, tx, d.Scope)
	if err != nil {
		return nil, err
	}
	if balance < d.Credits {
		return nil, &InsufficientCreditsError{Scope: d.Scope, Required: d.Credits, Balance: balance}
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE questions
		SET status = 'approved', approved_at = $2, paid_by_scope = $3, paid_credits = $4, updated_at = $2
		WHERE id = $1 AND status = 'submitted' AND approved_at IS NULL`,
		d.QuestionID, d.At, d.Scope.Key(), d.Credits,
	)
	if err != nil {
		return nil, fmt.Errorf("approve question %s: %w", d.QuestionID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, ErrAlreadyProcessed
	}

	entry := d.entry()
	if _, err := ledger.InsertWith(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit payment tx: %w", err)
	}
	return &Result{Entry: entry, ApprovedAt: d.At, Balance: balance - d.Credits}, nil
}

// isSerializationFailure reports SQLSTATE 40001 (serialization_failure) and
// 40P01 (deadlock_detected).
func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "40001" || pqErr.Code == "40P01"
}

var _ Store = (*PostgresStore)(nil)
