package payment

import (
	"context"

	"github.com/mbd888/customsdesk/internal/ledger"
	"github.com/mbd888/customsdesk/internal/questions"
	"github.com/mbd888/customsdesk/internal/syncutil"
)

// MemoryStore runs the atomic section against the in-memory question and
// ledger stores. The scope and the question are locked together, so two
// payers of one question serialize while unrelated scopes run in parallel.
// Grants do not take the lock; they only raise a balance.
type MemoryStore struct {
	questions *questions.MemoryStore
	ledger    *ledger.MemoryStore
	locks     *syncutil.KeyedMutex
}

func NewMemoryStore(qs *questions.MemoryStore, ls *ledger.MemoryStore) *MemoryStore {
	return &MemoryStore{questions: qs, ledger: ls, locks: syncutil.NewKeyedMutex()}
}

func (m *MemoryStore) DebitAndApprove(ctx context.Context, d Debit) (*Result, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}

	unlock, err := m.locks.LockContext(ctx, "scope:"+d.Scope.Key(), "question:"+d.QuestionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	q, err := m.questions.Get(ctx, d.QuestionID)
	if err != nil {
		return nil, err
	}
	if !q.Payable() {
		return nil, ErrAlreadyProcessed
	}

	balance, err := m.ledger.BalanceOf(ctx, d.Scope)
	if err != nil {
		return nil, err
	}
	if balance < d.Credits {
		return nil, &InsufficientCreditsError{Scope: d.Scope, Required: d.Credits, Balance: balance}
	}

	prev, ok, err := m.questions.ApproveIfPayable(d.QuestionID, d.approval())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAlreadyProcessed
	}

	entry := d.entry()
	if _, err := m.ledger.Append(ctx, entry); err != nil {
		m.questions.Restore(prev)
		return nil, err
	}
	return &Result{Entry: entry, ApprovedAt: d.At, Balance: balance - d.Credits}, nil
}

var _ Store = (*MemoryStore)(nil)
