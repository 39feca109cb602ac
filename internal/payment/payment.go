// Package payment lets a question owner pay for a question with credits.
//
// A payment is one atomic unit: the scope's balance is re-read under a lock,
// the question moves from submitted to approved, and a single negative ledger
// entry is written. The guarded transition is also the idempotency check, so
// a retried request can never produce a second debit.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/customsdesk/internal/ledger"
	"github.com/mbd888/customsdesk/internal/questions"
)

var (
	ErrForbidden           = errors.New("payment: forbidden")
	ErrNotFound            = errors.New("payment: question not found")
	ErrInvalidPricing      = errors.New("payment: invalid pricing")
	ErrInsufficientCredits = errors.New("payment: insufficient credits")
	ErrAlreadyProcessed    = errors.New("payment: already processed")
	ErrRateUnavailable     = errors.New("payment: exchange rate unavailable")
	ErrUnexpected          = errors.New("payment: unexpected failure")
)

// InsufficientCreditsError carries the balance seen when a debit was refused.
// It matches ErrInsufficientCredits with errors.Is.
type InsufficientCreditsError struct {
	Scope    ledger.Scope
	Required int64
	Balance  int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("payment: insufficient credits for %s: need %d, have %d", e.Scope, e.Required, e.Balance)
}

func (e *InsufficientCreditsError) Unwrap() error { return ErrInsufficientCredits }

// Debit is one debit-and-approve request.
type Debit struct {
	QuestionID string
	Scope      ledger.Scope
	Credits    int64
	At         time.Time
}

func (d Debit) validate() error {
	if d.QuestionID == "" {
		return fmt.Errorf("%w: missing question id", ErrUnexpected)
	}
	if !d.Scope.Valid() {
		return fmt.Errorf("%w: %w", ErrUnexpected, ledger.ErrInvalidScope)
	}
	if d.Credits <= 0 {
		return fmt.Errorf("%w: %d credits", ErrInvalidPricing, d.Credits)
	}
	return nil
}

// ResourceRef is the ledger reference written for a question payment.
func ResourceRef(questionID string) string { return "question:" + questionID }

func (d Debit) entry() *ledger.Entry {
	return &ledger.Entry{
		ScopeType:   d.Scope.Type,
		ScopeID:     d.Scope.ID,
		Quantity:    -d.Credits,
		Reason:      ledger.ReasonQuestionPayment,
		ResourceRef: ResourceRef(d.QuestionID),
		CreatedAt:   d.At,
	}
}

func (d Debit) approval() questions.Approval {
	return questions.Approval{At: d.At, PaidByScope: d.Scope.Key(), PaidCredits: d.Credits}
}

// Result is the committed outcome of a debit.
type Result struct {
	Entry      *ledger.Entry
	ApprovedAt time.Time
	Balance    int64 // after the debit
}

// Store performs the atomic section of a payment.
//
// DebitAndApprove locks the scope, rejects a question that is no longer
// payable with ErrAlreadyProcessed, re-reads the balance and rejects a short
// one with *InsufficientCreditsError, then approves the question and appends
// the debit. Either both writes commit or neither does. A missing question
// is reported as questions.ErrNotFound.
type Store interface {
	DebitAndApprove(ctx context.Context, d Debit) (*Result, error)
}
