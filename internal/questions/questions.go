// Package questions stores the customs questions that customers pay for.
//
// Only the fields the credit flow needs live here. The submitted → approved
// transition is performed by the payment store, atomically with the debit.
package questions

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = errors.New("questions: not found")
	ErrExists   = errors.New("questions: already exists")
)

// Status of a question. paid and rejected are set by staff tooling.
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusApproved  Status = "approved"
	StatusPaid      Status = "paid"
	StatusRejected  Status = "rejected"
)

type Question struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"ownerId"`
	AssigneeID  string          `json:"assigneeId,omitempty"`
	Title       string          `json:"title"`
	Status      Status          `json:"status"`
	BasePrice   decimal.Decimal `json:"basePrice"`
	ApprovedAt  *time.Time      `json:"approvedAt,omitempty"`
	PaidByScope string          `json:"paidByScope,omitempty"`
	PaidCredits int64           `json:"paidCredits,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Payable reports whether the question can still be approved by payment.
func (q *Question) Payable() bool {
	return q.Status == StatusSubmitted && q.ApprovedAt == nil
}

// Approval is what a successful payment records on the question.
type Approval struct {
	At          time.Time
	PaidByScope string
	PaidCredits int64
}

func (q *Question) approve(a Approval) {
	at := a.At
	q.Status = StatusApproved
	q.ApprovedAt = &at
	q.PaidByScope = a.PaidByScope
	q.PaidCredits = a.PaidCredits
	q.UpdatedAt = at
}

// Store reads and creates questions.
type Store interface {
	Create(ctx context.Context, q *Question) error
	Get(ctx context.Context, id string) (*Question, error)
}
