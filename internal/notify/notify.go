// Package notify tells staff that a question was paid for and approved.
// Delivery is a side effect of a committed payment: it never blocks or
// fails the payment that triggered it.
package notify

import (
	"context"
	"time"
)

// EventQuestionApproved is the only event type sent today.
const EventQuestionApproved = "question.approved"

// Approval describes a committed debit-and-approve.
type Approval struct {
	QuestionID  string    `json:"questionId"`
	OwnerID     string    `json:"ownerId"`
	AssigneeID  string    `json:"assigneeId,omitempty"`
	Title       string    `json:"title,omitempty"`
	ScopeType   string    `json:"scopeType"`
	ScopeID     string    `json:"scopeId"`
	Credits     int64     `json:"credits"`
	ApprovedAt  time.Time `json:"approvedAt"`
	LedgerEntry string    `json:"ledgerEntryId,omitempty"`
}

// Notifier receives approval events. Implementations must return quickly.
type Notifier interface {
	QuestionApproved(ctx context.Context, a Approval)
}

// Nop drops every event.
type Nop struct{}

func (Nop) QuestionApproved(context.Context, Approval) {}

var _ Notifier = Nop{}
