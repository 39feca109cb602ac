package questions

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory question store.
type MemoryStore struct {
	mu        sync.RWMutex
	questions map[string]*Question
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{questions: make(map[string]*Question)}
}

func (m *MemoryStore) Create(_ context.Context, q *Question) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.questions[q.ID]; ok {
		return ErrExists
	}
	now := time.Now()
	if q.Status == "" {
		q.Status = StatusSubmitted
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = now
	}
	q.UpdatedAt = now
	m.questions[q.ID] = clone(q)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.questions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(q), nil
}

// ApproveIfPayable performs the guarded submitted → approved transition. It
// returns the question as it was before, and false if the guard did not hold.
func (m *MemoryStore) ApproveIfPayable(id string, a Approval) (*Question, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.questions[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	if !q.Payable() {
		return nil, false, nil
	}
	prev := clone(q)
	q.approve(a)
	return prev, true, nil
}

// Restore puts back a snapshot taken by ApproveIfPayable. It is only used to
// undo an approval whose debit could not be written.
func (m *MemoryStore) Restore(prev *Question) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.questions[prev.ID] = clone(prev)
}

func clone(q *Question) *Question {
	cp := *q
	if q.ApprovedAt != nil {
		at := *q.ApprovedAt
		cp.ApprovedAt = &at
	}
	return &cp
}

var _ Store = (*MemoryStore)(nil)
