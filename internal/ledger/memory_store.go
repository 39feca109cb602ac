package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mbd888/customsdesk/internal/idgen"
	"github.com/mbd888/customsdesk/internal/pagination"
)

// MemoryStore keeps entries in memory (dev mode and tests).
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]*Entry // scope key -> entries, oldest first
	scopes  map[string]Scope
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string][]*Entry),
		scopes:  make(map[string]Scope),
		now:     time.Now,
	}
}

func (m *MemoryStore) BalanceOf(_ context.Context, scope Scope) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sum int64
	for _, e := range m.entries[scope.Key()] {
		sum += e.Quantity
	}
	return sum, nil
}

func (m *MemoryStore) Append(_ context.Context, e *Entry) (string, error) {
	if err := validateEntry(e); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *e
	if cp.ID == "" {
		cp.ID = idgen.New()
	}
	key := cp.Scope().Key()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = m.now()
		// Entries of one scope keep a strict time order.
		if prev := m.entries[key]; len(prev) > 0 {
			if last := prev[len(prev)-1].CreatedAt; !cp.CreatedAt.After(last) {
				cp.CreatedAt = last.Add(time.Nanosecond)
			}
		}
	}
	m.entries[key] = append(m.entries[key], &cp)
	m.scopes[key] = cp.Scope()

	e.ID, e.CreatedAt = cp.ID, cp.CreatedAt
	return cp.ID, nil
}

func (m *MemoryStore) History(_ context.Context, scope Scope, limit int, before *pagination.Cursor) ([]*Entry, error) {
	m.mu.RLock()
	src := m.entries[scope.Key()]
	sorted := make([]*Entry, len(src))
	copy(sorted, src)
	m.mu.RUnlock()

	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})

	out := make([]*Entry, 0, min(limit, len(sorted)))
	for _, e := range sorted {
		if len(out) >= limit {
			break
		}
		if !before.Precedes(e.CreatedAt, e.ID) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) Scopes(_ context.Context) ([]Scope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Scope, 0, len(m.scopes))
	for _, s := range m.scopes {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

// Count returns the number of entries for scope.
func (m *MemoryStore) Count(scope Scope) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries[scope.Key()])
}

func validateEntry(e *Entry) error {
	if e == nil || !e.Scope().Valid() {
		return ErrInvalidScope
	}
	if e.Quantity == 0 {
		return ErrInvalidQuantity
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
