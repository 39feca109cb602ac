package org

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory org store for dev mode and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	orgs        map[string]*Organization
	memberships map[string]*Membership // orgID + "/" + userID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orgs:        make(map[string]*Organization),
		memberships: make(map[string]*Membership),
	}
}

func membershipKey(orgID, userID string) string { return orgID + "/" + userID }

func (m *MemoryStore) CreateOrganization(_ context.Context, o *Organization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	cp := *o
	m.orgs[o.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *MemoryStore) AddMembership(_ context.Context, ms *Membership) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orgs[ms.OrgID]; !ok {
		return ErrNotFound
	}
	key := membershipKey(ms.OrgID, ms.UserID)
	if _, ok := m.memberships[key]; ok {
		return ErrMembershipExists
	}
	if ms.CreatedAt.IsZero() {
		ms.CreatedAt = time.Now()
	}
	if ms.Status == "" {
		ms.Status = StatusActive
	}
	cp := *ms
	m.memberships[key] = &cp
	return nil
}

func (m *MemoryStore) SetMembershipStatus(_ context.Context, orgID, userID string, status MembershipStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.memberships[membershipKey(orgID, userID)]
	if !ok {
		return ErrMembershipNotFound
	}
	ms.Status = status
	return nil
}

func (m *MemoryStore) Membership(_ context.Context, orgID, userID string) (*Membership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ms, ok := m.memberships[membershipKey(orgID, userID)]
	if !ok {
		return nil, ErrMembershipNotFound
	}
	cp := *ms
	return &cp, nil
}

func (m *MemoryStore) MembershipsForUser(_ context.Context, userID string) ([]*Membership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Membership
	for _, ms := range m.memberships {
		if ms.UserID == userID {
			cp := *ms
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].OrgID < out[j].OrgID
	})
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
