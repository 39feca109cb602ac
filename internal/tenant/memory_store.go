package tenant

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory tenant store for demo/development.
type MemoryStore struct {
	mu         sync.RWMutex
	tenants    map[string]*Tenant // by ID
	slugs      map[string]string  // slug → ID
	domains    map[string]string  // domain → ID
	principals map[string]string  // principal → slug
}

// NewMemoryStore creates a new in-memory tenant store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:    make(map[string]*Tenant),
		slugs:      make(map[string]string),
		domains:    make(map[string]string),
		principals: make(map[string]string),
	}
}

func (m *MemoryStore) Create(_ context.Context, t *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.slugs[t.Slug]; exists {
		return ErrSlugTaken
	}
	if t.Domain != "" {
		if _, exists := m.domains[t.Domain]; exists {
			return ErrDomainTaken
		}
		m.domains[t.Domain] = t.ID
	}
	cp := *t
	m.tenants[t.ID] = &cp
	m.slugs[t.Slug] = t.ID
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.copyOf(id)
}

func (m *MemoryStore) GetBySlug(_ context.Context, slug string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.copyOf(m.slugs[slug])
}

func (m *MemoryStore) GetByDomain(_ context.Context, domain string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.copyOf(m.domains[domain])
}

// caller holds m.mu
func (m *MemoryStore) copyOf(id string) (*Tenant, error) {
	t, ok := m.tenants[id]
	if !ok {
		return nil, ErrTenantNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) Update(_ context.Context, t *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.tenants[t.ID]
	if !ok {
		return ErrTenantNotFound
	}
	if t.Domain != old.Domain {
		if owner, taken := m.domains[t.Domain]; taken && t.Domain != "" && owner != t.ID {
			return ErrDomainTaken
		}
		delete(m.domains, old.Domain)
		if t.Domain != "" {
			m.domains[t.Domain] = t.ID
		}
	}
	cp := *t
	cp.Slug = old.Slug // slug is immutable
	m.tenants[t.ID] = &cp
	return nil
}

func (m *MemoryStore) BindPrincipal(_ context.Context, principalID, slug string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.slugs[slug]; !ok {
		return ErrTenantNotFound
	}
	m.principals[principalID] = slug
	return nil
}

func (m *MemoryStore) TenantKeyForPrincipal(_ context.Context, principalID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	slug, ok := m.principals[principalID]
	if !ok {
		return "", ErrBindingNotFound
	}
	return slug, nil
}

var _ Store = (*MemoryStore)(nil)
