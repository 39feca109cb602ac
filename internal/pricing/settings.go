package pricing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var ErrSettingsNotFound = errors.New("pricing: no active subscription settings")

// Settings is the active subscription pricing row: the price of one credit in
// base currency and the two discount rates. Discounts may be stored either as
// fractions or percentages; RequiredCredits normalizes them.
type Settings struct {
	ID                   string          `json:"id"`
	CreditUnitPrice      decimal.Decimal `json:"creditUnitPrice"`
	IndividualDiscount   decimal.Decimal `json:"individualDiscount"`
	OrganizationDiscount decimal.Decimal `json:"organizationDiscount"`
	UpdatedAt            time.Time       `json:"updatedAt"`
}

// SettingsStore reads the active settings row. Writes happen in admin
// tooling outside this service.
type SettingsStore interface {
	Active(ctx context.Context) (*Settings, error)
}

// MemorySettingsStore holds a single settings row in memory.
type MemorySettingsStore struct {
	mu       sync.RWMutex
	settings *Settings
}

// NewMemorySettingsStore creates a store seeded with s (may be nil).
func NewMemorySettingsStore(s *Settings) *MemorySettingsStore {
	return &MemorySettingsStore{settings: s}
}

func (m *MemorySettingsStore) Active(_ context.Context) (*Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.settings == nil {
		return nil, ErrSettingsNotFound
	}
	cp := *m.settings
	return &cp, nil
}

// Set replaces the active row (dev mode and tests).
func (m *MemorySettingsStore) Set(s *Settings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.settings = &cp
}

var _ SettingsStore = (*MemorySettingsStore)(nil)
