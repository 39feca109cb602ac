// Package tenant resolves which tenant a request belongs to and what
// currency and price multiplier apply to it.
package tenant

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Errors
var (
	ErrTenantNotFound  = errors.New("tenant: not found")
	ErrSlugTaken       = errors.New("tenant: slug already taken")
	ErrDomainTaken     = errors.New("tenant: domain already taken")
	ErrBindingNotFound = errors.New("tenant: principal not bound")
)

// Status represents a tenant's lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// Tenant is a branded storefront with its own display currency and price
// multiplier. Slug is the tenant key principals are bound to.
type Tenant struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Slug       string          `json:"slug"`
	Domain     string          `json:"domain,omitempty"`
	Currency   string          `json:"currency"`
	Multiplier decimal.Decimal `json:"multiplier"`
	Status     Status          `json:"status"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// Store persists tenant data.
type Store interface {
	Create(ctx context.Context, t *Tenant) error
	Get(ctx context.Context, id string) (*Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*Tenant, error)
	GetByDomain(ctx context.Context, domain string) (*Tenant, error)
	Update(ctx context.Context, t *Tenant) error
	BindPrincipal(ctx context.Context, principalID, slug string) error
	TenantKeyForPrincipal(ctx context.Context, principalID string) (string, error)
}
