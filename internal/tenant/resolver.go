package tenant

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mbd888/customsdesk/internal/currency"
	"github.com/mbd888/customsdesk/internal/logging"
)

// Source says how a profile was resolved.
type Source string

const (
	SourcePrincipal Source = "principal"
	SourceHost      Source = "host"
	SourceDefault   Source = "default"
)

// Profile is the pricing context of one request.
type Profile struct {
	TenantID   string          `json:"tenantId,omitempty"`
	TenantKey  string          `json:"tenantKey,omitempty"`
	Currency   string          `json:"currency"`
	Multiplier decimal.Decimal `json:"multiplier"`
	Source     Source          `json:"source"`
}

// Resolver maps a principal or request host to a tenant profile.
type Resolver struct {
	store      Store
	currencies *currency.AllowList
	logger     *slog.Logger
}

func NewResolver(store Store, currencies *currency.AllowList, logger *slog.Logger) *Resolver {
	if currencies == nil {
		currencies = currency.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, currencies: currencies, logger: logger}
}

// Default is the base-currency, multiplier-1 profile.
func (r *Resolver) Default() Profile {
	return Profile{Currency: r.currencies.Base(), Multiplier: decimal.NewFromInt(1), Source: SourceDefault}
}

// Resolve looks up the tenant bound to principalID, then the tenant serving
// host. found is false when neither matches; err is reserved for store
// failures. Suspended tenants never match.
func (r *Resolver) Resolve(ctx context.Context, principalID, host string) (Profile, bool, error) {
	if principalID != "" {
		key, err := r.store.TenantKeyForPrincipal(ctx, principalID)
		switch {
		case err == nil:
			t, err := r.store.GetBySlug(ctx, key)
			if err == nil && t.Status == StatusActive {
				return r.profile(t, SourcePrincipal), true, nil
			}
			if err != nil && !errors.Is(err, ErrTenantNotFound) {
				return Profile{}, false, err
			}
		case !errors.Is(err, ErrBindingNotFound):
			return Profile{}, false, err
		}
	}

	if h := NormalizeHost(host); h != "" {
		t, err := r.store.GetByDomain(ctx, h)
		if err == nil && t.Status == StatusActive {
			return r.profile(t, SourceHost), true, nil
		}
		if err != nil && !errors.Is(err, ErrTenantNotFound) {
			return Profile{}, false, err
		}
	}
	return Profile{}, false, nil
}

// ResolveOrDefault is Resolve with the default profile substituted (and
// logged) when nothing matches.
func (r *Resolver) ResolveOrDefault(ctx context.Context, principalID, host string) (Profile, error) {
	p, found, err := r.Resolve(ctx, principalID, host)
	if err != nil {
		return Profile{}, err
	}
	if !found {
		logging.L(ctx).Info("no tenant matched, using default profile",
			"principal_id", principalID, "host", host, "currency", r.currencies.Base())
		return r.Default(), nil
	}
	return p, nil
}

func (r *Resolver) profile(t *Tenant, src Source) Profile {
	cur := r.currencies.Normalize(t.Currency)
	if cur != strings.ToUpper(strings.TrimSpace(t.Currency)) {
		r.logger.Warn("tenant currency not allowed, using base",
			"tenant_id", t.ID, "stored", t.Currency, "currency", cur)
	}
	m := t.Multiplier
	if m.Sign() <= 0 {
		r.logger.Warn("tenant multiplier invalid, using 1", "tenant_id", t.ID, "stored", m.String())
		m = decimal.NewFromInt(1)
	}
	return Profile{TenantID: t.ID, TenantKey: t.Slug, Currency: cur, Multiplier: m, Source: src}
}

// NormalizeHost lower-cases host and strips any port.
func NormalizeHost(host string) string {
	h := strings.ToLower(strings.TrimSpace(host))
	if h == "" {
		return ""
	}
	if hp, _, err := net.SplitHostPort(h); err == nil {
		h = hp
	}
	return strings.TrimSuffix(strings.Trim(h, "[]"), ".")
}
