package tenant

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/customsdesk/internal/currency"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedStore(t *testing.T) *MemoryStore {
	t.Helper()
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	for _, tn := range []*Tenant{
		{ID: "ten_us", Name: "US desk", Slug: "us-desk", Domain: "us.customs.example", Currency: "usd", Multiplier: decimal.RequireFromString("1.15"), Status: StatusActive},
		{ID: "ten_eu", Name: "EU desk", Slug: "eu-desk", Domain: "eu.customs.example", Currency: "EUR", Multiplier: decimal.NewFromInt(1), Status: StatusActive},
		{ID: "ten_bad", Name: "Legacy", Slug: "legacy", Domain: "legacy.example", Currency: "GBP", Multiplier: decimal.Zero, Status: StatusActive},
		{ID: "ten_off", Name: "Closed", Slug: "closed", Domain: "closed.example", Currency: "JPY", Multiplier: decimal.NewFromInt(2), Status: StatusSuspended},
	} {
		tn.CreatedAt, tn.UpdatedAt = now, now
		require.NoError(t, s.Create(ctx, tn))
	}
	require.NoError(t, s.BindPrincipal(ctx, "u-us", "us-desk"))
	require.NoError(t, s.BindPrincipal(ctx, "u-off", "closed"))
	return s
}

func TestResolve_PrincipalBeatsHost(t *testing.T) {
	r := NewResolver(seedStore(t), currency.Default(), quietLogger())

	p, found, err := r.Resolve(context.Background(), "u-us", "eu.customs.example")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "ten_us", p.TenantID)
	assert.Equal(t, "USD", p.Currency)
	assert.True(t, decimal.RequireFromString("1.15").Equal(p.Multiplier))
	assert.Equal(t, SourcePrincipal, p.Source)
}

func TestResolve_HostFallback(t *testing.T) {
	r := NewResolver(seedStore(t), currency.Default(), quietLogger())

	for _, host := range []string{"eu.customs.example", "EU.Customs.Example:8443", "eu.customs.example."} {
		p, found, err := r.Resolve(context.Background(), "unbound-user", host)
		require.NoError(t, err, host)
		require.True(t, found, host)
		assert.Equal(t, "ten_eu", p.TenantID)
		assert.Equal(t, SourceHost, p.Source)
	}
}

func TestResolve_NotFoundIsNotAnError(t *testing.T) {
	r := NewResolver(seedStore(t), currency.Default(), quietLogger())

	_, found, err := r.Resolve(context.Background(), "", "unknown.example")
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = r.Resolve(context.Background(), "", "")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestResolve_DisallowedCurrencyAndBadMultiplier(t *testing.T) {
	r := NewResolver(seedStore(t), currency.Default(), quietLogger())

	p, found, err := r.Resolve(context.Background(), "", "legacy.example")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "TWD", p.Currency, "currency off the allow-list resolves to base")
	assert.True(t, decimal.NewFromInt(1).Equal(p.Multiplier))
}

func TestResolve_SuspendedTenantIgnored(t *testing.T) {
	r := NewResolver(seedStore(t), currency.Default(), quietLogger())

	// Bound to a suspended tenant: falls through to host.
	p, found, err := r.Resolve(context.Background(), "u-off", "us.customs.example")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "ten_us", p.TenantID)

	_, found, err = r.Resolve(context.Background(), "", "closed.example")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestResolveOrDefault(t *testing.T) {
	r := NewResolver(seedStore(t), currency.Default(), quietLogger())

	p, err := r.ResolveOrDefault(context.Background(), "nobody", "nowhere.example")
	require.NoError(t, err)
	assert.Equal(t, SourceDefault, p.Source)
	assert.Equal(t, "TWD", p.Currency)
	assert.True(t, decimal.NewFromInt(1).Equal(p.Multiplier))
}

type failingStore struct{ *MemoryStore }

func (f *failingStore) TenantKeyForPrincipal(context.Context, string) (string, error) {
	return "", errors.New("db down")
}

func TestResolve_StoreFailureSurfaces(t *testing.T) {
	r := NewResolver(&failingStore{MemoryStore: NewMemoryStore()}, currency.Default(), quietLogger())
	_, _, err := r.Resolve(context.Background(), "u1", "x.example")
	assert.Error(t, err)

	_, err = r.ResolveOrDefault(context.Background(), "u1", "x.example")
	assert.Error(t, err)
}

func TestNormalizeHost(t *testing.T) {
	assert.Equal(t, "example.com", NormalizeHost("Example.COM:443"))
	assert.Equal(t, "example.com", NormalizeHost(" example.com "))
	assert.Equal(t, "::1", NormalizeHost("[::1]:8080"))
	assert.Equal(t, "", NormalizeHost(""))
}

func TestMemoryStore_UniqueConstraints(t *testing.T) {
	ctx := context.Background()
	s := seedStore(t)

	err := s.Create(ctx, &Tenant{ID: "x", Slug: "us-desk"})
	assert.ErrorIs(t, err, ErrSlugTaken)
	err = s.Create(ctx, &Tenant{ID: "y", Slug: "fresh", Domain: "us.customs.example"})
	assert.ErrorIs(t, err, ErrDomainTaken)

	tn, err := s.Get(ctx, "ten_eu")
	require.NoError(t, err)
	tn.Domain = "us.customs.example"
	assert.ErrorIs(t, s.Update(ctx, tn), ErrDomainTaken)

	tn.Domain = "europe.customs.example"
	require.NoError(t, s.Update(ctx, tn))
	_, err = s.GetByDomain(ctx, "eu.customs.example")
	assert.ErrorIs(t, err, ErrTenantNotFound)
	got, err := s.GetByDomain(ctx, "europe.customs.example")
	require.NoError(t, err)
	assert.Equal(t, "ten_eu", got.ID)

	assert.ErrorIs(t, s.BindPrincipal(ctx, "u9", "nope"), ErrTenantNotFound)
	_, err = s.TenantKeyForPrincipal(ctx, "u9")
	assert.ErrorIs(t, err, ErrBindingNotFound)
}
