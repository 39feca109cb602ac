package tenant

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

var tenantCols = []string{"id", "name", "slug", "domain", "currency", "multiplier", "status", "created_at", "updated_at"}

func TestPostgresStore_GetByDomain(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM tenants WHERE domain = $1")).
		WithArgs("us.customs.example").
		WillReturnRows(sqlmock.NewRows(tenantCols).
			AddRow("ten_us", "US desk", "us-desk", "us.customs.example", "USD", "1.1500", "active", now, now))

	tn, err := s.GetByDomain(context.Background(), "us.customs.example")
	require.NoError(t, err)
	assert.Equal(t, "USD", tn.Currency)
	assert.True(t, decimal.RequireFromString("1.15").Equal(tn.Multiplier))
	assert.Equal(t, StatusActive, tn.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetBySlugMissing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM tenants WHERE slug = $1")).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(tenantCols))

	_, err := s.GetBySlug(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestPostgresStore_CreateConflicts(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO tenants").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "tenants_domain_key"})
	mock.ExpectExec("INSERT INTO tenants").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "tenants_slug_key"})

	tn := &Tenant{ID: "t", Slug: "abc", Currency: "TWD", Multiplier: decimal.NewFromInt(1), Status: StatusActive}
	assert.ErrorIs(t, s.Create(context.Background(), tn), ErrDomainTaken)
	assert.ErrorIs(t, s.Create(context.Background(), tn), ErrSlugTaken)
}

func TestPostgresStore_TenantKeyForPrincipal(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("FROM tenant_principals").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_slug"}).AddRow("us-desk"))
	mock.ExpectQuery("FROM tenant_principals").
		WithArgs("u2").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_slug"}))

	key, err := s.TenantKeyForPrincipal(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "us-desk", key)

	_, err = s.TenantKeyForPrincipal(context.Background(), "u2")
	assert.ErrorIs(t, err, ErrBindingNotFound)
}

func TestPostgresStore_UpdateMissing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE tenants").WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Update(context.Background(), &Tenant{ID: "ghost", Multiplier: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrTenantNotFound)
}
