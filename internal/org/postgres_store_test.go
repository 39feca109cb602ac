package org

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

func TestPostgresStore_MembershipsForUser(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("FROM organization_memberships").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"org_id", "user_id", "role", "status", "created_at"}).
			AddRow("o1", "u1", "member", "active", t0).
			AddRow("o2", "u1", "owner", "inactive", t0.Add(time.Hour)))

	ms, err := s.MembershipsForUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, RoleOwner, ms[1].Role)
	assert.False(t, ms[1].Active())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AddMembershipDuplicate(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("INSERT INTO organization_memberships").
		WillReturnError(&pq.Error{Code: "23505"})

	err := s.AddMembership(context.Background(), &Membership{OrgID: "o1", UserID: "u1", Role: RoleMember})
	assert.ErrorIs(t, err, ErrMembershipExists)
}

func TestPostgresStore_SetMembershipStatusMissing(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("UPDATE organization_memberships").
		WithArgs("o1", "u9", "inactive").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.SetMembershipStatus(context.Background(), "o1", "u9", StatusInactive)
	assert.ErrorIs(t, err, ErrMembershipNotFound)
}
