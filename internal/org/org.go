// Package org holds organizations and their memberships. Membership decides
// whether a user may spend an organization's credits.
package org

import (
	"context"
	"errors"
	"sort"
	"time"
)

var (
	ErrNotFound           = errors.New("org: not found")
	ErrMembershipNotFound = errors.New("org: membership not found")
	ErrMembershipExists   = errors.New("org: membership already exists")
)

// Role is a member's privilege level within an organization.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
)

// rank orders roles by privilege; unknown roles rank lowest.
func (r Role) rank() int {
	switch r {
	case RoleOwner:
		return 2
	case RoleMember:
		return 1
	}
	return 0
}

func (r Role) Valid() bool { return r.rank() > 0 }

// MembershipStatus is active or inactive.
type MembershipStatus string

const (
	StatusActive   MembershipStatus = "active"
	StatusInactive MembershipStatus = "inactive"
)

type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

type Membership struct {
	OrgID     string           `json:"organizationId"`
	UserID    string           `json:"userId"`
	Role      Role             `json:"role"`
	Status    MembershipStatus `json:"status"`
	CreatedAt time.Time        `json:"createdAt"`
}

func (m *Membership) Active() bool { return m != nil && m.Status == StatusActive }

// Store persists organizations and memberships.
type Store interface {
	CreateOrganization(ctx context.Context, o *Organization) error
	Get(ctx context.Context, id string) (*Organization, error)
	AddMembership(ctx context.Context, m *Membership) error
	SetMembershipStatus(ctx context.Context, orgID, userID string, status MembershipStatus) error
	Membership(ctx context.Context, orgID, userID string) (*Membership, error)
	MembershipsForUser(ctx context.Context, userID string) ([]*Membership, error)
}

// SelectPaying picks the membership whose organization pays by default: the
// highest-ranked active membership, ties broken by the earliest CreatedAt and
// then by organization id.
func SelectPaying(ms []*Membership) (*Membership, bool) {
	var active []*Membership
	for _, m := range ms {
		if m.Active() && m.Role.Valid() {
			active = append(active, m)
		}
	}
	if len(active) == 0 {
		return nil, false
	}
	sort.SliceStable(active, func(i, j int) bool {
		a, b := active[i], active[j]
		if a.Role.rank() != b.Role.rank() {
			return a.Role.rank() > b.Role.rank()
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.OrgID < b.OrgID
	})
	return active[0], true
}

// Directory answers membership questions for the payment and ledger layers.
type Directory struct {
	store Store
}

func NewDirectory(store Store) *Directory {
	return &Directory{store: store}
}

// PayingMembership returns the user's default paying membership.
func (d *Directory) PayingMembership(ctx context.Context, userID string) (*Membership, bool, error) {
	ms, err := d.store.MembershipsForUser(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	m, ok := SelectPaying(ms)
	return m, ok, nil
}

// ActiveMembership returns the user's membership in orgID if it is active.
func (d *Directory) ActiveMembership(ctx context.Context, orgID, userID string) (*Membership, bool, error) {
	m, err := d.store.Membership(ctx, orgID, userID)
	if errors.Is(err, ErrMembershipNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return m, m.Active(), nil
}

// ActiveOrgIDs lists the organizations the user actively belongs to, paying
// organization first.
func (d *Directory) ActiveOrgIDs(ctx context.Context, userID string) ([]string, error) {
	ms, err := d.store.MembershipsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	var ids []string
	if first, ok := SelectPaying(ms); ok {
		ids = append(ids, first.OrgID)
	}
	for _, m := range ms {
		if m.Active() && m.Role.Valid() && (len(ids) == 0 || m.OrgID != ids[0]) {
			ids = append(ids, m.OrgID)
		}
	}
	return ids, nil
}
