// Package ledger is the append-only credit ledger.
//
// A balance is never stored: it is the sum of every entry's signed quantity
// for a scope (a user or an organization). Entries are inserted and never
// updated or deleted. The only cached number is the advisory BalanceCache
// hint, which is rebuilt from the sum and never consulted for a debit.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mbd888/customsdesk/internal/pagination"
)

var (
	ErrInvalidScope    = errors.New("ledger: invalid scope")
	ErrInvalidQuantity = errors.New("ledger: invalid quantity")
)

// ScopeType identifies who owns a balance.
type ScopeType string

const (
	ScopeUser ScopeType = "user"
	ScopeOrg  ScopeType = "org"
)

// Scope is one balance holder.
type Scope struct {
	Type ScopeType `json:"type"`
	ID   string    `json:"id"`
}

func UserScope(userID string) Scope { return Scope{Type: ScopeUser, ID: userID} }
func OrgScope(orgID string) Scope   { return Scope{Type: ScopeOrg, ID: orgID} }

// ParseScopeType accepts "user", "org" or "organization".
func ParseScopeType(s string) (ScopeType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user", "individual":
		return ScopeUser, true
	case "org", "organization":
		return ScopeOrg, true
	}
	return "", false
}

func (s Scope) Valid() bool {
	return (s.Type == ScopeUser || s.Type == ScopeOrg) && strings.TrimSpace(s.ID) != ""
}

// Key is the string form used for lock names and cache keys.
func (s Scope) Key() string { return string(s.Type) + ":" + s.ID }

func (s Scope) String() string { return s.Key() }

// Reason labels why an entry was written.
type Reason string

const (
	ReasonQuestionPayment Reason = "question_payment"
	ReasonTopUp           Reason = "top_up"
	ReasonAdjustment      Reason = "adjustment"
)

// Entry is one immutable ledger row. Quantity is negative for debits.
type Entry struct {
	ID          string    `json:"id"`
	ScopeType   ScopeType `json:"scopeType"`
	ScopeID     string    `json:"scopeId"`
	Quantity    int64     `json:"quantity"`
	Reason      Reason    `json:"reason"`
	ResourceRef string    `json:"resourceRef,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (e *Entry) Scope() Scope { return Scope{Type: e.ScopeType, ID: e.ScopeID} }

// Store persists ledger entries.
type Store interface {
	// BalanceOf returns the sum of all committed entries for scope.
	BalanceOf(ctx context.Context, scope Scope) (int64, error)
	// Append inserts one entry and returns its id.
	Append(ctx context.Context, e *Entry) (string, error)
	// History returns up to limit entries older than before, newest first.
	History(ctx context.Context, scope Scope, limit int, before *pagination.Cursor) ([]*Entry, error)
	// Scopes lists every scope that has at least one entry.
	Scopes(ctx context.Context) ([]Scope, error)
}

// Ledger wraps a Store with validation, the balance hint and metrics.
type Ledger struct {
	store  Store
	cache  BalanceCache
	logger *slog.Logger
}

// New creates a ledger. A nil cache disables the balance hint.
func New(store Store, cache BalanceCache, logger *slog.Logger) *Ledger {
	if cache == nil {
		cache = NopCache{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: store, cache: cache, logger: logger}
}

// Store exposes the underlying store for the payment path.
func (l *Ledger) Store() Store { return l.store }

// Balance returns the authoritative balance (sum of entries).
func (l *Ledger) Balance(ctx context.Context, scope Scope) (int64, error) {
	if !scope.Valid() {
		return 0, ErrInvalidScope
	}
	done := observeOp("balance")
	defer done()
	return l.store.BalanceOf(ctx, scope)
}

// CachedBalance returns the hint when present and the authoritative sum
// otherwise. Use it for display only.
func (l *Ledger) CachedBalance(ctx context.Context, scope Scope) (int64, error) {
	if !scope.Valid() {
		return 0, ErrInvalidScope
	}
	if v, ok := l.cache.Get(ctx, scope); ok {
		cacheLookups.WithLabelValues("hit").Inc()
		return v, nil
	}
	cacheLookups.WithLabelValues("miss").Inc()
	return l.Refresh(ctx, scope)
}

// Refresh recomputes the balance from entries and rewrites the hint.
func (l *Ledger) Refresh(ctx context.Context, scope Scope) (int64, error) {
	bal, err := l.Balance(ctx, scope)
	if err != nil {
		return 0, err
	}
	l.cache.Set(ctx, scope, bal)
	return bal, nil
}

// Grant appends a positive top-up for scope and returns the entry.
func (l *Ledger) Grant(ctx context.Context, scope Scope, credits int64, reason Reason, ref string) (*Entry, error) {
	if !scope.Valid() {
		return nil, ErrInvalidScope
	}
	if credits <= 0 {
		return nil, ErrInvalidQuantity
	}
	if reason == "" {
		reason = ReasonTopUp
	}

	done := observeOp("grant")
	defer done()

	e := &Entry{
		ScopeType:   scope.Type,
		ScopeID:     scope.ID,
		Quantity:    credits,
		Reason:      reason,
		ResourceRef: ref,
	}
	id, err := l.store.Append(ctx, e)
	if err != nil {
		return nil, fmt.Errorf("grant %d to %s: %w", credits, scope, err)
	}
	e.ID = id

	if _, err := l.Refresh(ctx, scope); err != nil {
		l.logger.Warn("balance hint refresh failed", "scope", scope.Key(), "error", err)
	}
	l.logger.Info("credits granted", "scope_type", scope.Type, "scope_id", scope.ID, "credits", credits)
	return e, nil
}

// Page is one slice of a scope's history.
type Page struct {
	Entries    []*Entry `json:"entries"`
	NextCursor string   `json:"nextCursor,omitempty"`
	HasMore    bool     `json:"hasMore"`
}

// History returns up to limit entries, newest first, starting after cursor.
// An empty cursor starts from the newest entry.
func (l *Ledger) History(ctx context.Context, scope Scope, limit int, cursor string) (*Page, error) {
	if !scope.Valid() {
		return nil, ErrInvalidScope
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	before, err := pagination.Decode(cursor)
	if err != nil {
		return nil, err
	}
	done := observeOp("history")
	defer done()

	entries, err := l.store.History(ctx, scope, limit+1, before)
	if err != nil {
		return nil, err
	}
	entries, next, more := pagination.ComputePage(entries, limit, func(e *Entry) (time.Time, string) {
		return e.CreatedAt, e.ID
	})
	if entries == nil {
		entries = []*Entry{}
	}
	return &Page{Entries: entries, NextCursor: next, HasMore: more}, nil
}

// Drift describes a scope whose hint disagreed with the ledger sum.
type Drift struct {
	Scope  Scope `json:"scope"`
	Cached int64 `json:"cached"`
	Actual int64 `json:"actual"`
}

// Reconcile recomputes the balance of every scope (or only the given ones)
// from entries, rewrites the hints and reports the scopes whose hint was
// stale. A missing hint is not drift.
func (l *Ledger) Reconcile(ctx context.Context, scopes ...Scope) ([]Drift, error) {
	if len(scopes) == 0 {
		all, err := l.store.Scopes(ctx)
		if err != nil {
			return nil, err
		}
		scopes = all
	}

	done := observeOp("reconcile")
	defer done()

	var drift []Drift
	for _, s := range scopes {
		cached, hadHint := l.cache.Get(ctx, s)
		actual, err := l.Refresh(ctx, s)
		if err != nil {
			return drift, fmt.Errorf("reconcile %s: %w", s, err)
		}
		if hadHint && cached != actual {
			drift = append(drift, Drift{Scope: s, Cached: cached, Actual: actual})
			l.logger.Warn("balance hint drift", "scope", s.Key(), "cached", cached, "actual", actual)
		}
	}
	return drift, nil
}
