package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/customsdesk/internal/currency"
	"github.com/mbd888/customsdesk/internal/fx"
	"github.com/mbd888/customsdesk/internal/ledger"
	"github.com/mbd888/customsdesk/internal/logging"
	"github.com/mbd888/customsdesk/internal/notify"
	"github.com/mbd888/customsdesk/internal/org"
	"github.com/mbd888/customsdesk/internal/pricing"
	"github.com/mbd888/customsdesk/internal/questions"
	"github.com/mbd888/customsdesk/internal/tenant"
	"github.com/mbd888/customsdesk/internal/traces"
)

// Balances reads ledger balances. *ledger.Ledger satisfies it.
type Balances interface {
	Balance(ctx context.Context, scope ledger.Scope) (int64, error)
	CachedBalance(ctx context.Context, scope ledger.Scope) (int64, error)
	Refresh(ctx context.Context, scope ledger.Scope) (int64, error)
}

// Memberships answers who may spend an organization's credits.
// *org.Directory satisfies it.
type Memberships interface {
	PayingMembership(ctx context.Context, userID string) (*org.Membership, bool, error)
	ActiveMembership(ctx context.Context, orgID, userID string) (*org.Membership, bool, error)
}

// Tenants resolves the pricing profile of a request.
// *tenant.Resolver satisfies it.
type Tenants interface {
	ResolveOrDefault(ctx context.Context, principalID, host string) (tenant.Profile, error)
}

// Deps are the collaborators of a Service. Notifier and Logger are optional.
type Deps struct {
	Questions  questions.Store
	Store      Store
	Ledger     Balances
	Members    Memberships
	Tenants    Tenants
	Settings   pricing.SettingsStore
	Rates      fx.Source
	Currencies *currency.AllowList
	Notifier   notify.Notifier
	Logger     *slog.Logger
}

// Service orchestrates quotes and credit payments.
type Service struct {
	questions  questions.Store
	store      Store
	ledger     Balances
	members    Memberships
	tenants    Tenants
	settings   pricing.SettingsStore
	rates      fx.Source
	currencies *currency.AllowList
	locker     *pricing.Locker
	notifier   notify.Notifier
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(d Deps) *Service {
	if d.Currencies == nil {
		d.Currencies = currency.Default()
	}
	if d.Notifier == nil {
		d.Notifier = notify.Nop{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Service{
		questions:  d.Questions,
		store:      d.Store,
		ledger:     d.Ledger,
		members:    d.Members,
		tenants:    d.Tenants,
		settings:   d.Settings,
		rates:      d.Rates,
		currencies: d.Currencies,
		locker:     pricing.NewLocker(d.Currencies),
		notifier:   d.Notifier,
		logger:     d.Logger,
		now:        time.Now,
	}
}

// QuoteRequest asks for the price of a question as seen by a principal.
type QuoteRequest struct {
	PrincipalID string
	Host        string
	QuestionID  string
}

// PayRequest asks to pay for a question. OrganizationID is only read by
// PayAsOrganization; when empty the principal's paying organization is used.
type PayRequest struct {
	PrincipalID    string
	Host           string
	QuestionID     string
	OrganizationID string
}

// Display is a question price locked into the tenant's currency.
type Display struct {
	Currency   string          `json:"currency"`
	Amount     int64           `json:"amount"`
	Rate       decimal.Decimal `json:"rate"`
	RateAsOf   time.Time       `json:"rateAsOf"`
	Multiplier decimal.Decimal `json:"multiplier"`
}

// ScopeQuote is the cost and balance for one payment scope. Priced is false
// when the configured discount yields no valid credit cost.
type ScopeQuote struct {
	Scope      ledger.Scope `json:"scope"`
	Credits    int64        `json:"credits"`
	Priced     bool         `json:"priced"`
	Balance    int64        `json:"balance"`
	Sufficient bool         `json:"sufficient"`
}

// Quote is what a customer sees before paying.
type Quote struct {
	QuestionID   string           `json:"questionId"`
	BasePrice    decimal.Decimal  `json:"basePrice"`
	BaseCurrency string           `json:"baseCurrency"`
	Display      Display          `json:"display"`
	Individual   ScopeQuote       `json:"individual"`
	Organization ScopeQuote       `json:"organization"`
	Applies      ledger.ScopeType `json:"applies"`
	Payable      bool             `json:"payable"`
	TenantSource tenant.Source    `json:"tenantSource"`
}

// Receipt is returned after a committed payment.
type Receipt struct {
	QuestionID string       `json:"questionId"`
	Scope      ledger.Scope `json:"scope"`
	Credits    int64        `json:"credits"`
	EntryID    string       `json:"entryId"`
	Balance    int64        `json:"balance"`
	ApprovedAt time.Time    `json:"approvedAt"`
	Display    *Display     `json:"display,omitempty"`
}

// Quote prices a question for both scopes and reports which one applies to
// the requester. Balances are advisory. The display amount needs a live FX
// rate for non-base currencies; without one the quote fails with
// ErrRateUnavailable.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	ctx, span := traces.StartSpan(ctx, "payment.Quote", traces.QuestionID(req.QuestionID))
	defer span.End()

	q, err := s.ownedQuestion(ctx, req.PrincipalID, req.QuestionID)
	if err != nil {
		return nil, err
	}

	profile, err := s.tenants.ResolveOrDefault(ctx, req.PrincipalID, req.Host)
	if err != nil {
		return nil, s.unexpected(ctx, "resolve tenant", err, "question_id", q.ID)
	}
	span.SetAttributes(traces.Currency(profile.Currency))

	settings, err := s.activeSettings(ctx)
	if err != nil {
		return nil, err
	}
	reqs := pricing.Compute(q.BasePrice, settings, profile.Multiplier)

	display, err := s.lockDisplay(ctx, fx.NewRequestCache(s.rates), q.BasePrice, profile)
	if err != nil {
		traces.Fail(span, err)
		return nil, err
	}

	out := &Quote{
		QuestionID:   q.ID,
		BasePrice:    q.BasePrice,
		BaseCurrency: s.currencies.Base(),
		Display:      *display,
		Applies:      ledger.ScopeUser,
		Payable:      q.Payable(),
		TenantSource: profile.Source,
	}

	out.Individual, err = s.scopeQuote(ctx, ledger.UserScope(req.PrincipalID), reqs.Individual, reqs.IndividualErr)
	if err != nil {
		return nil, err
	}

	m, ok, err := s.members.PayingMembership(ctx, req.PrincipalID)
	if err != nil {
		return nil, s.unexpected(ctx, "load memberships", err, "question_id", q.ID)
	}
	if ok {
		out.Applies = ledger.ScopeOrg
		out.Organization, err = s.scopeQuote(ctx, ledger.OrgScope(m.OrgID), reqs.Organization, reqs.OrgErr)
		if err != nil {
			return nil, err
		}
	} else {
		out.Organization = ScopeQuote{
			Scope:   ledger.Scope{Type: ledger.ScopeOrg},
			Credits: reqs.Organization,
			Priced:  reqs.OrgErr == nil,
		}
	}
	return out, nil
}

func (s *Service) scopeQuote(ctx context.Context, scope ledger.Scope, credits int64, priceErr error) (ScopeQuote, error) {
	bal, err := s.ledger.CachedBalance(ctx, scope)
	if err != nil {
		return ScopeQuote{}, s.unexpected(ctx, "read balance", err, "scope_type", scope.Type, "scope_id", scope.ID)
	}
	sq := ScopeQuote{Scope: scope, Balance: bal, Priced: priceErr == nil}
	if sq.Priced {
		sq.Credits = credits
		sq.Sufficient = bal >= credits
	}
	return sq, nil
}

// PayAsIndividual debits the requester's own balance.
func (s *Service) PayAsIndividual(ctx context.Context, req PayRequest) (*Receipt, error) {
	return s.pay(ctx, req, ledger.ScopeUser)
}

// PayAsOrganization debits an organization the requester actively belongs to.
func (s *Service) PayAsOrganization(ctx context.Context, req PayRequest) (*Receipt, error) {
	return s.pay(ctx, req, ledger.ScopeOrg)
}

func (s *Service) pay(ctx context.Context, req PayRequest, kind ledger.ScopeType) (rec *Receipt, err error) {
	start := time.Now()
	ctx, span := traces.StartSpan(ctx, "payment.Pay",
		traces.QuestionID(req.QuestionID),
		traces.ScopeType(string(kind)),
	)
	defer func() {
		observePayment(kind, err, time.Since(start))
		if errors.Is(err, ErrUnexpected) {
			traces.Fail(span, err)
		}
		span.End()
	}()

	q, err := s.ownedQuestion(ctx, req.PrincipalID, req.QuestionID)
	if err != nil {
		return nil, err
	}

	scope := ledger.UserScope(req.PrincipalID)
	if kind == ledger.ScopeOrg {
		orgID, err := s.chargeableOrg(ctx, req)
		if err != nil {
			return nil, err
		}
		scope = ledger.OrgScope(orgID)
	}
	span.SetAttributes(traces.ScopeID(scope.ID))

	if !q.Payable() {
		return nil, ErrAlreadyProcessed
	}

	profile, err := s.tenants.ResolveOrDefault(ctx, req.PrincipalID, req.Host)
	if err != nil {
		return nil, s.unexpected(ctx, "resolve tenant", err, "question_id", q.ID)
	}

	credits, err := s.requiredCredits(ctx, q.BasePrice, profile.Multiplier, kind)
	if err != nil {
		s.log(ctx).Warn("question has no valid credit price",
			"question_id", q.ID, "scope_type", scope.Type, "scope_id", scope.ID, "error", err)
		return nil, err
	}
	span.SetAttributes(traces.Credits(credits))

	// The display snapshot is taken before the atomic section and never
	// gates the debit.
	display, derr := s.lockDisplay(ctx, fx.NewRequestCache(s.rates), q.BasePrice, profile)
	if derr != nil {
		s.log(ctx).Warn("display price unavailable for receipt",
			"question_id", q.ID, "currency", profile.Currency, "error", derr)
	}

	balance, err := s.ledger.Balance(ctx, scope)
	if err != nil {
		return nil, s.unexpected(ctx, "read balance", err,
			"question_id", q.ID, "scope_type", scope.Type, "scope_id", scope.ID, "credits", credits)
	}
	if balance < credits {
		return nil, &InsufficientCreditsError{Scope: scope, Required: credits, Balance: balance}
	}

	res, err := s.store.DebitAndApprove(ctx, Debit{
		QuestionID: q.ID,
		Scope:      scope,
		Credits:    credits,
		At:         s.now().UTC(),
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrAlreadyProcessed), errors.Is(err, ErrInsufficientCredits),
		errors.Is(err, ErrInvalidPricing), errors.Is(err, ErrUnexpected):
		return nil, err
	case errors.Is(err, questions.ErrNotFound):
		return nil, ErrNotFound
	default:
		return nil, s.unexpected(ctx, "debit and approve", err,
			"question_id", q.ID, "scope_type", scope.Type, "scope_id", scope.ID, "credits", credits)
	}

	debitedCredits.WithLabelValues(string(scope.Type)).Add(float64(credits))
	s.afterCommit(ctx, q, scope, credits, res)

	rec = &Receipt{
		QuestionID: q.ID,
		Scope:      scope,
		Credits:    credits,
		EntryID:    res.Entry.ID,
		Balance:    res.Balance,
		ApprovedAt: res.ApprovedAt,
		Display:    display,
	}
	return rec, nil
}

// afterCommit runs the side effects of a committed payment. Nothing here can
// undo or fail the payment.
func (s *Service) afterCommit(ctx context.Context, q *questions.Question, scope ledger.Scope, credits int64, res *Result) {
	if _, err := s.ledger.Refresh(ctx, scope); err != nil {
		s.log(ctx).Warn("balance hint refresh failed",
			"scope_type", scope.Type, "scope_id", scope.ID, "error", err)
	}

	s.notifier.QuestionApproved(ctx, notify.Approval{
		QuestionID:  q.ID,
		OwnerID:     q.OwnerID,
		AssigneeID:  q.AssigneeID,
		Title:       q.Title,
		ScopeType:   string(scope.Type),
		ScopeID:     scope.ID,
		Credits:     credits,
		ApprovedAt:  res.ApprovedAt,
		LedgerEntry: res.Entry.ID,
	})

	s.log(ctx).Info("question paid with credits",
		"question_id", q.ID,
		"scope_type", scope.Type,
		"scope_id", scope.ID,
		"credits", credits,
		"balance", res.Balance,
	)
}

func (s *Service) ownedQuestion(ctx context.Context, principalID, questionID string) (*questions.Question, error) {
	if principalID == "" {
		return nil, ErrForbidden
	}
	q, err := s.questions.Get(ctx, questionID)
	if errors.Is(err, questions.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, s.unexpected(ctx, "load question", err, "question_id", questionID)
	}
	if q.OwnerID != principalID {
		return nil, ErrForbidden
	}
	return q, nil
}

// chargeableOrg returns the organization to debit: the requested one if the
// principal actively belongs to it, else the principal's paying organization.
func (s *Service) chargeableOrg(ctx context.Context, req PayRequest) (string, error) {
	if req.OrganizationID != "" {
		_, active, err := s.members.ActiveMembership(ctx, req.OrganizationID, req.PrincipalID)
		if err != nil {
			return "", s.unexpected(ctx, "load membership", err, "organization_id", req.OrganizationID)
		}
		if !active {
			return "", ErrForbidden
		}
		return req.OrganizationID, nil
	}

	m, ok, err := s.members.PayingMembership(ctx, req.PrincipalID)
	if err != nil {
		return "", s.unexpected(ctx, "load memberships", err, "user_id", req.PrincipalID)
	}
	if !ok {
		return "", ErrForbidden
	}
	return m.OrgID, nil
}

func (s *Service) activeSettings(ctx context.Context) (*pricing.Settings, error) {
	settings, err := s.settings.Active(ctx)
	if errors.Is(err, pricing.ErrSettingsNotFound) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPricing, err)
	}
	if err != nil {
		return nil, s.unexpected(ctx, "load pricing settings", err)
	}
	return settings, nil
}

func (s *Service) requiredCredits(ctx context.Context, price, multiplier decimal.Decimal, kind ledger.ScopeType) (int64, error) {
	settings, err := s.activeSettings(ctx)
	if err != nil {
		return 0, err
	}
	reqs := pricing.Compute(price, settings, multiplier)
	credits, perr := reqs.Individual, reqs.IndividualErr
	if kind == ledger.ScopeOrg {
		credits, perr = reqs.Organization, reqs.OrgErr
	}
	if perr != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidPricing, perr)
	}
	return credits, nil
}

// lockDisplay converts price into the profile's currency. The base currency
// never needs a rate.
func (s *Service) lockDisplay(ctx context.Context, rates fx.Source, price decimal.Decimal, p tenant.Profile) (*Display, error) {
	d := &Display{Currency: p.Currency, Multiplier: p.Multiplier, Rate: decimal.NewFromInt(1)}
	if !s.currencies.IsBase(p.Currency) {
		if rates == nil {
			return nil, fmt.Errorf("%w: no rate source configured", ErrRateUnavailable)
		}
		r, err := rates.Rate(ctx, p.Currency)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRateUnavailable, err)
		}
		d.Rate, d.RateAsOf = r.UnitsPerBase, r.AsOf
	} else {
		y, m, day := s.now().Date()
		d.RateAsOf = time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
	}

	amount, err := s.locker.Lock(price, p.Currency, d.Rate, p.Multiplier)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPricing, err)
	}
	d.Amount = amount
	return d, nil
}

// unexpected logs an infrastructure fault with its context and wraps it.
func (s *Service) unexpected(ctx context.Context, op string, err error, attrs ...any) error {
	args := append([]any{"op", op, "error", err}, attrs...)
	s.log(ctx).Error("payment infrastructure failure", args...)
	return fmt.Errorf("%w: %s: %w", ErrUnexpected, op, err)
}

func (s *Service) log(ctx context.Context) *slog.Logger {
	if id := logging.RequestID(ctx); id != "" {
		return s.logger.With("request_id", id)
	}
	return s.logger
}
