// Package pricing turns base-currency prices into customer-facing numbers:
// a locked amount in the tenant's display currency, and the number of
// credits a unit of work costs.
//
// The two paths apply the tenant multiplier independently. Locking a display
// price never touches credits, and computing credits never needs an FX rate.
package pricing

import (
	"errors"
	"fmt"
	"math"

	"github.com/mbd888/customsdesk/internal/currency"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidInput   = errors.New("pricing: invalid input")
	ErrInvalidPricing = errors.New("pricing: computed credit cost is not positive")
)

// MaxMultiplier bounds the tenant pricing multiplier.
var MaxMultiplier = decimal.NewFromInt(100)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
	maxInt  = decimal.NewFromInt(math.MaxInt64)
)

// wholeUnits rounds d to an integer. ok is false when the result does not
// fit in an int64.
func wholeUnits(d decimal.Decimal) (n int64, ok bool) {
	r := d.Round(0)
	if r.GreaterThan(maxInt) || r.LessThan(maxInt.Neg()) {
		return 0, false
	}
	return r.IntPart(), true
}

// Lock converts a base-currency amount into a whole-unit amount in the target
// currency. rate is "1 unit of target = rate units of base"; it is ignored
// when isBase is true. Halves round away from zero.
func Lock(baseAmount decimal.Decimal, isBase bool, rate, multiplier decimal.Decimal) (int64, error) {
	if multiplier.Sign() <= 0 {
		return 0, fmt.Errorf("%w: multiplier must be > 0, got %s", ErrInvalidInput, multiplier)
	}
	amount := baseAmount
	if !isBase {
		if rate.Sign() <= 0 {
			return 0, fmt.Errorf("%w: rate must be > 0, got %s", ErrInvalidInput, rate)
		}
		amount = amount.Div(rate)
	}
	n, ok := wholeUnits(amount.Mul(multiplier))
	if !ok {
		return 0, fmt.Errorf("%w: locked amount out of range for %s", ErrInvalidInput, baseAmount)
	}
	return n, nil
}

// Locker locks base prices into a tenant's display currency.
type Locker struct {
	currencies *currency.AllowList
}

// NewLocker creates a Locker that treats currencies.Base() as the base.
func NewLocker(currencies *currency.AllowList) *Locker {
	return &Locker{currencies: currencies}
}

// Lock converts baseAmount into target. For the base currency the rate is
// not consulted.
func (l *Locker) Lock(baseAmount decimal.Decimal, target string, rate, multiplier decimal.Decimal) (int64, error) {
	return Lock(baseAmount, l.currencies.IsBase(target), rate, multiplier)
}

// NormalizeDiscount maps a discount given either as a fraction (0.1) or a
// percentage (10) onto a fraction in [0, 1).
func NormalizeDiscount(d decimal.Decimal) (decimal.Decimal, error) {
	if d.Sign() < 0 {
		return decimal.Zero, fmt.Errorf("%w: negative discount %s", ErrInvalidInput, d)
	}
	if d.GreaterThan(one) {
		d = d.Div(hundred)
	}
	if d.GreaterThanOrEqual(one) {
		return decimal.Zero, fmt.Errorf("%w: discount of 100%% or more", ErrInvalidInput)
	}
	return d, nil
}

// RequiredCredits computes the credits needed to pay baseAmount at the given
// credit unit price, discount and multiplier. A non-positive unit price is
// treated as 1. Results <= 0 are rejected with ErrInvalidPricing.
func RequiredCredits(baseAmount, unitPrice, discount, multiplier decimal.Decimal) (int64, error) {
	d, err := NormalizeDiscount(discount)
	if err != nil {
		return 0, err
	}
	if multiplier.Sign() <= 0 {
		return 0, fmt.Errorf("%w: multiplier must be > 0, got %s", ErrInvalidInput, multiplier)
	}
	if unitPrice.Sign() <= 0 {
		unitPrice = one
	}

	discounted := baseAmount.Mul(one.Sub(d))
	credits, ok := wholeUnits(discounted.Div(unitPrice).Mul(multiplier))
	if !ok {
		return 0, fmt.Errorf("%w: credit cost out of range for amount %s", ErrInvalidPricing, baseAmount)
	}
	if credits <= 0 {
		return 0, fmt.Errorf("%w: %d credits for amount %s", ErrInvalidPricing, credits, baseAmount)
	}
	return credits, nil
}

// ValidMultiplier reports whether m lies in (0, MaxMultiplier].
func ValidMultiplier(m decimal.Decimal) bool {
	return m.Sign() > 0 && m.LessThanOrEqual(MaxMultiplier)
}

// Requirements holds the credit cost of one price for both payment scopes.
type Requirements struct {
	Individual    int64 `json:"individual"`
	Organization  int64 `json:"organization"`
	IndividualErr error `json:"-"`
	OrgErr        error `json:"-"`
}

// Compute calculates the individual and organizational requirement for
// price. Both are always computed so callers can display them side by side;
// a failure in one does not suppress the other.
func Compute(price decimal.Decimal, s *Settings, multiplier decimal.Decimal) Requirements {
	var r Requirements
	r.Individual, r.IndividualErr = RequiredCredits(price, s.CreditUnitPrice, s.IndividualDiscount, multiplier)
	r.Organization, r.OrgErr = RequiredCredits(price, s.CreditUnitPrice, s.OrganizationDiscount, multiplier)
	return r
}
