// Package fx looks up daily foreign-exchange rates against the base currency.
//
// A Rate reads "1 unit of Currency = UnitsPerBase units of base currency".
// Rates are request-scoped snapshots: callers may memoize them for the rest of
// one request (see RequestCache) but must not store them as a long-lived
// source of truth, because the upstream table is republished daily.
package fx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrRateUnavailable is returned when a rate cannot be obtained or parsed.
// It is never papered over with a rate of 1.
var ErrRateUnavailable = errors.New("fx: rate unavailable")

// Rate is one currency's selling rate against the base currency.
type Rate struct {
	Currency     string          `json:"currency"`
	UnitsPerBase decimal.Decimal `json:"unitsPerBase"`
	AsOf         time.Time       `json:"asOf"`
}

// Source returns the rate for a currency code.
type Source interface {
	Rate(ctx context.Context, code string) (Rate, error)
}

// baseRate is the identity rate for the base currency, dated today.
func baseRate(code string, now time.Time) Rate {
	y, m, d := now.Date()
	return Rate{
		Currency:     code,
		UnitsPerBase: decimal.NewFromInt(1),
		AsOf:         time.Date(y, m, d, 0, 0, 0, 0, now.Location()),
	}
}

// ParseRate parses a published rate. It accepts dot or comma decimals and
// optional thousands separators ("30.12", "30,12", "1,234.56", "1.234,56",
// "1 234,56"). The result must be strictly positive.
func ParseRate(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	s = strings.NewReplacer(" ", "", " ", "", " ", "", "'", "", "_", "").Replace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: empty rate", ErrRateUnavailable)
	}

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		// Whichever separator comes last is the decimal point.
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case lastDot >= 0:
		if strings.Count(s, ".") > 1 {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: unparseable rate %q", ErrRateUnavailable, raw)
	}
	if d.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%w: non-positive rate %q", ErrRateUnavailable, raw)
	}
	return d, nil
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"02.01.2006",
	"20060102",
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// ParsePublished parses the publication date stated by the rate source.
func ParsePublished(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unparseable publication date %q", ErrRateUnavailable, raw)
}
