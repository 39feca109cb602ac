// Package currency holds the fixed base currency and the allow-list of
// display currencies a tenant may be configured with.
package currency

import (
	"sort"
	"strings"
)

// DefaultBase is the currency all prices are authored in.
const DefaultBase = "TWD"

// DefaultOthers are the non-base display currencies accepted out of the box.
var DefaultOthers = []string{"USD", "EUR", "JPY", "CNY"}

// AllowList is the set of currencies a tenant may display prices in.
// The base currency is always a member.
type AllowList struct {
	base    string
	allowed map[string]bool
}

// NewAllowList builds an allow-list from a base currency and additional codes.
// Codes are trimmed and upper-cased; blanks are ignored.
func NewAllowList(base string, others ...string) *AllowList {
	base = canonical(base)
	if base == "" {
		base = DefaultBase
	}
	a := &AllowList{base: base, allowed: map[string]bool{base: true}}
	for _, code := range others {
		if c := canonical(code); c != "" {
			a.allowed[c] = true
		}
	}
	return a
}

// Default returns the allow-list with DefaultBase and DefaultOthers.
func Default() *AllowList {
	return NewAllowList(DefaultBase, DefaultOthers...)
}

// Base returns the base currency code.
func (a *AllowList) Base() string {
	return a.base
}

// IsBase reports whether code denotes the base currency.
func (a *AllowList) IsBase(code string) bool {
	return canonical(code) == a.base
}

// Allowed reports whether code is on the allow-list.
func (a *AllowList) Allowed(code string) bool {
	return a.allowed[canonical(code)]
}

// Normalize upper-cases code and replaces anything outside the allow-list
// with the base currency. The raw value is never returned unchecked.
func (a *AllowList) Normalize(code string) string {
	c := canonical(code)
	if !a.allowed[c] {
		return a.base
	}
	return c
}

// Codes returns the allowed codes, base first, remaining ones sorted.
func (a *AllowList) Codes() []string {
	out := make([]string, 0, len(a.allowed))
	for c := range a.allowed {
		if c != a.base {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return append([]string{a.base}, out...)
}

func canonical(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
