package fx

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// StaticSource serves fixed rates (for demo/testing).
type StaticSource struct {
	base  string
	rates map[string]Rate
	now   func() time.Time
	mu    sync.RWMutex
}

// NewStaticSource creates a static source for the given base currency.
func NewStaticSource(base string) *StaticSource {
	return &StaticSource{
		base:  strings.ToUpper(base),
		rates: make(map[string]Rate),
		now:   time.Now,
	}
}

// SetRate sets "1 code = unitsPerBase base" as of asOf.
func (s *StaticSource) SetRate(code string, unitsPerBase decimal.Decimal, asOf time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code = strings.ToUpper(code)
	s.rates[code] = Rate{Currency: code, UnitsPerBase: unitsPerBase, AsOf: asOf}
}

// Rate returns the configured rate.
func (s *StaticSource) Rate(_ context.Context, code string) (Rate, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == s.base {
		return baseRate(code, s.now()), nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rates[code]
	if !ok || r.UnitsPerBase.Sign() <= 0 {
		return Rate{}, fmt.Errorf("%w: no rate for %s", ErrRateUnavailable, code)
	}
	return r, nil
}

var _ Source = (*StaticSource)(nil)
