package fx

import (
	"context"
	"strings"
	"sync"
)

// RequestCache memoizes rates for the lifetime of one request. Create one
// per request and drop it afterwards. Failures are not cached.
type RequestCache struct {
	src   Source
	mu    sync.Mutex
	rates map[string]Rate
}

// NewRequestCache wraps src.
func NewRequestCache(src Source) *RequestCache {
	return &RequestCache{src: src, rates: make(map[string]Rate)}
}

func (c *RequestCache) Rate(ctx context.Context, code string) (Rate, error) {
	key := strings.ToUpper(strings.TrimSpace(code))

	c.mu.Lock()
	r, ok := c.rates[key]
	c.mu.Unlock()
	if ok {
		return r, nil
	}

	r, err := c.src.Rate(ctx, key)
	if err != nil {
		return Rate{}, err
	}
	c.mu.Lock()
	c.rates[key] = r
	c.mu.Unlock()
	return r, nil
}

var _ Source = (*RequestCache)(nil)
