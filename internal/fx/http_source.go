package fx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/singleflight"

	"github.com/mbd888/customsdesk/internal/circuitbreaker"
	"github.com/mbd888/customsdesk/internal/retry"
)

// table is the published daily rate sheet.
//
//	{"published": "2026-03-02", "rates": [{"currency": "USD", "buying": "30.1", "selling": "30,5"}]}
type table struct {
	Published string     `json:"published"`
	Rates     []tableRow `json:"rates"`
}

type tableRow struct {
	Currency string     `json:"currency"`
	Buying   flexNumber `json:"buying"`
	Selling  flexNumber `json:"selling"`
}

// flexNumber accepts a JSON number or a string in either decimal notation.
type flexNumber string

func (f *flexNumber) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexNumber(s)
		return nil
	}
	*f = flexNumber(strings.TrimSpace(string(b)))
	return nil
}

// HTTPConfig configures an HTTPSource.
type HTTPConfig struct {
	URL     string
	Base    string
	Timeout time.Duration
	Logger  *slog.Logger
}

// HTTPSource fetches the daily table from the rate publisher and returns the
// selling rate for the requested currency. Concurrent lookups share a single
// in-flight fetch; nothing is kept once that fetch returns.
type HTTPSource struct {
	url     string
	base    string
	timeout time.Duration
	client  *resty.Client
	group   singleflight.Group
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
	now     func() time.Time
}

// NewHTTPSource creates a source for the publisher at cfg.URL.
func NewHTTPSource(cfg HTTPConfig) *HTTPSource {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")

	return &HTTPSource{
		url:     cfg.URL,
		base:    strings.ToUpper(cfg.Base),
		timeout: cfg.Timeout,
		client:  client,
		breaker: circuitbreaker.New(3, 30*time.Second),
		logger:  cfg.Logger,
		now:     time.Now,
	}
}

// Rate returns the selling rate for code. The base currency is always 1.
func (s *HTTPSource) Rate(ctx context.Context, code string) (Rate, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == s.base {
		return baseRate(code, s.now()), nil
	}

	start := time.Now()
	tbl, err := s.table(ctx)
	if err != nil {
		observeLookup("fetch_failed", start)
		s.logger.Warn("fx rate fetch failed", "currency", code, "error", err)
		return Rate{}, err
	}

	r, err := pick(tbl, code)
	if err != nil {
		observeLookup("parse_failed", start)
		s.logger.Warn("fx rate unusable", "currency", code, "error", err)
		return Rate{}, err
	}
	observeLookup("ok", start)
	return r, nil
}

func (s *HTTPSource) table(ctx context.Context) (*table, error) {
	ch := s.group.DoChan("table", func() (any, error) {
		// Detached so one caller cancelling does not fail the others.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*s.timeout)
		defer cancel()
		return s.fetch(fctx)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrRateUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*table), nil
	}
}

func (s *HTTPSource) fetch(ctx context.Context) (*table, error) {
	key := breakerKey(s.url)
	var tbl *table
	err := s.breaker.Execute(key, nil, func() error {
		return retry.Do(ctx, 3, 200*time.Millisecond, func() error {
			resp, err := s.client.R().SetContext(ctx).Get(s.url)
			if err != nil {
				return err
			}
			if resp.StatusCode() >= http.StatusInternalServerError {
				return fmt.Errorf("rate publisher returned %d", resp.StatusCode())
			}
			if resp.IsError() {
				return retry.Permanent(fmt.Errorf("rate publisher returned %d", resp.StatusCode()))
			}
			var t table
			if err := json.Unmarshal(resp.Body(), &t); err != nil {
				return retry.Permanent(fmt.Errorf("decode rate table: %w", err))
			}
			tbl = &t
			return nil
		})
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return nil, fmt.Errorf("%w: publisher circuit open", ErrRateUnavailable)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
	}
	return tbl, nil
}

// pick extracts the selling rate for code, dated by the table's publication
// date rather than the fetch time.
func pick(tbl *table, code string) (Rate, error) {
	asOf, err := ParsePublished(tbl.Published)
	if err != nil {
		return Rate{}, err
	}
	for _, row := range tbl.Rates {
		if !strings.EqualFold(strings.TrimSpace(row.Currency), code) {
			continue
		}
		v, err := ParseRate(string(row.Selling))
		if err != nil {
			return Rate{}, err
		}
		return Rate{Currency: code, UnitsPerBase: v, AsOf: asOf}, nil
	}
	return Rate{}, fmt.Errorf("%w: %s not published", ErrRateUnavailable, code)
}

func breakerKey(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		return "fx:" + u.Host
	}
	return "fx"
}

var _ Source = (*HTTPSource)(nil)
