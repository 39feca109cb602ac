package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/customsdesk/internal/auth"
	"github.com/mbd888/customsdesk/internal/config"
	"github.com/mbd888/customsdesk/internal/fx"
	"github.com/mbd888/customsdesk/internal/ledger"
	"github.com/mbd888/customsdesk/internal/notify"
	"github.com/mbd888/customsdesk/internal/questions"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const adminSecret = "test-admin-secret"

type recordingNotifier struct {
	mu        sync.Mutex
	approvals []notify.Approval
}

func (r *recordingNotifier) QuestionApproved(_ context.Context, a notify.Approval) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.approvals = append(r.approvals, a)
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.approvals)
}

// testConfig returns a minimal in-memory config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:              "0",
		Env:               "development",
		LogLevel:          "error",
		AdminSecret:       adminSecret,
		BaseCurrency:      "TWD",
		AllowedCurrencies: config.DefaultAllowedCurrencies,
		FXTimeout:         config.DefaultFXTimeout,
		CreditUnitPrice:   decimal.NewFromInt(100),
	}
}

func newTestServer(t *testing.T) (*Server, *recordingNotifier) {
	t.Helper()
	n := &recordingNotifier{}
	s, err := New(testConfig(),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithRates(fx.NewStaticSource("TWD")),
		WithNotifier(n),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		s.rateLimiter.Stop()
		s.payLimiter.Stop()
	})
	return s, n
}

func request(s *Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func as(principal string) map[string]string {
	return map[string]string{auth.HeaderPrincipal: principal}
}

func admin() map[string]string {
	return map[string]string{auth.HeaderAdminSecret: adminSecret}
}

func TestHealthEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	w := request(s, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, Version, body.Version)

	assert.Equal(t, http.StatusOK, request(s, http.MethodGet, "/health/live", nil, nil).Code)

	// Not ready until Run has started the listener.
	assert.Equal(t, http.StatusServiceUnavailable, request(s, http.MethodGet, "/health/ready", nil, nil).Code)
	s.ready.Store(true)
	assert.Equal(t, http.StatusOK, request(s, http.MethodGet, "/health/ready", nil, nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	request(s, http.MethodGet, "/health", nil, nil)

	w := request(s, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "customsdesk_http_requests_total")
}

func TestMiddleware_RequestIDAndSecurityHeaders(t *testing.T) {
	s, _ := newTestServer(t)

	w := request(s, http.MethodGet, "/health/live", nil, nil)
	assert.Len(t, w.Header().Get("X-Request-ID"), 32)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	w = request(s, http.MethodGet, "/health/live", nil, map[string]string{"X-Request-ID": "req-123"})
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
}

func TestRoutes_AccessControl(t *testing.T) {
	s, _ := newTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, request(s, http.MethodGet, "/v1/credits/balance", nil, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, request(s, http.MethodPost, "/v1/questions/q1/pay", nil, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, request(s, http.MethodPost, "/v1/admin/credits", nil, nil).Code)

	// Anonymous callers still get the default tenant profile.
	w := request(s, http.MethodGet, "/v1/tenant/profile", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"TWD"`)

	w = request(s, http.MethodPost, "/v1/questions/bad%20id/pay", nil, as("u1"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQuoteAndPay(t *testing.T) {
	s, notifier := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, s.questions.Create(ctx, &questions.Question{
		ID:        "q1",
		OwnerID:   "u1",
		Title:     "Tariff code for ceramic tiles",
		BasePrice: decimal.NewFromInt(10000),
	}))

	w := request(s, http.MethodPost, "/v1/admin/credits", map[string]any{
		"scopeType": "user", "scopeId": "u1", "credits": 150,
	}, admin())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = request(s, http.MethodGet, "/v1/questions/q1/quote", nil, as("u1"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var quote struct {
		Quote struct {
			Individual struct {
				Credits    int64 `json:"credits"`
				Balance    int64 `json:"balance"`
				Sufficient bool  `json:"sufficient"`
			} `json:"individual"`
			Applies string `json:"applies"`
			Display struct {
				Currency string `json:"currency"`
				Amount   int64  `json:"amount"`
			} `json:"display"`
		} `json:"quote"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &quote))
	assert.Equal(t, int64(100), quote.Quote.Individual.Credits)
	assert.Equal(t, int64(150), quote.Quote.Individual.Balance)
	assert.True(t, quote.Quote.Individual.Sufficient)
	assert.Equal(t, "user", quote.Quote.Applies)
	assert.Equal(t, "TWD", quote.Quote.Display.Currency)
	assert.Equal(t, int64(10000), quote.Quote.Display.Amount)

	w = request(s, http.MethodPost, "/v1/questions/q1/pay", nil, as("u1"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"balance":50`)
	assert.Equal(t, 1, notifier.count())

	w = request(s, http.MethodPost, "/v1/questions/q1/pay", nil, as("u1"))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = request(s, http.MethodGet, "/v1/credits/balance", nil, as("u1"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"balance":50`)

	w = request(s, http.MethodGet, "/v1/credits/history", nil, as("u1"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"quantity":-100`)
	assert.Equal(t, 1, notifier.count())
}

func TestPay_OtherUsersQuestionForbidden(t *testing.T) {
	s, notifier := newTestServer(t)
	require.NoError(t, s.questions.Create(context.Background(), &questions.Question{
		ID: "q1", OwnerID: "u1", Title: "Origin rules", BasePrice: decimal.NewFromInt(1000),
	}))

	w := request(s, http.MethodPost, "/v1/questions/q1/pay", nil, as("u2"))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Zero(t, notifier.count())
}

func TestMaskDSN(t *testing.T) {
	masked := maskDSN("postgres://app:hunter2@db:5432/desk")
	assert.NotContains(t, masked, "hunter2")
	assert.Contains(t, masked, "@db:5432/desk")
	assert.Equal(t, "***", maskDSN("://bad"))
}

func TestDevelopmentRates(t *testing.T) {
	ctx := context.Background()

	twd := developmentRates("TWD")
	r, err := twd.Rate(ctx, "USD")
	require.NoError(t, err)
	assert.True(t, r.UnitsPerBase.IsPositive())

	usd := developmentRates("USD")
	_, err = usd.Rate(ctx, "EUR")
	assert.ErrorIs(t, err, fx.ErrRateUnavailable)
	r, err = usd.Rate(ctx, "USD")
	require.NoError(t, err)
	assert.True(t, r.UnitsPerBase.Equal(decimal.NewFromInt(1)))
}

func TestRedisHint_EnablesReconciliation(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.RedisURL = "redis://" + mr.Addr()
	cfg.ReconcileInterval = time.Hour

	s, err := New(cfg,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithRates(fx.NewStaticSource("TWD")),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		s.rateLimiter.Stop()
		s.payLimiter.Stop()
		_ = s.redis.Close()
	})
	require.NotNil(t, s.reconcile)

	_, err = s.ledger.Refresh(context.Background(), ledger.UserScope("u1"))
	require.NoError(t, err)
	assert.True(t, mr.Exists("customsdesk:balance:user:u1"), "keys: %v", mr.Keys())

	w := request(s, http.MethodGet, "/v1/admin/credits/reconcile/last", nil, admin())
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"not_found"`)

	_, err = s.reconciler.Run(context.Background())
	require.NoError(t, err)
	w = request(s, http.MethodGet, "/v1/admin/credits/reconcile/last", nil, admin())
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNoRedis_NoReconcileRoute(t *testing.T) {
	s, _ := newTestServer(t)
	assert.Nil(t, s.reconcile)

	w := request(s, http.MethodGet, "/v1/admin/credits/reconcile/last", nil, admin())
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NotContains(t, w.Body.String(), `"not_found"`)
}
