// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/shopspring/decimal"

	"github.com/mbd888/customsdesk/internal/auth"
	"github.com/mbd888/customsdesk/internal/config"
	"github.com/mbd888/customsdesk/internal/currency"
	"github.com/mbd888/customsdesk/internal/fx"
	"github.com/mbd888/customsdesk/internal/health"
	"github.com/mbd888/customsdesk/internal/ledger"
	"github.com/mbd888/customsdesk/internal/logging"
	"github.com/mbd888/customsdesk/internal/metrics"
	"github.com/mbd888/customsdesk/internal/notify"
	"github.com/mbd888/customsdesk/internal/org"
	"github.com/mbd888/customsdesk/internal/payment"
	"github.com/mbd888/customsdesk/internal/pricing"
	"github.com/mbd888/customsdesk/internal/questions"
	"github.com/mbd888/customsdesk/internal/ratelimit"
	"github.com/mbd888/customsdesk/internal/reconciliation"
	"github.com/mbd888/customsdesk/internal/security"
	"github.com/mbd888/customsdesk/internal/tenant"
	"github.com/mbd888/customsdesk/internal/traces"
	"github.com/mbd888/customsdesk/internal/validation"
)

// Version is reported by /health and attached to traces.
const Version = "0.1.0"

const (
	balanceHintTTL    = 10 * time.Minute
	// The cache appends "balance:<scope>" to this.
	balanceHintPrefix = "customsdesk:"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg        *config.Config
	currencies *currency.AllowList

	tenants   tenant.Store
	resolver  *tenant.Resolver
	orgs      org.Store
	questions questions.Store
	ledger    *ledger.Ledger
	settings  pricing.SettingsStore
	rates     fx.Source
	notifier  notify.Notifier
	emitter   *notify.Emitter // nil unless a webhook is configured
	payments  *payment.Service
	payStore  payment.Store

	reconciler *reconciliation.Runner // nil without the Redis hint
	reconcile  *reconciliation.Timer

	health      *health.Registry
	rateLimiter *ratelimit.Limiter
	payLimiter  *ratelimit.Limiter

	db              *sql.DB       // nil if using in-memory
	redis           *redis.Client // nil without REDIS_URL
	router          *gin.Engine
	httpSrv         *http.Server
	logger          *slog.Logger
	cancelRunCtx    context.CancelFunc // cancels background goroutines started in Run
	shutdownTracing func(context.Context) error

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithRates replaces the configured FX source (for testing).
func WithRates(src fx.Source) Option {
	return func(s *Server) {
		s.rates = src
	}
}

// WithNotifier replaces the configured approval notifier (for testing).
func WithNotifier(n notify.Notifier) Option {
	return func(s *Server) {
		s.notifier = n
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	shutdownTracing, err := traces.Init(ctx, cfg.OTLPEndpoint, Version, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	s.shutdownTracing = shutdownTracing

	s.currencies = currency.NewAllowList(cfg.BaseCurrency, cfg.AllowedCurrencies...)
	s.health = health.NewRegistry()

	if err := s.setupStorage(ctx); err != nil {
		return nil, err
	}
	if err := s.setupBalanceHint(ctx); err != nil {
		return nil, err
	}
	s.setupRates()
	s.setupNotifier()

	s.resolver = tenant.NewResolver(s.tenants, s.currencies, s.logger)
	s.payments = payment.NewService(payment.Deps{
		Questions:  s.questions,
		Store:      s.payStore,
		Ledger:     s.ledger,
		Members:    org.NewDirectory(s.orgs),
		Tenants:    s.resolver,
		Settings:   s.settings,
		Rates:      s.rates,
		Currencies: s.currencies,
		Notifier:   s.notifier,
		Logger:     s.logger,
	})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// setupStorage picks Postgres when DATABASE_URL is set, otherwise in-memory
// stores seeded with the development pricing settings.
func (s *Server) setupStorage(ctx context.Context) error {
	if s.cfg.DatabaseURL == "" {
		qs := questions.NewMemoryStore()
		entries := ledger.NewMemoryStore()

		s.tenants = tenant.NewMemoryStore()
		s.orgs = org.NewMemoryStore()
		s.questions = qs
		s.ledger = ledger.New(entries, nil, s.logger)
		s.payStore = payment.NewMemoryStore(qs, entries)
		s.settings = pricing.NewMemorySettingsStore(&pricing.Settings{
			ID:                   "development",
			CreditUnitPrice:      s.cfg.CreditUnitPrice,
			IndividualDiscount:   s.cfg.IndividualDiscount,
			OrganizationDiscount: s.cfg.OrganizationDiscount,
			UpdatedAt:            time.Now(),
		})
		s.logger.Warn("using in-memory storage (data will not persist)")
		return nil
	}

	db, err := sql.Open("postgres", s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	s.db = db
	s.tenants = tenant.NewPostgresStore(db)
	s.orgs = org.NewPostgresStore(db)
	s.questions = questions.NewPostgresStore(db)
	s.ledger = ledger.New(ledger.NewPostgresStore(db), nil, s.logger)
	s.payStore = payment.NewPostgresStore(db)
	s.settings = pricing.NewPostgresSettingsStore(db)
	s.health.Register("database", health.Database(db))

	s.logger.Info("connected to PostgreSQL", "dsn", maskDSN(s.cfg.DatabaseURL))
	return nil
}

// setupBalanceHint attaches the Redis balance hint when REDIS_URL is set.
// The ledger is rebuilt around the same store so the hint is the only change.
func (s *Server) setupBalanceHint(ctx context.Context) error {
	if s.cfg.RedisURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(s.cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		// The hint is advisory; run without it rather than refuse to start.
		s.logger.Warn("redis unreachable, balance hint disabled", "error", err)
		_ = client.Close()
		return nil
	}

	s.redis = client
	cache := ledger.NewRedisBalanceCache(client, balanceHintPrefix, balanceHintTTL, s.logger)
	s.ledger = ledger.New(s.ledger.Store(), cache, s.logger)
	s.health.Register("redis", health.Redis(client))
	if s.cfg.ReconcileInterval > 0 {
		s.reconciler = reconciliation.NewRunner(s.ledger, s.logger)
		s.reconcile = reconciliation.NewTimer(s.reconciler, s.cfg.ReconcileInterval, s.logger)
	}
	s.logger.Info("redis balance hint enabled", "addr", opts.Addr)
	return nil
}

func (s *Server) setupRates() {
	if s.rates != nil {
		return
	}
	if s.cfg.FXSourceURL != "" {
		s.rates = fx.NewHTTPSource(fx.HTTPConfig{
			URL:     s.cfg.FXSourceURL,
			Base:    s.currencies.Base(),
			Timeout: s.cfg.FXTimeout,
			Logger:  s.logger,
		})
		s.logger.Info("fx rates from publisher", "url", s.cfg.FXSourceURL)
		return
	}
	s.rates = developmentRates(s.currencies.Base())
	s.logger.Warn("using static development fx rates")
}

// developmentRates is a fixed table against TWD. Other bases get only the
// identity rate.
func developmentRates(base string) *fx.StaticSource {
	src := fx.NewStaticSource(base)
	if base != "TWD" {
		return src
	}
	today := time.Now().UTC().Truncate(24 * time.Hour)
	for code, rate := range map[string]string{
		"USD": "32.45",
		"EUR": "35.10",
		"JPY": "0.2150",
		"CNY": "4.480",
	} {
		src.SetRate(code, decimal.RequireFromString(rate), today)
	}
	return src
}

func (s *Server) setupNotifier() {
	if s.notifier != nil {
		return
	}
	if s.cfg.NotifyWebhookURL == "" {
		s.notifier = notify.Nop{}
		return
	}
	s.emitter = notify.NewEmitter(notify.EmitterConfig{
		URL:    s.cfg.NotifyWebhookURL,
		Secret: s.cfg.NotifyWebhookSecret,
	}, s.logger)
	s.notifier = s.emitter
	s.logger.Info("approval notifications enabled")
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.CORSAllowedOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
		}
		if p := auth.PrincipalID(c); p != "" {
			attrs = append(attrs, "principal_id", p)
		}

		logger := logging.L(c.Request.Context())
		switch {
		case status >= 500:
			logger.Error("request completed", append(attrs, "client_ip", c.ClientIP())...)
		case status >= 400:
			logger.Warn("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1")
	v1.Use(auth.Middleware())

	tenantHandler := tenant.NewHandler(s.tenants, s.resolver, s.currencies, s.logger)
	ledgerHandler := ledger.NewHandler(s.ledger, org.NewDirectory(s.orgs), s.logger)
	paymentHandler := payment.NewHandler(s.payments, s.logger)

	// The profile answers anonymous callers with the default.
	tenantHandler.RegisterRoutes(v1)

	user := v1.Group("")
	user.Use(auth.RequirePrincipal())
	ledgerHandler.RegisterRoutes(user)

	s.payLimiter = ratelimit.New(ratelimit.PaymentConfig())
	pay := user.Group("")
	pay.Use(validation.IDParamMiddleware("id"), s.payLimiter.Middleware())
	paymentHandler.RegisterRoutes(pay)

	admin := v1.Group("")
	admin.Use(auth.RequireAdmin(s.cfg.AdminSecret))
	tenantHandler.RegisterAdminRoutes(admin)
	ledgerHandler.RegisterAdminRoutes(admin)
	if s.reconciler != nil {
		reconciliation.NewHandler(s.reconciler).RegisterAdminRoutes(admin)
	}
}

// HealthResponse is the body of /health.
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.health.CheckAll(c.Request.Context())

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, HealthResponse{
		Status:    status,
		Version:   Version,
		Checks:    statuses,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
			"base_currency", s.currencies.Base(),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go metrics.StartPoolStatsCollector(runCtx, s.db, s.redis, 15*time.Second)
	if s.reconcile != nil {
		go s.reconcile.Start(runCtx)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	if s.httpSrv != nil {
		time.Sleep(5 * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.payLimiter != nil {
		s.payLimiter.Stop()
	}
	if s.reconcile != nil {
		s.reconcile.Stop()
	}

	// In-flight approval notifications finish before the process exits.
	if s.emitter != nil {
		s.emitter.Wait()
		s.logger.Info("notifications drained")
	}

	if s.shutdownTracing != nil {
		if err := s.shutdownTracing(ctx); err != nil {
			s.logger.Error("tracing shutdown error", "error", err)
		}
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
