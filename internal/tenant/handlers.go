package tenant

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/mbd888/customsdesk/internal/auth"
	"github.com/mbd888/customsdesk/internal/currency"
	"github.com/mbd888/customsdesk/internal/idgen"
	"github.com/mbd888/customsdesk/internal/pricing"
	"github.com/mbd888/customsdesk/internal/validation"
)

// Handler provides HTTP endpoints for tenant management.
type Handler struct {
	store      Store
	resolver   *Resolver
	currencies *currency.AllowList
	logger     *slog.Logger
}

// NewHandler creates a new tenant handler.
func NewHandler(store Store, resolver *Resolver, currencies *currency.AllowList, logger *slog.Logger) *Handler {
	return &Handler{store: store, resolver: resolver, currencies: currencies, logger: logger}
}

// RegisterRoutes sets up caller-facing routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/tenant/profile", h.GetProfile)
}

// RegisterAdminRoutes sets up the admin-only routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/admin/tenants", h.CreateTenant)
	r.GET("/admin/tenants/:id", h.GetTenant)
	r.PATCH("/admin/tenants/:id", h.UpdateTenant)
	r.PUT("/admin/tenants/:id/principals/:principalId", h.BindPrincipal)
}

// GetProfile handles GET /v1/tenant/profile: the currency and multiplier
// that apply to the caller.
func (h *Handler) GetProfile(c *gin.Context) {
	p, err := h.resolver.ResolveOrDefault(c.Request.Context(), auth.PrincipalID(c), c.Request.Host)
	if err != nil {
		h.logger.Error("tenant resolution failed", "principal_id", auth.PrincipalID(c), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to resolve tenant"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": p, "currencies": h.currencies.Codes()})
}

type createRequest struct {
	Name       string `json:"name" binding:"required"`
	Slug       string `json:"slug" binding:"required"`
	Domain     string `json:"domain"`
	Currency   string `json:"currency"`
	Multiplier string `json:"multiplier"`
}

// CreateTenant handles POST /v1/admin/tenants
func (h *Handler) CreateTenant(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "name and slug required"})
		return
	}

	req.Slug = strings.ToLower(strings.TrimSpace(req.Slug))
	req.Domain = NormalizeHost(req.Domain)
	if errs := validation.Validate(
		validation.Slug("slug", req.Slug),
		validation.Domain("domain", req.Domain),
		validation.MaxLength("name", req.Name, 200),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "message": errs.Error(), "details": errs})
		return
	}

	cur, ok := h.parseCurrency(c, req.Currency)
	if !ok {
		return
	}
	mult, ok := parseMultiplier(c, req.Multiplier)
	if !ok {
		return
	}

	now := time.Now()
	t := &Tenant{
		ID:         idgen.WithPrefix("ten_"),
		Name:       validation.SanitizeString(req.Name, 200),
		Slug:       req.Slug,
		Domain:     req.Domain,
		Currency:   cur,
		Multiplier: mult,
		Status:     StatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := h.store.Create(c.Request.Context(), t); err != nil {
		switch {
		case errors.Is(err, ErrSlugTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "slug_taken", "message": "slug already in use"})
		case errors.Is(err, ErrDomainTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "domain_taken", "message": "domain already in use"})
		default:
			h.logger.Error("tenant create failed", "slug", t.Slug, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create tenant"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"tenant": t})
}

// GetTenant handles GET /v1/admin/tenants/:id
func (h *Handler) GetTenant(c *gin.Context) {
	t, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant": t})
}

// UpdateTenant handles PATCH /v1/admin/tenants/:id
func (h *Handler) UpdateTenant(c *gin.Context) {
	t, ok := h.load(c)
	if !ok {
		return
	}

	var req struct {
		Name       *string `json:"name"`
		Domain     *string `json:"domain"`
		Currency   *string `json:"currency"`
		Multiplier *string `json:"multiplier"`
		Status     *Status `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "invalid body"})
		return
	}

	if req.Name != nil {
		t.Name = validation.SanitizeString(*req.Name, 200)
	}
	if req.Domain != nil {
		d := NormalizeHost(*req.Domain)
		if d != "" && !validation.IsValidDomain(d) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_domain", "message": "domain must be a host name"})
			return
		}
		t.Domain = d
	}
	if req.Currency != nil {
		cur, ok := h.parseCurrency(c, *req.Currency)
		if !ok {
			return
		}
		t.Currency = cur
	}
	if req.Multiplier != nil {
		m, ok := parseMultiplier(c, *req.Multiplier)
		if !ok {
			return
		}
		t.Multiplier = m
	}
	if req.Status != nil {
		if *req.Status != StatusActive && *req.Status != StatusSuspended {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status", "message": "status must be active or suspended"})
			return
		}
		t.Status = *req.Status
	}
	t.UpdatedAt = time.Now()

	if err := h.store.Update(c.Request.Context(), t); err != nil {
		if errors.Is(err, ErrDomainTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "domain_taken", "message": "domain already in use"})
			return
		}
		h.logger.Error("tenant update failed", "tenant_id", t.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to update tenant"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant": t})
}

// BindPrincipal handles PUT /v1/admin/tenants/:id/principals/:principalId
func (h *Handler) BindPrincipal(c *gin.Context) {
	t, ok := h.load(c)
	if !ok {
		return
	}
	principal := c.Param("principalId")
	if !validation.IsValidID(principal) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_principal", "message": "invalid principal id"})
		return
	}
	if err := h.store.BindPrincipal(c.Request.Context(), principal, t.Slug); err != nil {
		h.logger.Error("principal binding failed", "tenant_id", t.ID, "principal_id", principal, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to bind principal"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"principalId": principal, "tenantKey": t.Slug})
}

func (h *Handler) load(c *gin.Context) (*Tenant, bool) {
	t, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrTenantNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "tenant not found"})
		return nil, false
	}
	if err != nil {
		h.logger.Error("tenant lookup failed", "tenant_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to load tenant"})
		return nil, false
	}
	return t, true
}

func (h *Handler) parseCurrency(c *gin.Context, raw string) (string, bool) {
	if strings.TrimSpace(raw) == "" {
		return h.currencies.Base(), true
	}
	if !h.currencies.Allowed(raw) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_currency",
			"message": "currency must be one of " + strings.Join(h.currencies.Codes(), ", "),
		})
		return "", false
	}
	return h.currencies.Normalize(raw), true
}

func parseMultiplier(c *gin.Context, raw string) (decimal.Decimal, bool) {
	if strings.TrimSpace(raw) == "" {
		return decimal.NewFromInt(1), true
	}
	m, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || !pricing.ValidMultiplier(m) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_multiplier", "message": "multiplier must be > 0 and <= 100"})
		return decimal.Zero, false
	}
	return m, true
}
