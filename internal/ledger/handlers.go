package ledger

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/customsdesk/internal/auth"
	"github.com/mbd888/customsdesk/internal/pagination"
)

// Memberships lists the organizations a user may spend from.
type Memberships interface {
	ActiveOrgIDs(ctx context.Context, userID string) ([]string, error)
}

// Handler provides HTTP endpoints for balances and history.
type Handler struct {
	ledger  *Ledger
	members Memberships
	logger  *slog.Logger
}

func NewHandler(l *Ledger, members Memberships, logger *slog.Logger) *Handler {
	return &Handler{ledger: l, members: members, logger: logger}
}

// RegisterRoutes sets up caller-facing routes. The group must already
// require a principal.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/credits/balance", h.GetBalance)
	r.GET("/credits/history", h.GetHistory)
}

// RegisterAdminRoutes sets up admin-only routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/admin/credits", h.Grant)
	r.POST("/admin/credits/reconcile", h.Reconcile)
}

type orgBalance struct {
	OrganizationID string `json:"organizationId"`
	Balance        int64  `json:"balance"`
}

// GetBalance handles GET /credits/balance
func (h *Handler) GetBalance(c *gin.Context) {
	ctx := c.Request.Context()
	userID := auth.PrincipalID(c)

	userBal, err := h.ledger.CachedBalance(ctx, UserScope(userID))
	if err != nil {
		h.logger.Error("balance lookup failed", "scope_type", ScopeUser, "scope_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to retrieve balance"})
		return
	}

	orgs := []orgBalance{}
	if h.members != nil {
		ids, err := h.members.ActiveOrgIDs(ctx, userID)
		if err != nil {
			h.logger.Error("membership lookup failed", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to retrieve balance"})
			return
		}
		for _, id := range ids {
			b, err := h.ledger.CachedBalance(ctx, OrgScope(id))
			if err != nil {
				h.logger.Error("balance lookup failed", "scope_type", ScopeOrg, "scope_id", id, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to retrieve balance"})
				return
			}
			orgs = append(orgs, orgBalance{OrganizationID: id, Balance: b})
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"user":          gin.H{"userId": userID, "balance": userBal},
		"organizations": orgs,
	})
}

// GetHistory handles GET /credits/history?scope=user|org&scopeId=...&limit=...&cursor=...
func (h *Handler) GetHistory(c *gin.Context) {
	ctx := c.Request.Context()
	userID := auth.PrincipalID(c)

	st := ScopeUser
	if raw := c.Query("scope"); raw != "" {
		var ok bool
		if st, ok = ParseScopeType(raw); !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_scope", "message": "scope must be user or org"})
			return
		}
	}

	scope := Scope{Type: st, ID: c.Query("scopeId")}
	switch st {
	case ScopeUser:
		if scope.ID == "" {
			scope.ID = userID
		}
		if scope.ID != userID {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "Cannot read another user's history"})
			return
		}
	case ScopeOrg:
		if scope.ID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_scope", "message": "scopeId is required for org scope"})
			return
		}
		if !h.isMember(ctx, userID, scope.ID) {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "Not an active member of this organization"})
			return
		}
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	page, err := h.ledger.History(ctx, scope, limit, c.Query("cursor"))
	if errors.Is(err, pagination.ErrInvalidCursor) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor", "message": "cursor is malformed"})
		return
	}
	if err != nil {
		h.logger.Error("history lookup failed", "scope", scope.Key(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to retrieve ledger history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"scope":      scope,
		"entries":    page.Entries,
		"nextCursor": page.NextCursor,
		"hasMore":    page.HasMore,
	})
}

func (h *Handler) isMember(ctx context.Context, userID, orgID string) bool {
	if h.members == nil {
		return false
	}
	ids, err := h.members.ActiveOrgIDs(ctx, userID)
	if err != nil {
		h.logger.Error("membership lookup failed", "user_id", userID, "error", err)
		return false
	}
	return slices.Contains(ids, orgID)
}

// GrantRequest is the body of POST /admin/credits.
type GrantRequest struct {
	ScopeType string `json:"scopeType" binding:"required"`
	ScopeID   string `json:"scopeId" binding:"required"`
	Credits   int64  `json:"credits" binding:"required"`
	Reason    string `json:"reason"`
	Reference string `json:"reference"`
}

// Grant handles POST /admin/credits
func (h *Handler) Grant(c *gin.Context) {
	var req GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	st, ok := ParseScopeType(req.ScopeType)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_scope", "message": "scopeType must be user or org"})
		return
	}
	reason := ReasonTopUp
	if req.Reason == string(ReasonAdjustment) {
		reason = ReasonAdjustment
	}

	entry, err := h.ledger.Grant(c.Request.Context(), Scope{Type: st, ID: req.ScopeID}, req.Credits, reason, req.Reference)
	if errors.Is(err, ErrInvalidQuantity) || errors.Is(err, ErrInvalidScope) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("grant failed", "scope_type", st, "scope_id", req.ScopeID, "credits", req.Credits, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to grant credits"})
		return
	}

	bal, err := h.ledger.Balance(c.Request.Context(), entry.Scope())
	if err != nil {
		c.JSON(http.StatusCreated, gin.H{"entry": entry})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"entry": entry, "balance": bal})
}

// Reconcile handles POST /admin/credits/reconcile
func (h *Handler) Reconcile(c *gin.Context) {
	drift, err := h.ledger.Reconcile(c.Request.Context())
	if err != nil {
		h.logger.Error("reconcile failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Reconciliation failed"})
		return
	}
	if drift == nil {
		drift = []Drift{}
	}
	c.JSON(http.StatusOK, gin.H{"drift": drift})
}
