package payment

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/customsdesk/internal/auth"
)

// Handler provides HTTP endpoints for quotes and payments.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes sets up the routes. The group must already require a
// principal.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/questions/:id/quote", h.GetQuote)
	r.POST("/questions/:id/pay", h.PayAsIndividual)
	r.POST("/questions/:id/pay/organization", h.PayAsOrganization)
}

// PayOrganizationRequest is the optional body of the organization route.
type PayOrganizationRequest struct {
	OrganizationID string `json:"organizationId"`
}

// GetQuote handles GET /questions/:id/quote
func (h *Handler) GetQuote(c *gin.Context) {
	q, err := h.service.Quote(c.Request.Context(), QuoteRequest{
		PrincipalID: auth.PrincipalID(c),
		Host:        c.Request.Host,
		QuestionID:  c.Param("id"),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quote": q})
}

// PayAsIndividual handles POST /questions/:id/pay
func (h *Handler) PayAsIndividual(c *gin.Context) {
	rec, err := h.service.PayAsIndividual(c.Request.Context(), PayRequest{
		PrincipalID: auth.PrincipalID(c),
		Host:        c.Request.Host,
		QuestionID:  c.Param("id"),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"receipt": rec})
}

// PayAsOrganization handles POST /questions/:id/pay/organization
func (h *Handler) PayAsOrganization(c *gin.Context) {
	var body PayOrganizationRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
			return
		}
	}

	rec, err := h.service.PayAsOrganization(c.Request.Context(), PayRequest{
		PrincipalID:    auth.PrincipalID(c),
		Host:           c.Request.Host,
		QuestionID:     c.Param("id"),
		OrganizationID: body.OrganizationID,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"receipt": rec})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	var short *InsufficientCreditsError
	switch {
	case errors.As(err, &short):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":    "insufficient_credits",
			"message":  "Not enough credits",
			"balance":  short.Balance,
			"required": short.Required,
		})
	case errors.Is(err, ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "Not allowed to pay for this question"})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Question not found"})
	case errors.Is(err, ErrInvalidPricing):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid_pricing", "message": "Question has no valid credit price"})
	case errors.Is(err, ErrAlreadyProcessed):
		c.JSON(http.StatusConflict, gin.H{"error": "already_processed", "message": "Question was already approved"})
	case errors.Is(err, ErrRateUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "rate_unavailable", "message": "Exchange rate temporarily unavailable"})
	default:
		h.logger.Error("payment request failed", "path", c.FullPath(), "question_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Payment failed"})
	}
}
