package reconciliation

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler exposes the last reconciliation report.
type Handler struct {
	runner *Runner
}

func NewHandler(runner *Runner) *Handler {
	return &Handler{runner: runner}
}

// RegisterAdminRoutes sets up admin-only routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/admin/credits/reconcile/last", h.LastReport)
}

// LastReport handles GET /admin/credits/reconcile/last
func (h *Handler) LastReport(c *gin.Context) {
	rep := h.runner.Last()
	if rep == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "No reconciliation has completed yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"at":        rep.At,
		"elapsedMs": rep.Elapsed.Milliseconds(),
		"drifted":   len(rep.Drift),
		"drift":     rep.Drift,
	})
}
