// Package auth reads the caller identity established by the upstream session
// layer and guards admin routes. It does not authenticate users itself.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// HeaderPrincipal carries the authenticated user id set by the session layer.
	HeaderPrincipal = "X-Principal-ID"
	// HeaderAdminSecret carries the shared admin secret.
	HeaderAdminSecret = "X-Admin-Secret"

	// ContextKeyPrincipal is the gin context key for the principal id.
	ContextKeyPrincipal = "authPrincipal"
)

// Middleware copies the principal header into the gin context.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if p := strings.TrimSpace(c.GetHeader(HeaderPrincipal)); p != "" {
			c.Set(ContextKeyPrincipal, p)
		}
		c.Next()
	}
}

// RequirePrincipal rejects anonymous requests.
func RequirePrincipal() gin.HandlerFunc {
	return func(c *gin.Context) {
		if PrincipalID(c) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "An authenticated principal is required.",
			})
			return
		}
		c.Next()
	}
}

// RequireAdmin rejects requests whose X-Admin-Secret does not match secret.
// An empty secret disables admin routes entirely.
func RequireAdmin(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "admin_disabled",
				"message": "Admin routes are disabled (ADMIN_SECRET not set).",
			})
			return
		}
		given := c.GetHeader(HeaderAdminSecret)
		if given == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Admin secret required.",
			})
			return
		}
		if !IsAdmin(c, secret) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Invalid admin secret.",
			})
			return
		}
		c.Next()
	}
}

// IsAdmin reports whether the request carries the admin secret.
func IsAdmin(c *gin.Context, secret string) bool {
	if secret == "" {
		return false
	}
	given := c.GetHeader(HeaderAdminSecret)
	return subtle.ConstantTimeCompare([]byte(given), []byte(secret)) == 1
}

// PrincipalID returns the caller's user id, or "" when anonymous.
func PrincipalID(c *gin.Context) string {
	return c.GetString(ContextKeyPrincipal)
}
