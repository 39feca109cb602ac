// Package validation holds request validation helpers shared by handlers.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20

var (
	idRegex     = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]{0,127}$`)
	slugRegex   = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}[a-z0-9]$`)
	domainRegex = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,63}$|^localhost$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidID checks identifiers taken from paths and bodies.
func IsValidID(s string) bool { return idRegex.MatchString(s) }

// IsValidSlug checks a tenant key: 3-64 lowercase alphanumerics or hyphens.
func IsValidSlug(s string) bool { return slugRegex.MatchString(s) }

// IsValidDomain checks a lower-case host name without port.
func IsValidDomain(s string) bool { return domainRegex.MatchString(s) }

// SanitizeString trims, drops NUL bytes and truncates to maxLen bytes.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate runs validators and collects their failures.
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errs ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// Slug checks an optional tenant key.
func Slug(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value != "" && !IsValidSlug(value) {
			return &ValidationError{Field: field, Message: "must be 3-64 lowercase alphanumeric/hyphens, start/end with alphanumeric"}
		}
		return nil
	}
}

// Domain checks an optional host name.
func Domain(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value != "" && !IsValidDomain(value) {
			return &ValidationError{Field: field, Message: "must be a lower-case host name without port"}
		}
		return nil
	}
}

// IDParamMiddleware rejects malformed path identifiers early.
func IDParamMiddleware(params ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, p := range params {
			if v := c.Param(p); v != "" && !IsValidID(v) {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error":   "invalid_" + p,
					"message": p + " is not a valid identifier",
				})
				return
			}
		}
		c.Next()
	}
}
