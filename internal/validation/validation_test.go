package validation

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestIsValidSlug(t *testing.T) {
	assert.True(t, IsValidSlug("acme-tw"))
	assert.False(t, IsValidSlug("ab"))
	assert.False(t, IsValidSlug("Acme"))
	assert.False(t, IsValidSlug("-acme"))
}

func TestIsValidDomain(t *testing.T) {
	assert.True(t, IsValidDomain("customs.example.com"))
	assert.True(t, IsValidDomain("localhost"))
	assert.False(t, IsValidDomain("example.com:8080"))
	assert.False(t, IsValidDomain("EXAMPLE.com"))
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "abc", SanitizeString("  abc  ", 10))
	assert.Equal(t, "ab", SanitizeString("abcdef", 2))
	assert.Equal(t, "ab", SanitizeString("a\x00b", 10))
}

func TestValidate(t *testing.T) {
	errs := Validate(
		Required("name", " "),
		Slug("slug", "OK"),
		Domain("domain", ""),
		MaxLength("title", "abcdef", 3),
	)
	assert.Len(t, errs, 3)
	assert.Equal(t, "name: is required", errs.Error())
	assert.Empty(t, Validate(Required("name", "x")))
}

func TestIDParamMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/q/:id", IDParamMiddleware("id"), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/q/q_123", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/q/%3Cscript%3E", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
