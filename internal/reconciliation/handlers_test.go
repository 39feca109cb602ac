package reconciliation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/customsdesk/internal/ledger"
)

func TestHandler_LastReport(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := &fakeReconciler{drift: []ledger.Drift{{Scope: ledger.OrgScope("o1"), Cached: 3, Actual: 5}}}
	runner := NewRunner(f, quietLogger())

	r := gin.New()
	NewHandler(runner).RegisterAdminRoutes(r.Group("/v1"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/admin/credits/reconcile/last", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	_, err := runner.Run(context.Background())
	require.NoError(t, err)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/admin/credits/reconcile/last", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Drifted int            `json:"drifted"`
		Drift   []ledger.Drift `json:"drift"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Drifted)
	assert.Equal(t, int64(5), body.Drift[0].Actual)
}
