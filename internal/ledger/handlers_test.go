package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/customsdesk/internal/auth"
)

type staticMembers map[string][]string

func (s staticMembers) ActiveOrgIDs(_ context.Context, userID string) ([]string, error) {
	return s[userID], nil
}

func setupRouter(t *testing.T) (*gin.Engine, *Ledger) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	l := New(NewMemoryStore(), newMapCache(), quietLogger())
	h := NewHandler(l, staticMembers{"u1": {"o1"}}, quietLogger())

	r := gin.New()
	v1 := r.Group("/v1")
	v1.Use(auth.Middleware())
	user := v1.Group("", auth.RequirePrincipal())
	h.RegisterRoutes(user)
	admin := v1.Group("", auth.RequireAdmin("s3cret"))
	h.RegisterAdminRoutes(admin)
	return r, l
}

func do(r *gin.Engine, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_GetBalance(t *testing.T) {
	r, l := setupRouter(t)
	ctx := context.Background()
	_, err := l.Grant(ctx, UserScope("u1"), 100, "", "")
	require.NoError(t, err)
	_, err = l.Grant(ctx, OrgScope("o1"), 30, "", "")
	require.NoError(t, err)

	w := do(r, http.MethodGet, "/v1/credits/balance", nil, map[string]string{auth.HeaderPrincipal: "u1"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		User struct {
			Balance int64 `json:"balance"`
		} `json:"user"`
		Organizations []orgBalance `json:"organizations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(100), resp.User.Balance)
	assert.Equal(t, []orgBalance{{OrganizationID: "o1", Balance: 30}}, resp.Organizations)
}

func TestHandler_GetBalanceRequiresPrincipal(t *testing.T) {
	r, _ := setupRouter(t)
	w := do(r, http.MethodGet, "/v1/credits/balance", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandler_GetHistoryAccess(t *testing.T) {
	r, l := setupRouter(t)
	_, err := l.Grant(context.Background(), OrgScope("o1"), 30, "", "")
	require.NoError(t, err)
	hdr := map[string]string{auth.HeaderPrincipal: "u1"}

	w := do(r, http.MethodGet, "/v1/credits/history", nil, hdr)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/v1/credits/history?scope=user&scopeId=u2", nil, hdr)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(r, http.MethodGet, "/v1/credits/history?scope=org&scopeId=o1", nil, hdr)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"quantity":30`)

	w = do(r, http.MethodGet, "/v1/credits/history?scope=org&scopeId=o2", nil, hdr)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(r, http.MethodGet, "/v1/credits/history?scope=team", nil, hdr)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_AdminGrant(t *testing.T) {
	r, l := setupRouter(t)
	admin := map[string]string{auth.HeaderAdminSecret: "s3cret"}

	w := do(r, http.MethodPost, "/v1/admin/credits", GrantRequest{ScopeType: "user", ScopeID: "u1", Credits: 100}, admin)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"balance":100`)

	bal, err := l.Balance(context.Background(), UserScope("u1"))
	require.NoError(t, err)
	assert.Equal(t, int64(100), bal)

	w = do(r, http.MethodPost, "/v1/admin/credits", GrantRequest{ScopeType: "user", ScopeID: "u1", Credits: -5}, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/v1/admin/credits", GrantRequest{ScopeType: "user", ScopeID: "u1", Credits: 5}, map[string]string{auth.HeaderAdminSecret: "wrong"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandler_AdminReconcile(t *testing.T) {
	r, _ := setupRouter(t)
	w := do(r, http.MethodPost, "/v1/admin/credits/reconcile", nil, map[string]string{auth.HeaderAdminSecret: "s3cret"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"drift":[]}`, w.Body.String())
}
