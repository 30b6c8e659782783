package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	intconfig "sacco/internal/config"
	"sacco/internal/domain"
	h "sacco/internal/http/handlers"
	"sacco/internal/http/middleware"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewRouter(intconfig.Env{JWTSecret: "router-secret"}, h.API{}, h.Auth{})
}

func do(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPublicRoutes(t *testing.T) {
	r := newTestRouter()

	w := do(r, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = do(r, http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "route not found")

	w = do(r, http.MethodGet, "/api/routes", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/api/payments/callback/mpesa")
}

func TestCustomerRoutesRequireToken(t *testing.T) {
	r := newTestRouter()
	for _, path := range []string{"/api/trips/1/seats", "/api/bookings/1", "/api/payments/1/status"} {
		assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, path, "").Code, path)
	}
}

func TestStaffRoutesRequireRole(t *testing.T) {
	r := newTestRouter()
	token, err := middleware.IssueToken([]byte("router-secret"), 7, domain.RoleCustomer, time.Now())
	require.NoError(t, err)

	assert.Equal(t, http.StatusForbidden, do(r, http.MethodPost, "/api/staff/bookings/1/check-in", token).Code)
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodGet, "/api/staff/trips/1/manifest", token).Code)
}
