package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinical-copilot/backend/pkg/config"
	"clinical-copilot/backend/pkg/di"
)

func testRouter(t *testing.T) *Router {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.New()
	container, err := di.New(cfg, nil, nil)
	require.NoError(t, err)

	r := New(container)
	r.SetupRoutes()
	return r
}

func TestLivenessRoute(t *testing.T) {
	r := testRouter(t)

	req, _ := http.NewRequest(http.MethodGet, "/health/live", nil)
	w := httptest.NewRecorder()
	r.Engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestTurnRoutesRequireAuth(t *testing.T) {
	r := testRouter(t)

	req, _ := http.NewRequest(http.MethodPost, "/api/v1/turns", nil)
	w := httptest.NewRecorder()
	r.Engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "MISSING_TOKEN")
}

func TestAuditFeedRequiresAuth(t *testing.T) {
	r := testRouter(t)

	req, _ := http.NewRequest(http.MethodGet, "/ws/audit", nil)
	w := httptest.NewRecorder()
	r.Engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
