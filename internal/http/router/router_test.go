package router

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	apphttp "outreach_crm_backend/internal/http"
	"outreach_crm_backend/platform/config"
	"outreach_crm_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type stubModule struct{}

func (stubModule) Name() string { return "stub" }

func (stubModule) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Protected.GET("/stub", func(c *gin.Context) { c.Status(http.StatusNoContent) })
}

func newApp(health apphttp.HealthChecker) *apphttp.App {
	gin.SetMode(gin.TestMode)
	return &apphttp.App{
		Config: &config.Config{
			JWTAccessSecret: "secret",
			CORSOrigins:     []string{"http://localhost:4200"},
			CORSAllowCreds:  true,
		},
		Logger:  logger.Discard(),
		Health:  health,
		Modules: []apphttp.Module{stubModule{}},
	}
}

func serve(engine *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealthReflectsDatabase(t *testing.T) {
	assert.Equal(t, http.StatusOK, serve(New(newApp(pinger{})), "/api/health").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(New(newApp(pinger{err: errors.New("down")})), "/api/health").Code)
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	engine := New(newApp(pinger{}))
	assert.Equal(t, http.StatusUnauthorized, serve(engine, "/api/v1/stub").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	w := serve(New(newApp(pinger{})), "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
