package httpkit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type jwtConfig string

func (c jwtConfig) GetJWTAccessSecret() string { return string(c) }

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func newTestRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/scoped", AuthRequired(jwtConfig(secret)), RequireTenant(), func(c *gin.Context) {
		_, tenantID, ok := MustGetTenant(c)
		if !ok {
			return
		}
		c.String(http.StatusOK, tenantID.String())
	})
	return r
}

func TestAuthRequiredAndTenant(t *testing.T) {
	const secret = "test-secret"
	tenant := uuid.New()
	router := newTestRouter(secret)

	cases := []struct {
		name   string
		claims jwt.MapClaims
		want   int
	}{
		{
			name:   "valid tenant token",
			claims: jwt.MapClaims{"sub": uuid.NewString(), "type": "access", "tenant_id": tenant.String(), "exp": time.Now().Add(time.Hour).Unix()},
			want:   http.StatusOK,
		},
		{
			name:   "no tenant",
			claims: jwt.MapClaims{"sub": uuid.NewString(), "type": "access", "exp": time.Now().Add(time.Hour).Unix()},
			want:   http.StatusForbidden,
		},
		{
			name:   "refresh token rejected",
			claims: jwt.MapClaims{"sub": uuid.NewString(), "type": "refresh", "tenant_id": tenant.String()},
			want:   http.StatusUnauthorized,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/scoped", nil)
			req.Header.Set("Authorization", "Bearer "+signToken(t, secret, tc.claims))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d (%s)", tc.want, rec.Code, rec.Body.String())
			}
			if tc.want == http.StatusOK && rec.Body.String() != tenant.String() {
				t.Fatalf("expected tenant %s, got %s", tenant, rec.Body.String())
			}
		})
	}
}

func TestAuthRequiredMissingToken(t *testing.T) {
	router := newTestRouter("test-secret")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/scoped", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthRequiredRejectsTokenWithoutExpiry(t *testing.T) {
	const secret = "test-secret"
	router := newTestRouter(secret)
	token := signToken(t, secret, jwt.MapClaims{"sub": uuid.NewString(), "type": "access", "tenant_id": uuid.NewString()})

	req := httptest.NewRequest(http.MethodGet, "/scoped", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestQueryTokenOnlyForEventStream(t *testing.T) {
	const secret = "test-secret"
	router := newTestRouter(secret)
	token := signToken(t, secret, jwt.MapClaims{
		"sub": uuid.NewString(), "type": "access", "tenant_id": uuid.NewString(), "exp": time.Now().Add(time.Hour).Unix(),
	})

	plain := httptest.NewRecorder()
	router.ServeHTTP(plain, httptest.NewRequest(http.MethodGet, "/scoped?token="+token, nil))
	if plain.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for query token on a plain request, got %d", plain.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/scoped?token="+token, nil)
	req.Header.Set("Accept", "text/event-stream")
	stream := httptest.NewRecorder()
	router.ServeHTTP(stream, req)
	if stream.Code != http.StatusOK {
		t.Fatalf("expected 200 for event stream, got %d (%s)", stream.Code, stream.Body.String())
	}
}

func TestRequireRole(t *testing.T) {
	const secret = "test-secret"
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/admin", AuthRequired(jwtConfig(secret)), RequireRole(RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	cases := []struct {
		name  string
		roles []string
		want  int
	}{
		{name: "admin", roles: []string{"member", "admin"}, want: http.StatusNoContent},
		{name: "member", roles: []string{"member"}, want: http.StatusForbidden},
		{name: "no roles", want: http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			claims := jwt.MapClaims{"sub": uuid.NewString(), "type": "access", "exp": time.Now().Add(time.Hour).Unix()}
			if tc.roles != nil {
				claims["roles"] = tc.roles
			}
			req := httptest.NewRequest(http.MethodPost, "/admin", nil)
			req.Header.Set("Authorization", "Bearer "+signToken(t, secret, claims))
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestSecurityHeadersForAPI(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(SecurityHeaders())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("expected no-store, got %q", got)
	}
	if w.Header().Get("Strict-Transport-Security") != "" {
		t.Fatal("expected no HSTS on plain http")
	}

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Header().Get("Strict-Transport-Security") == "" {
		t.Fatal("expected HSTS behind a TLS proxy")
	}
}

func TestOrganizationRateLimiterKeysByTenant(t *testing.T) {
	gin.SetMode(gin.TestMode)
	orgA, orgB := uuid.New(), uuid.New()
	limiter := NewOrganizationRateLimiter(rate.Limit(0), 1, nil)

	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		org, _ := uuid.Parse(c.Query("org"))
		c.Set(ContextUserIDKey, uuid.New())
		c.Set(ContextTenantIDKey, org)
		c.Next()
	}, limiter.RateLimit(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	call := func(org uuid.UUID) int {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x?org="+org.String(), nil))
		return w.Code
	}

	if code := call(orgA); code != http.StatusNoContent {
		t.Fatalf("first request for org A: %d", code)
	}
	if code := call(orgA); code != http.StatusTooManyRequests {
		t.Fatalf("expected org A to be limited, got %d", code)
	}
	if code := call(orgB); code != http.StatusNoContent {
		t.Fatalf("org B must have its own bucket, got %d", code)
	}
}
