// Package httpkit provides HTTP middleware infrastructure.
// This is part of the platform layer and contains no business logic.
package httpkit

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"outreach_crm_backend/platform/config"
	"outreach_crm_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	// ContextUserIDKey is the gin context key for the authenticated user ID.
	ContextUserIDKey = "userID"
	// ContextRolesKey is the gin context key for the user's roles.
	ContextRolesKey = "roles"
	// ContextTenantIDKey is the gin context key for the tenant (organization) ID.
	ContextTenantIDKey = "tenantID"

	// RoleAdmin grants organization administration routes.
	RoleAdmin = "admin"

	tokenTypeAccess = "access"
	tokenLeeway     = 30 * time.Second

	errMissingToken = "missing token"
	errInvalidToken = "invalid token"
)

// RequestLogger logs HTTP requests with timing.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		clientIP := c.ClientIP()

		if status >= http.StatusInternalServerError && len(c.Errors) > 0 {
			log.HTTPError(c.Request.Method, path, status, c.Errors.Last().Err, clientIP)
			return
		}
		log.HTTPRequest(c.Request.Method, path, status, float64(latency.Milliseconds()), clientIP)
	}
}

// SecurityHeaders sets the headers for a JSON and event-stream API. Responses
// are never cached or framed.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Cache-Control", "no-store")

		if c.Request.TLS != nil || strings.EqualFold(c.GetHeader("X-Forwarded-Proto"), "https") {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}

// RateLimiter keeps one token bucket per key.
type RateLimiter struct {
	limiters sync.Map
	rate     rate.Limit
	burst    int
	key      func(*gin.Context) string
	log      *logger.Logger
}

// NewIPRateLimiter limits requests per client IP.
func NewIPRateLimiter(r rate.Limit, burst int, log *logger.Logger) *RateLimiter {
	return &RateLimiter{rate: r, burst: burst, key: clientIPKey, log: log}
}

// NewOrganizationRateLimiter limits requests per organization. It must run
// after RequireTenant; requests without a tenant fall back to the client IP.
func NewOrganizationRateLimiter(r rate.Limit, burst int, log *logger.Logger) *RateLimiter {
	return &RateLimiter{rate: r, burst: burst, key: organizationKey, log: log}
}

func clientIPKey(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

func organizationKey(c *gin.Context) string {
	if orgID, ok := GetIdentity(c).TenantID(); ok {
		return "org:" + orgID.String()
	}
	return clientIPKey(c)
}

func (l *RateLimiter) limiter(key string) *rate.Limiter {
	if limiter, ok := l.limiters.Load(key); ok {
		return limiter.(*rate.Limiter)
	}
	limiter, _ := l.limiters.LoadOrStore(key, rate.NewLimiter(l.rate, l.burst))
	return limiter.(*rate.Limiter)
}

// RateLimit returns the middleware. Rejected requests get 429 with a
// Retry-After hint.
func (l *RateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := l.key(c)
		if !l.limiter(key).Allow() {
			if l.log != nil {
				l.log.RateLimitExceeded(key, c.Request.URL.Path)
			}
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// AccessClaims are the claims carried by an access token. TenantID scopes
// the token to one organization.
type AccessClaims struct {
	Type     string   `json:"type"`
	TenantID string   `json:"tenant_id,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// AuthRequired returns middleware that validates HMAC-signed access tokens
// from the Authorization header. An EventSource cannot set headers, so the
// SSE stream may pass the token as the token query parameter instead.
func AuthRequired(cfg config.JWTConfig) gin.HandlerFunc {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{
			jwt.SigningMethodHS256.Alg(),
			jwt.SigningMethodHS384.Alg(),
			jwt.SigningMethodHS512.Alg(),
		}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(tokenLeeway),
	)

	return func(c *gin.Context) {
		rawToken, ok := requestToken(c)
		if !ok {
			abortUnauthorized(c, errMissingToken)
			return
		}

		claims, err := parseAccessClaims(parser, rawToken, cfg.GetJWTAccessSecret())
		if err != nil {
			abortUnauthorized(c, errInvalidToken)
			return
		}

		userID, err := uuid.Parse(claims.Subject)
		if err != nil {
			abortUnauthorized(c, errInvalidToken)
			return
		}

		tenantID, err := claims.tenant()
		if err != nil {
			abortUnauthorized(c, errInvalidToken)
			return
		}

		c.Set(ContextUserIDKey, userID)
		c.Set(ContextRolesKey, claims.roles())
		if tenantID != nil {
			c.Set(ContextTenantIDKey, *tenantID)
		}
		c.Next()
	}
}

// RequireTenant aborts requests whose token carries no organization.
// Every pipeline route is organization scoped.
func RequireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := c.Get(ContextTenantIDKey); !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "organization required"})
			return
		}
		c.Next()
	}
}

// RequireRole aborts requests whose token grants none of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := GetIdentity(c)
		for _, role := range roles {
			if id.HasRole(role) {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	}
}

func (a *AccessClaims) tenant() (*uuid.UUID, error) {
	value := strings.TrimSpace(a.TenantID)
	if value == "" {
		return nil, nil
	}
	parsed, err := uuid.Parse(value)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func (a *AccessClaims) roles() []string {
	roles := make([]string, 0, len(a.Roles))
	for _, role := range a.Roles {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}
	return roles
}

func requestToken(c *gin.Context) (string, bool) {
	if rawToken, ok := extractBearerToken(c.GetHeader("Authorization")); ok {
		return rawToken, true
	}
	if c.Request.Method != http.MethodGet || !strings.Contains(c.GetHeader("Accept"), "text/event-stream") {
		return "", false
	}
	rawToken := c.Query("token")
	return rawToken, rawToken != ""
}

func extractBearerToken(authHeader string) (string, bool) {
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}

	rawToken := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if rawToken == "" {
		return "", false
	}

	return rawToken, true
}

func parseAccessClaims(parser *jwt.Parser, rawToken, secret string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	_, err := parser.ParseWithClaims(rawToken, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if claims.Type != tokenTypeAccess {
		return nil, errors.New(errInvalidToken)
	}
	return claims, nil
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
}
