package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/construkt/server/auth"
	"github.com/hrygo/construkt/server/router"
)

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"), "burst exhausted")
	assert.True(t, rl.Allow("b"), "keys are independent")
	assert.Equal(t, 2, rl.Len())
}

func TestRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	for i := 0; i < 20; i++ {
		require.True(t, rl.Allow("k"))
	}
	assert.False(t, rl.Allow("k"))
}

func TestRateLimiter_Prune(t *testing.T) {
	rl := NewRateLimiter(1000, 1)
	rl.Allow("a")
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, rl.Prune())
	assert.Zero(t, rl.Len())
}

func TestRateLimitMiddleware(t *testing.T) {
	e := echo.New()
	rl := NewRateLimiter(1, 1)
	e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") },
		RateLimit(rl, func(echo.Context) string { return "same" }))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "error", body["status"])
}

func TestCallerKey(t *testing.T) {
	e := echo.New()
	a := auth.NewAuthenticator("secret")
	token, err := a.Issue("7", "customer", time.Hour)
	require.NoError(t, err)
	key := CallerKey(a)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	assert.Equal(t, "user:7", key(e.NewContext(req, httptest.NewRecorder())))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.5:1234"
	assert.Equal(t, "ip:10.0.0.5", key(e.NewContext(req, httptest.NewRecorder())))
}

func TestRequireAuth(t *testing.T) {
	e := echo.New()
	a := auth.NewAuthenticator("secret")
	r := router.New()

	protected := func(c echo.Context, _ router.Params) error {
		claims, ok := Claims(c)
		require.True(t, ok)
		fromCtx, ok := auth.ClaimsFromContext(c.Request().Context())
		require.True(t, ok)
		assert.Equal(t, claims, fromCtx)
		return c.JSON(http.StatusOK, map[string]string{"owner": claims.OwnerID()})
	}
	r.GET("/api/me", RequireAuth(a)(protected))
	r.POST("/api/admin", RequireAuth(a)(RequireRole("admin")(protected)))
	r.Mount(e, "/api")

	customer, err := a.Issue("7", "customer", time.Hour)
	require.NoError(t, err)
	admin, err := a.Issue("1", "admin", time.Hour)
	require.NoError(t, err)
	expired, err := auth.NewAuthenticator("secret", auth.WithClock(func() time.Time {
		return time.Now().Add(-2 * time.Hour)
	})).Issue("7", "customer", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		path   string
		header string
		status int
	}{
		{"valid token", http.MethodGet, "/api/me", "Bearer " + customer, http.StatusOK},
		{"missing header", http.MethodGet, "/api/me", "", http.StatusUnauthorized},
		{"expired token", http.MethodGet, "/api/me", "Bearer " + expired, http.StatusUnauthorized},
		{"garbage token", http.MethodGet, "/api/me", "Bearer a.b.c", http.StatusUnauthorized},
		{"role denied", http.MethodPost, "/api/admin", "Bearer " + customer, http.StatusForbidden},
		{"role granted", http.MethodPost, "/api/admin", "Bearer " + admin, http.StatusOK},
	}

	var unauthorizedBodies []string
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.header != "" {
				req.Header.Set(echo.HeaderAuthorization, tt.header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			if rec.Code == http.StatusUnauthorized {
				unauthorizedBodies = append(unauthorizedBodies, rec.Body.String())
			}
		})
	}

	require.Len(t, unauthorizedBodies, 3)
	assert.Equal(t, unauthorizedBodies[0], unauthorizedBodies[1])
	assert.Equal(t, unauthorizedBodies[1], unauthorizedBodies[2])
}

func TestOptionalAuth(t *testing.T) {
	e := echo.New()
	a := auth.NewAuthenticator("secret")
	r := router.New()
	r.GET("/api/welcome", OptionalAuth(a)(func(c echo.Context, _ router.Params) error {
		if claims, ok := Claims(c); ok {
			return c.String(http.StatusOK, claims.OwnerID())
		}
		return c.String(http.StatusOK, "anonymous")
	}))
	r.Mount(e, "/api")

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/welcome", nil))
	assert.Equal(t, "anonymous", rec.Body.String())

	token, err := a.Issue("42", "", time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/welcome", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, "42", rec.Body.String())
}
