package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"contactform/backend/internal/auth/jwt"
	"contactform/backend/internal/monitoring"
)

const testSecret = "test-secret-key-for-admin-tokens-32-chars"

func init() {
	gin.SetMode(gin.TestMode)
}

func okHandler(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func TestBodySizeLimit(t *testing.T) {
	reject := func(c *gin.Context) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "too large"})
	}

	router := gin.New()
	router.POST("/upload", BodySizeLimit(10, reject), func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "read failed")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	t.Run("within limit", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("small")))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "10", rec.Header().Get("X-Max-Body-Size"))
	})

	t.Run("declared length over limit", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("this body is too long")))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("streamed body over limit", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("this body is too long"))
		req.ContentLength = -1
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}

func TestIPRateLimiter(t *testing.T) {
	t.Run("burst then block", func(t *testing.T) {
		blocked := 0
		limiter := NewIPRateLimiter(60, 2, func() { blocked++ }, zap.NewNop())
		now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
		limiter.now = func() time.Time { return now }

		router := gin.New()
		router.POST("/upload", limiter.Middleware(), okHandler)

		codes := make([]int, 0, 3)
		for i := 0; i < 3; i++ {
			req := httptest.NewRequest(http.MethodPost, "/upload", nil)
			req.RemoteAddr = "203.0.113.7:1234"
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			codes = append(codes, rec.Code)
			if rec.Code == http.StatusTooManyRequests {
				assert.Equal(t, "1", rec.Header().Get("Retry-After"))
			}
		}

		assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
		assert.Equal(t, 1, blocked)

		// 其他 IP 不受影响
		req := httptest.NewRequest(http.MethodPost, "/upload", nil)
		req.RemoteAddr = "198.51.100.1:1234"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("tokens refill over time", func(t *testing.T) {
		limiter := NewIPRateLimiter(60, 1, nil, nil)
		now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
		limiter.now = func() time.Time { return now }

		assert.True(t, limiter.Allow("a"))
		assert.False(t, limiter.Allow("a"))

		now = now.Add(time.Second)
		assert.True(t, limiter.Allow("a"))
	})

	t.Run("idle visitors are evicted", func(t *testing.T) {
		limiter := NewIPRateLimiter(60, 1, nil, nil)
		now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
		limiter.now = func() time.Time { return now }

		limiter.Allow("a")
		now = now.Add(limiterIdleTTL + time.Second)
		limiter.Allow("b")

		limiter.mu.Lock()
		defer limiter.mu.Unlock()
		assert.NotContains(t, limiter.visitors, "a")
		assert.Contains(t, limiter.visitors, "b")
	})
}

func TestJWTAuth_RequireAdmin(t *testing.T) {
	manager := jwt.NewManager(testSecret, "contactform", time.Hour)
	token, _, err := manager.GenerateToken("ops")
	require.NoError(t, err)

	router := gin.New()
	router.GET("/messages", NewJWTAuth(manager, nil).RequireAdmin(), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("adminSubject"))
	})

	open := gin.New()
	open.GET("/messages", NewJWTAuth(nil, nil).RequireAdmin(), okHandler)

	tests := []struct {
		name   string
		router *gin.Engine
		setup  func(r *http.Request)
		code   int
	}{
		{"未配置密钥时放行", open, func(r *http.Request) {}, http.StatusOK},
		{"缺少令牌", router, func(r *http.Request) {}, http.StatusUnauthorized},
		{"无效令牌", router, func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized},
		{"Bearer 令牌", router, func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, http.StatusOK},
		{"Cookie 令牌", router, func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "admin_token", Value: token}) }, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/messages", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()

			tt.router.ServeHTTP(rec, req)

			assert.Equal(t, tt.code, rec.Code)
		})
	}

	t.Run("subject is exposed to handlers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/messages", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, "ops", rec.Body.String())
	})
}

func TestRecoveryHandler(t *testing.T) {
	panics := 0
	router := gin.New()
	router.Use(RecoveryHandler(zap.NewNop(), func() { panics++ }))
	router.GET("/boom", func(c *gin.Context) { panic("boom") })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"Erreur interne du serveur"}`, rec.Body.String())
	assert.Equal(t, 1, panics)
}

func TestSecurityHeaders(t *testing.T) {
	router := gin.New()
	router.Use(SecurityHeaders())
	router.GET("/health", okHandler)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestHTTPMetrics(t *testing.T) {
	metrics := monitoring.NewMetrics(nil)
	router := gin.New()
	router.Use(HTTPMetrics(metrics), RequestLogger(zap.NewNop()))
	router.GET("/health", okHandler)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/health", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "404")))
}
