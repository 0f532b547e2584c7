package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plantscan/api/internal/cache"
	"plantscan/api/internal/security"
	"plantscan/api/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubAuthenticator map[string]service.Principal

func (s stubAuthenticator) Authenticate(_ context.Context, token string) (service.Principal, error) {
	p, ok := s[token]
	if !ok {
		return service.Principal{}, service.ErrUnauthenticated
	}
	return p, nil
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAuthAndRequireSelf(t *testing.T) {
	auth := stubAuthenticator{"good": {UserID: "u1", Email: "a@x.com"}}
	r := gin.New()
	r.GET("/users/:userId", Auth(auth), RequireSelf("userId"), func(c *gin.Context) {
		p, ok := CurrentPrincipal(c)
		require.True(t, ok)
		c.String(http.StatusOK, p.Email)
	})

	tests := []struct {
		name   string
		path   string
		header string
		status int
	}{
		{"no header", "/users/u1", "", http.StatusUnauthorized},
		{"wrong scheme", "/users/u1", "Basic good", http.StatusUnauthorized},
		{"empty token", "/users/u1", "Bearer ", http.StatusUnauthorized},
		{"unknown token", "/users/u1", "Bearer bad", http.StatusUnauthorized},
		{"other user", "/users/u2", "Bearer good", http.StatusForbidden},
		{"self", "/users/u1", "Bearer good", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := serve(r, req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusUnauthorized {
				assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	now := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	window := cache.NewMemoryWindow().WithClock(func() time.Time { return now })
	r := gin.New()
	r.GET("/", RateLimit(window, "global", 2, 15*time.Minute, zerolog.Nop()), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for i := 0; i < 2; i++ {
		rec := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "too many requests")

	other := httptest.NewRequest(http.MethodGet, "/", nil)
	other.RemoteAddr = "10.0.0.9:5555"
	assert.Equal(t, http.StatusOK, serve(r, other).Code, "windows are per client ip")
}

type failingCounter struct{}

func (failingCounter) Hit(context.Context, string, time.Duration) (int64, time.Time, error) {
	return 0, time.Time{}, errors.New("redis down")
}

func TestRateLimitFailsOpen(t *testing.T) {
	r := gin.New()
	r.GET("/", RateLimit(failingCounter{}, "global", 1, time.Minute, zerolog.Nop()), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
	}
}

func TestWebhookSignature(t *testing.T) {
	const secret = "sk_test_secret"
	r := gin.New()
	r.POST("/hook", WebhookSignature(secret, zerolog.Nop()), func(c *gin.Context) {
		body, err := c.GetRawData()
		require.NoError(t, err)
		c.String(http.StatusOK, string(body))
	})

	body := `{"event":"charge.success"}`

	req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(body))
	req.Header.Set(security.HeaderWebhookSignature, security.SignWebhook(secret, []byte(body)))
	rec := serve(r, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, body, rec.Body.String(), "handler sees the original body")

	req = httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(body))
	req.Header.Set(security.HeaderWebhookSignature, security.SignWebhook("other", []byte(body)))
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)

	req = httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(body))
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)
}

func TestRequestIDAndCORS(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), CORS([]string{"https://app.plantscan.io"}))
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, GetRequestID(c))
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.plantscan.io")
	rec := serve(r, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
	assert.Equal(t, rec.Header().Get(requestIDHeader), rec.Body.String())
	assert.Equal(t, "https://app.plantscan.io", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "abc")
	req.Header.Set("Origin", "https://evil.example")
	rec = serve(r, req)
	assert.Equal(t, "abc", rec.Header().Get(requestIDHeader))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/", nil)
	assert.Equal(t, http.StatusNoContent, serve(r, req).Code)
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(Recovery(zerolog.Nop()))
	r.GET("/", func(*gin.Context) { panic("boom") })

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}
