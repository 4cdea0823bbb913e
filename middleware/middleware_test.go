package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestRateLimiterAllow(t *testing.T) {
	now := time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(10*time.Second, 2, time.Minute)
	rl.now = func() time.Time { return now }

	ok, _ := rl.Allow("10.0.0.1")
	assert.True(t, ok)
	ok, _ = rl.Allow("10.0.0.1")
	assert.True(t, ok)

	ok, wait := rl.Allow("10.0.0.1")
	assert.False(t, ok)
	assert.InDelta(t, float64(10*time.Second), float64(wait), float64(time.Millisecond))

	ok, _ = rl.Allow("10.0.0.2")
	assert.True(t, ok, "limits are per client")

	now = now.Add(10 * time.Second)
	ok, _ = rl.Allow("10.0.0.1")
	assert.True(t, ok)
}

func TestRateLimiterForgetsIdleClients(t *testing.T) {
	now := time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(time.Hour, 1, time.Minute)
	rl.now = func() time.Time { return now }

	rl.Allow("10.0.0.1")
	now = now.Add(2 * time.Minute)
	rl.Allow("10.0.0.2")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.clients, "10.0.0.1")
	assert.Contains(t, rl.clients, "10.0.0.2")
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Recovery(zap.NewNop()), RequestLogger(zap.NewNop()))
	router.POST("/run", RateLimit(NewRateLimiter(time.Hour, 1, 0)), func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})
	router.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/run", nil))
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/run", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "3600", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "60 minute(s)")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
