package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/wyfcoding/investlink/pkg/config"
	"github.com/wyfcoding/investlink/pkg/logger"
	"github.com/wyfcoding/investlink/pkg/ratelimit"
)

type stubLimiter struct {
	res *ratelimit.Result
	err error
}

func (s *stubLimiter) Allow(context.Context, string, ratelimit.Limit) (*ratelimit.Result, error) {
	return s.res, s.err
}

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw...)
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"request_id": logger.RequestID(c.Request.Context())})
	})
	r.GET("/panic", func(*gin.Context) { panic("boom") })
	return r
}

func TestGinLoggingMiddleware_PropagatesRequestID(t *testing.T) {
	r := newRouter(GinLoggingMiddleware(nil))

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-1", rec.Header().Get(RequestIDHeader))
	assert.JSONEq(t, `{"request_id":"req-1"}`, rec.Body.String())
}

func TestGinLoggingMiddleware_GeneratesRequestID(t *testing.T) {
	r := newRouter(GinLoggingMiddleware(nil))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestGinRecoveryMiddleware(t *testing.T) {
	r := newRouter(GinRecoveryMiddleware())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Internal server error")
}

func TestGinCORSMiddleware_Preflight(t *testing.T) {
	r := newRouter(GinCORSMiddleware())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/ping", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimitMiddleware(t *testing.T) {
	cfg := config.RateLimitConfig{Enabled: true, QPS: 1, Burst: 1}

	tests := []struct {
		name    string
		limiter *stubLimiter
		want    int
	}{
		{"allowed", &stubLimiter{res: &ratelimit.Result{Allowed: true, Remaining: 0}}, http.StatusOK},
		{"rejected", &stubLimiter{res: &ratelimit.Result{Allowed: false, RetryAfter: time.Second}}, http.StatusTooManyRequests},
		{"limiter down fails open", &stubLimiter{err: errors.New("redis down")}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(RateLimitMiddleware(tt.limiter, cfg))
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
