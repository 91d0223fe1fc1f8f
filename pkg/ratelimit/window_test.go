package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/signature-relay/pkg/apiresponses"
	"github.com/telekom/signature-relay/pkg/metrics"
)

type failingStore struct{}

func (failingStore) Increment(context.Context, string, time.Duration) (Hit, error) {
	return Hit{}, errors.New("connection refused")
}

func (failingStore) Reset(context.Context, string) error {
	return errors.New("connection refused")
}

func windowRouter(l *WindowLimiter) *gin.Engine {
	router := gin.New()
	router.POST("/send-signature", l.Middleware(), func(c *gin.Context) {
		apiresponses.RespondSuccess(c, "ok")
	})
	return router
}

func TestNewWindowLimiterDefaults(t *testing.T) {
	l := NewWindowLimiter(WindowConfig{}, NewMemoryStore(time.Hour), nil)
	cfg := l.Config()
	assert.Equal(t, "send-signature", cfg.Name)
	assert.Equal(t, 15*time.Minute, cfg.Window)
	assert.Equal(t, 10, cfg.Max)
}

func TestWindowLimiter(t *testing.T) {
	clock := newFakeClock()
	store := newTestMemoryStore(t, clock)
	l := NewWindowLimiter(WindowConfig{Name: "test-window", Window: 15 * time.Minute, Max: 3, StandardHeaders: true}, store, nil)
	l.now = clock.Now
	router := windowRouter(l)

	for i := 1; i <= 3; i++ {
		w := serve(router, http.MethodPost, "/send-signature", "203.0.113.7:4000")
		require.Equal(t, http.StatusOK, w.Code, "request %d", i)
		assert.Equal(t, "3;w=900", w.Header().Get(HeaderPolicy))
		assert.Equal(t, "3", w.Header().Get(HeaderLimit))
		assert.Equal(t, []string{"2", "1", "0"}[i-1], w.Header().Get(HeaderRemaining))
		assert.Equal(t, "900", w.Header().Get(HeaderReset))
		assert.Empty(t, w.Header().Get(HeaderRetryAfter))
	}

	before := testutil.ToFloat64(metrics.RateLimited.WithLabelValues("test-window"))
	clock.Advance(5 * time.Minute)

	w := serve(router, http.MethodPost, "/send-signature", "203.0.113.7:4000")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get(HeaderRemaining))
	assert.Equal(t, "600", w.Header().Get(HeaderRetryAfter))
	assert.JSONEq(t, `{"success":false,"message":"`+apiresponses.MsgTooManyRequests+`","code":"RATE_LIMITED"}`, w.Body.String())
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.RateLimited.WithLabelValues("test-window")))

	// Other clients have their own window.
	assert.Equal(t, http.StatusOK, serve(router, http.MethodPost, "/send-signature", "203.0.113.8:4000").Code)

	// Once the window is over the client is served again.
	clock.Advance(10 * time.Minute)
	w = serve(router, http.MethodPost, "/send-signature", "203.0.113.7:4000")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get(HeaderRemaining))
}

func TestWindowLimiterCountsRejectedRequests(t *testing.T) {
	clock := newFakeClock()
	store := newTestMemoryStore(t, clock)
	l := NewWindowLimiter(WindowConfig{Name: "test-count", Window: time.Minute, Max: 1}, store, nil)
	l.now = clock.Now
	router := windowRouter(l)

	for i := 0; i < 4; i++ {
		serve(router, http.MethodPost, "/send-signature", "203.0.113.7:4000")
	}

	hit, err := store.Increment(context.Background(), "rl:test-count:203.0.113.7", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(5), hit.Count)
}

func TestWindowLimiterCustomMessageAndNoHeaders(t *testing.T) {
	l := NewWindowLimiter(WindowConfig{Name: "test-msg", Window: time.Minute, Max: 1, Message: "Espere"}, newTestMemoryStore(t, newFakeClock()), nil)
	router := windowRouter(l)

	w := serve(router, http.MethodPost, "/send-signature", "203.0.113.7:4000")
	assert.Empty(t, w.Header().Get(HeaderLimit))

	w = serve(router, http.MethodPost, "/send-signature", "203.0.113.7:4000")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), `"message":"Espere"`)
	assert.NotEmpty(t, w.Header().Get(HeaderRetryAfter), "Retry-After is sent regardless of StandardHeaders")
}

func TestWindowLimiterFailsOpen(t *testing.T) {
	l := NewWindowLimiter(WindowConfig{Name: "test-failopen", Window: time.Minute, Max: 1}, failingStore{}, nil)
	router := windowRouter(l)

	before := testutil.ToFloat64(metrics.RateLimitStoreErrors.WithLabelValues("test-failopen"))
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, serve(router, http.MethodPost, "/send-signature", "203.0.113.7:4000").Code)
	}
	assert.Equal(t, before+3, testutil.ToFloat64(metrics.RateLimitStoreErrors.WithLabelValues("test-failopen")))
}

func TestSecondsUntil(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, int64(0), secondsUntil(now, now.Add(-time.Second)))
	assert.Equal(t, int64(0), secondsUntil(now, now))
	assert.Equal(t, int64(1), secondsUntil(now, now.Add(10*time.Millisecond)))
	assert.Equal(t, int64(2), secondsUntil(now, now.Add(1500*time.Millisecond)))
}
