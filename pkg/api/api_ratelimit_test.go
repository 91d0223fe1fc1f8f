package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/telekom/signature-relay/pkg/apiresponses"
)

func TestAPIServerRateLimiting(t *testing.T) {
	t.Run("server applies per-IP rate limiting", func(t *testing.T) {
		cfg := testConfig()
		cfg.RateLimit.GlobalRate = 0.001
		cfg.RateLimit.GlobalBurst = 3
		relay := newTestRelay(t, cfg)

		for i := 0; i < 3; i++ {
			req := httptest.NewRequest(http.MethodGet, "/version", nil)
			req.RemoteAddr = "192.168.1.1:12345"
			w := relay.do(req)
			assert.Equal(t, http.StatusOK, w.Code, "request %d should succeed", i)
		}

		req := httptest.NewRequest(http.MethodGet, "/version", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		w := relay.do(req)
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, apiresponses.MsgTooManyRequests, decodeResponse(t, w).Message)
	})

	t.Run("different IPs have separate limits", func(t *testing.T) {
		cfg := testConfig()
		cfg.RateLimit.GlobalRate = 0.001
		cfg.RateLimit.GlobalBurst = 1
		relay := newTestRelay(t, cfg)

		for _, addr := range []string{"10.0.0.1:1000", "10.0.0.2:1000", "10.0.0.3:1000"} {
			req := httptest.NewRequest(http.MethodGet, "/version", nil)
			req.RemoteAddr = addr
			assert.Equal(t, http.StatusOK, relay.do(req).Code, addr)
		}
	})

	t.Run("health and metrics are never limited", func(t *testing.T) {
		cfg := testConfig()
		cfg.Server.MetricsEnabled = true
		cfg.RateLimit.GlobalRate = 0.001
		cfg.RateLimit.GlobalBurst = 1
		relay := newTestRelay(t, cfg)

		for i := 0; i < 5; i++ {
			assert.Equal(t, http.StatusOK, relay.do(httptest.NewRequest(http.MethodGet, HealthPath, nil)).Code)
			assert.Equal(t, http.StatusOK, relay.do(httptest.NewRequest(http.MethodGet, MetricsPath, nil)).Code)
		}
	})

	t.Run("spoofed X-Forwarded-For is ignored without trusted proxies", func(t *testing.T) {
		cfg := testConfig()
		cfg.RateLimit.GlobalRate = 0.001
		cfg.RateLimit.GlobalBurst = 1
		relay := newTestRelay(t, cfg)

		for i, forwarded := range []string{"203.0.113.1", "203.0.113.2"} {
			req := httptest.NewRequest(http.MethodGet, "/version", nil)
			req.RemoteAddr = "192.168.1.9:5555"
			req.Header.Set("X-Forwarded-For", forwarded)
			w := relay.do(req)
			if i == 0 {
				assert.Equal(t, http.StatusOK, w.Code)
			} else {
				assert.Equal(t, http.StatusTooManyRequests, w.Code)
			}
		}
	})

	t.Run("X-Forwarded-For is honoured behind a trusted proxy", func(t *testing.T) {
		cfg := testConfig()
		cfg.Server.TrustedProxies = []string{"192.168.1.9"}
		cfg.RateLimit.GlobalRate = 0.001
		cfg.RateLimit.GlobalBurst = 1
		relay := newTestRelay(t, cfg)

		for _, forwarded := range []string{"203.0.113.1", "203.0.113.2"} {
			req := httptest.NewRequest(http.MethodGet, "/version", nil)
			req.RemoteAddr = "192.168.1.9:5555"
			req.Header.Set("X-Forwarded-For", forwarded)
			assert.Equal(t, http.StatusOK, relay.do(req).Code, forwarded)
		}
	})
}
