package ratelimit

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/signature-relay/pkg/apiresponses"
	"github.com/telekom/signature-relay/pkg/metrics"
)

// Standard rate limit headers (IETF draft 6 names).
const (
	HeaderPolicy     = "RateLimit-Policy"
	HeaderLimit      = "RateLimit-Limit"
	HeaderRemaining  = "RateLimit-Remaining"
	HeaderReset      = "RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// WindowConfig configures a fixed-window limiter.
type WindowConfig struct {
	// Name identifies the limiter in store keys, logs and metrics.
	Name string
	// Window is the length of a counting window.
	Window time.Duration
	// Max is the number of requests a client may send per window.
	Max int
	// Message overrides the 429 response message.
	Message string
	// StandardHeaders enables the RateLimit-* response headers.
	StandardHeaders bool
}

// DefaultWindowConfig returns the limits of the signature endpoint:
// 10 requests per client IP every 15 minutes.
func DefaultWindowConfig() WindowConfig {
	return WindowConfig{
		Name:            "send-signature",
		Window:          15 * time.Minute,
		Max:             10,
		StandardHeaders: true,
	}
}

// WindowLimiter rejects clients that send more than Max requests per window.
type WindowLimiter struct {
	config WindowConfig
	store  Store
	log    *zap.SugaredLogger
	now    func() time.Time
}

// NewWindowLimiter creates a limiter counting in store.
func NewWindowLimiter(cfg WindowConfig, store Store, log *zap.SugaredLogger) *WindowLimiter {
	def := DefaultWindowConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Max <= 0 {
		cfg.Max = def.Max
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &WindowLimiter{
		config: cfg,
		store:  store,
		log:    log.Named("ratelimit").With("limiter", cfg.Name),
		now:    time.Now,
	}
}

// Config returns a copy of the effective configuration (for testing)
func (l *WindowLimiter) Config() WindowConfig {
	return l.config
}

// Middleware returns a Gin middleware that counts every request of a client
// IP. The request that exceeds Max is counted too, so a client hammering the
// endpoint stays blocked until its window expires.
func (l *WindowLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		hit, err := l.store.Increment(c.Request.Context(), "rl:"+l.config.Name+":"+ip, l.config.Window)
		if err != nil {
			metrics.RateLimitStoreErrors.WithLabelValues(l.config.Name).Inc()
			l.log.Warnw("Rate limit store unavailable, letting request through", "ip", ip, "error", err)
			c.Next()
			return
		}

		resetSeconds := secondsUntil(l.now(), hit.ResetAt)
		remaining := int64(l.config.Max) - hit.Count
		if remaining < 0 {
			remaining = 0
		}

		if l.config.StandardHeaders {
			c.Header(HeaderPolicy, fmt.Sprintf("%d;w=%d", l.config.Max, int64(l.config.Window.Seconds())))
			c.Header(HeaderLimit, strconv.Itoa(l.config.Max))
			c.Header(HeaderRemaining, strconv.FormatInt(remaining, 10))
			c.Header(HeaderReset, strconv.FormatInt(resetSeconds, 10))
		}

		if hit.Count > int64(l.config.Max) {
			metrics.RateLimited.WithLabelValues(l.config.Name).Inc()
			l.log.Infow("Rate limit exceeded", "ip", ip, "count", hit.Count, "max", l.config.Max)
			c.Header(HeaderRetryAfter, strconv.FormatInt(resetSeconds, 10))
			apiresponses.RespondTooManyRequests(c, l.config.Message)
			return
		}
		c.Next()
	}
}

// secondsUntil rounds the time left until t up to whole seconds, never below zero.
func secondsUntil(now, t time.Time) int64 {
	d := t.Sub(now)
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}
