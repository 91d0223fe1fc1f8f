package ratelimit

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/signature-relay/pkg/metrics"
)

// SlowDownConfig configures the slow-down throttle.
type SlowDownConfig struct {
	// Name identifies the throttle in store keys and logs.
	Name string
	// Window is the length of a counting window.
	Window time.Duration
	// DelayAfter is the number of requests per window served without delay.
	DelayAfter int
	// Delay is added to every request past DelayAfter.
	Delay time.Duration
	// Incremental multiplies Delay by the number of requests past DelayAfter.
	Incremental bool
	// MaxDelay caps the applied delay. Zero means no cap.
	MaxDelay time.Duration
}

// DefaultSlowDownConfig returns the throttle of the signature endpoint:
// from the sixth request in 15 minutes on, every request waits 800ms.
func DefaultSlowDownConfig() SlowDownConfig {
	return SlowDownConfig{
		Name:       "send-signature",
		Window:     15 * time.Minute,
		DelayAfter: 5,
		Delay:      800 * time.Millisecond,
	}
}

// SlowDown delays clients that keep sending requests instead of rejecting them.
type SlowDown struct {
	config SlowDownConfig
	store  Store
	log    *zap.SugaredLogger
	wait   func(ctx context.Context, d time.Duration) error
}

// NewSlowDown creates a throttle counting in store.
func NewSlowDown(cfg SlowDownConfig, store Store, log *zap.SugaredLogger) *SlowDown {
	def := DefaultSlowDownConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.DelayAfter < 0 {
		cfg.DelayAfter = 0
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &SlowDown{
		config: cfg,
		store:  store,
		log:    log.Named("slowdown").With("limiter", cfg.Name),
		wait:   sleepContext,
	}
}

// Config returns a copy of the effective configuration (for testing)
func (s *SlowDown) Config() SlowDownConfig {
	return s.config
}

// DelayFor returns the delay for the count-th request of a window.
func (s *SlowDown) DelayFor(count int64) time.Duration {
	over := count - int64(s.config.DelayAfter)
	if over <= 0 || s.config.Delay <= 0 {
		return 0
	}

	delay := s.config.Delay
	if s.config.Incremental {
		delay = time.Duration(over) * s.config.Delay
	}
	if s.config.MaxDelay > 0 && delay > s.config.MaxDelay {
		delay = s.config.MaxDelay
	}
	return delay
}

// Middleware returns a Gin middleware that holds requests past the threshold
// for the configured delay. A client that goes away while waiting is not
// served.
func (s *SlowDown) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		hit, err := s.store.Increment(c.Request.Context(), "sd:"+s.config.Name+":"+ip, s.config.Window)
		if err != nil {
			metrics.RateLimitStoreErrors.WithLabelValues(s.config.Name + "-slowdown").Inc()
			s.log.Warnw("Slow-down store unavailable, letting request through", "ip", ip, "error", err)
			c.Next()
			return
		}

		delay := s.DelayFor(hit.Count)
		if delay > 0 {
			metrics.SlowedDown.Inc()
			metrics.SlowDownDelaySeconds.Observe(delay.Seconds())
			s.log.Debugw("Delaying request", "ip", ip, "count", hit.Count, "delay", delay)
			if err := s.wait(c.Request.Context(), delay); err != nil {
				s.log.Debugw("Client went away while delayed", "ip", ip, "error", err)
				c.Abort()
				return
			}
		}
		c.Next()
	}
}

// sleepContext blocks for d or until ctx is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
