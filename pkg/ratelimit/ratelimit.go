package ratelimit

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/telekom/signature-relay/pkg/apiresponses"
	"github.com/telekom/signature-relay/pkg/metrics"
)

// Config holds token bucket configuration
type Config struct {
	// Rate is the number of tokens added per second
	Rate float64
	// Burst is the bucket size
	Burst int
	// CleanupInterval is how often idle buckets are swept
	CleanupInterval time.Duration
	// MaxAge is how long a bucket survives without traffic
	MaxAge time.Duration
}

// DefaultAPIConfig returns the per-IP guard applied to every route:
// 5 req/s per IP, burst of 20. The signature route has its own, much
// stricter window limiter on top.
func DefaultAPIConfig() Config {
	return Config{
		Rate:            5,
		Burst:           20,
		CleanupInterval: time.Minute,
		MaxAge:          5 * time.Minute,
	}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter keeps one token bucket per client IP. Idle buckets are
// dropped by a background sweeper until Stop is called.
type IPRateLimiter struct {
	config Config
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	done chan struct{}
	once sync.Once
}

// New starts a limiter. Zero durations in cfg fall back to DefaultAPIConfig.
func New(cfg Config) *IPRateLimiter {
	def := DefaultAPIConfig()
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = def.MaxAge
	}

	rl := &IPRateLimiter{
		config:  cfg,
		now:     time.Now,
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

// Reserve takes a token for ip. If none is available it reports how long
// until one will be, without consuming anything.
func (rl *IPRateLimiter) Reserve(ip string) (bool, time.Duration) {
	now := rl.now()

	rl.mu.Lock()
	b, ok := rl.buckets[ip]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(rl.config.Rate), rl.config.Burst)}
		rl.buckets[ip] = b
	}
	b.lastSeen = now
	rl.mu.Unlock()

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, 0
	}
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		return false, wait
	}
	return true, 0
}

// Allow is Reserve without the wait time.
func (rl *IPRateLimiter) Allow(ip string) bool {
	ok, _ := rl.Reserve(ip)
	return ok
}

// Middleware answers 429 with a Retry-After header once the client's bucket
// is empty.
func (rl *IPRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, wait := rl.Reserve(c.ClientIP())
		if ok {
			c.Next()
			return
		}
		metrics.RateLimited.WithLabelValues("global").Inc()
		now := rl.now()
		c.Header(HeaderRetryAfter, strconv.FormatInt(max(secondsUntil(now, now.Add(wait)), 1), 10))
		apiresponses.RespondTooManyRequests(c, "")
	}
}

// MiddlewareWithExclusions is Middleware that lets the given paths, and
// everything below them, through unmetered.
func (rl *IPRateLimiter) MiddlewareWithExclusions(paths []string) gin.HandlerFunc {
	limit := rl.Middleware()
	return func(c *gin.Context) {
		if isExcluded(c.Request.URL.Path, paths) {
			c.Next()
			return
		}
		limit(c)
	}
}

func isExcluded(path string, excluded []string) bool {
	for _, p := range excluded {
		if path == p || strings.HasPrefix(path, strings.TrimSuffix(p, "/")+"/") {
			return true
		}
	}
	return false
}

// Stop ends the sweeper. It is safe to call more than once.
func (rl *IPRateLimiter) Stop() {
	rl.once.Do(func() { close(rl.done) })
}

func (rl *IPRateLimiter) sweepLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

func (rl *IPRateLimiter) sweep() {
	cutoff := rl.now().Add(-rl.config.MaxAge)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, ip)
		}
	}
}

// Len returns the number of tracked client IPs.
func (rl *IPRateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// Config returns the effective configuration.
func (rl *IPRateLimiter) Config() Config {
	return rl.config
}
