package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/signature-relay/pkg/apiresponses"
	"github.com/telekom/signature-relay/pkg/audit"
	"github.com/telekom/signature-relay/pkg/config"
	"github.com/telekom/signature-relay/pkg/metrics"
	"github.com/telekom/signature-relay/pkg/ratelimit"
	"github.com/telekom/signature-relay/pkg/system"
	"github.com/telekom/signature-relay/pkg/telemetry"
	"github.com/telekom/signature-relay/pkg/version"
)

// Paths that are neither token gated nor globally rate limited.
const (
	HealthPath  = "/health"
	MetricsPath = "/metrics"
)

type APIController interface {
	BasePath() string
	Register(rg *gin.RouterGroup) error
	Handlers() []gin.HandlerFunc
}

type Server struct {
	gin           *gin.Engine
	config        config.Config
	log           *zap.SugaredLogger
	globalLimiter *ratelimit.IPRateLimiter
	audit         audit.Recorder
	// protected holds every route behind the shared token.
	protected *gin.RouterGroup
}

func NewServer(log *zap.Logger, cfg config.Config, debug bool, opts ...ServerOption) (*Server, error) {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}

	limiterCfg := ratelimit.DefaultAPIConfig()
	if cfg.RateLimit.GlobalRate > 0 {
		limiterCfg.Rate = cfg.RateLimit.GlobalRate
	}
	if cfg.RateLimit.GlobalBurst > 0 {
		limiterCfg.Burst = cfg.RateLimit.GlobalBurst
	}
	globalLimiter := ratelimit.New(limiterCfg)

	s := &Server{
		gin:           engine,
		config:        cfg,
		log:           log.Sugar(),
		globalLimiter: globalLimiter,
		audit:         audit.Discard,
	}
	for _, opt := range opts {
		opt(s)
	}

	engine.Use(
		system.RequestID(s.log),
		auditRateLimited(s.audit),
		telemetry.Middleware(),
		ginzap.Ginzap(log, time.RFC3339, true),
		ginzap.RecoveryWithZap(log, true),
		securityHeaders(),
		globalLimiter.MiddlewareWithExclusions([]string{HealthPath, MetricsPath}),
	)
	engine.Use(corsHandlers(cfg.CORS.AllowedOrigins, s.log, s.audit)...)

	engine.GET(HealthPath, s.getHealth)
	if cfg.Server.MetricsEnabled {
		engine.GET(MetricsPath, gin.WrapH(metrics.MetricsHandler()))
	}

	gate := tokenGate(cfg.Security.SignatureToken, s.log, s.audit)
	s.protected = engine.Group("/", gate)
	s.protected.GET("version", s.getVersion)

	engine.NoRoute(gate, func(c *gin.Context) {
		apiresponses.RespondNotFound(c)
	})

	return s, nil
}

// RegisterAll mounts the controllers behind the shared token.
func (s *Server) RegisterAll(controllers []APIController) error {
	for _, c := range controllers {
		if err := c.Register(s.protected.Group(c.BasePath(), c.Handlers()...)); err != nil {
			return err
		}
	}
	return nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.gin
}

// Run listens on the configured address until ctx is cancelled, then shuts
// down gracefully. tlsConfig is only used when a certificate is configured.
func (s *Server) Run(ctx context.Context, tlsConfig *tls.Config) error {
	ln, err := net.Listen("tcp", s.config.Server.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Server.ListenAddress, err)
	}
	return s.serve(ctx, ln, tlsConfig)
}

func (s *Server) serve(ctx context.Context, ln net.Listener, tlsConfig *tls.Config) error {
	timeouts := s.config.Server.GetServerTimeouts()
	srv := &http.Server{
		Handler:           s.gin,
		ReadTimeout:       timeouts.GetReadTimeout(),
		ReadHeaderTimeout: timeouts.GetReadHeaderTimeout(),
		WriteTimeout:      timeouts.GetWriteTimeout(),
		IdleTimeout:       timeouts.GetIdleTimeout(),
		MaxHeaderBytes:    timeouts.GetMaxHeaderBytes(),
		TLSConfig:         tlsConfig,
	}

	certFile, keyFile := s.config.Server.TLSCertFile, s.config.Server.TLSKeyFile
	errCh := make(chan error, 1)
	go func() {
		var err error
		if certFile != "" && keyFile != "" {
			s.log.Infow("Listening with TLS", "address", ln.Addr().String())
			err = srv.ServeTLS(ln, certFile, keyFile)
		} else {
			s.log.Infow("Listening", "address", ln.Addr().String())
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.config.Server.GetShutdownTimeout()
	s.log.Infow("Shutting down HTTP server", "timeout", timeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return <-errCh
}

// Close releases the background resources of the server.
func (s *Server) Close() {
	if s.globalLimiter != nil {
		s.globalLimiter.Stop()
	}
}

func (s *Server) getHealth(c *gin.Context) {
	apiresponses.RespondOK(c, gin.H{"ok": true})
}

func (s *Server) getVersion(c *gin.Context) {
	apiresponses.RespondOK(c, version.GetBuildInfo())
}
