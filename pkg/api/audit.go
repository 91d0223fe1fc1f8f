package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/telekom/signature-relay/pkg/audit"
	"github.com/telekom/signature-relay/pkg/system"
)

// ServerOption customises a Server.
type ServerOption func(*Server)

// WithAuditRecorder sends gate decisions to rec.
func WithAuditRecorder(rec audit.Recorder) ServerOption {
	return func(s *Server) {
		if rec != nil {
			s.audit = rec
		}
	}
}

// newAuditEvent describes the caller of c.
func newAuditEvent(c *gin.Context, eventType audit.EventType) *audit.Event {
	return &audit.Event{
		Type: eventType,
		Client: audit.Client{
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			Origin:    c.GetHeader("Origin"),
		},
		RequestID: system.GetRequestID(c),
		Details: map[string]interface{}{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
		},
	}
}

// auditRateLimited records every request that ends in 429, whichever
// limiter answered it.
func auditRateLimited(rec audit.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if c.Writer.Status() == http.StatusTooManyRequests {
			rec.Emit(c.Request.Context(), newAuditEvent(c, audit.EventRateLimited))
		}
	}
}
