package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/signature-relay/pkg/apiresponses"
	"github.com/telekom/signature-relay/pkg/audit"
	"github.com/telekom/signature-relay/pkg/metrics"
	"github.com/telekom/signature-relay/pkg/ratelimit"
	"github.com/telekom/signature-relay/pkg/system"
)

// Origin policy rejection messages.
const (
	MsgCORSNotConfigured = "CORS not configured"
	MsgCORSBlockedPrefix = "CORS blocked: "
)

// corsHandlers enforces the origin allow-list and answers CORS requests.
//
// Requests without an Origin header (curl, health checks, server-to-server)
// always pass. Browser requests pass only when their origin is listed; with
// an empty list every browser request is rejected. The gate runs before the
// cors middleware so that rejections get a JSON body.
func corsHandlers(allowedOrigins []string, log *zap.SugaredLogger, rec audit.Recorder) []gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}
	isAllowed := func(origin string) bool {
		_, ok := allowed[origin]
		return ok
	}

	gate := func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" || isAllowed(origin) {
			c.Next()
			return
		}

		msg := MsgCORSBlockedPrefix + origin
		if len(allowed) == 0 {
			msg = MsgCORSNotConfigured
		}
		metrics.CORSRejected.Inc()
		system.GetReqLogger(c, log).Infow("Rejected request from disallowed origin", "origin", origin)
		rec.Emit(c.Request.Context(), newAuditEvent(c, audit.EventOriginBlocked))
		apiresponses.RespondForbidden(c, msg)
	}

	return []gin.HandlerFunc{
		gate,
		cors.New(cors.Config{
			AllowOriginFunc:           isAllowed,
			AllowMethods:              []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:              []string{"Content-Type", TokenHeader},
			ExposeHeaders:             exposedHeaders,
			OptionsResponseStatusCode: 204,
			MaxAge:                    12 * time.Hour,
		}),
	}
}

// exposedHeaders lets the signing form read rate limit state.
var exposedHeaders = []string{
	ratelimit.HeaderLimit,
	ratelimit.HeaderRemaining,
	ratelimit.HeaderReset,
	ratelimit.HeaderRetryAfter,
	system.RequestIDHeader,
}
