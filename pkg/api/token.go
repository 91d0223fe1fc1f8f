package api

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/signature-relay/pkg/apiresponses"
	"github.com/telekom/signature-relay/pkg/audit"
	"github.com/telekom/signature-relay/pkg/metrics"
	"github.com/telekom/signature-relay/pkg/system"
)

// TokenHeader carries the shared secret of the signing form.
const TokenHeader = "X-Signature-Token"

// tokenGate rejects requests whose X-Signature-Token differs from token.
// An empty token disables the gate.
func tokenGate(token string, log *zap.SugaredLogger, rec audit.Recorder) gin.HandlerFunc {
	if token == "" {
		return func(c *gin.Context) { c.Next() }
	}
	want := []byte(token)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader(TokenHeader))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			metrics.TokenRejected.Inc()
			system.GetReqLogger(c, log).Infow("Rejected request with missing or wrong token",
				"path", c.Request.URL.Path, "tokenPresent", len(got) > 0)
			event := newAuditEvent(c, audit.EventTokenRejected)
			event.Details["tokenPresent"] = len(got) > 0
			rec.Emit(c.Request.Context(), event)
			apiresponses.RespondUnauthorized(c)
			return
		}
		c.Next()
	}
}
