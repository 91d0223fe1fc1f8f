/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/telekom/signature-relay/pkg/apiresponses"
	"github.com/telekom/signature-relay/pkg/audit"
	"github.com/telekom/signature-relay/pkg/config"
	"github.com/telekom/signature-relay/pkg/mail"
	"github.com/telekom/signature-relay/pkg/metrics"
	"github.com/telekom/signature-relay/pkg/ratelimit"
	"github.com/telekom/signature-relay/pkg/signature"
	"github.com/telekom/signature-relay/pkg/system"
	"github.com/telekom/signature-relay/pkg/telemetry"
)

const (
	SendSignaturePath = "/send-signature"

	MsgSignatureSent   = "Firma enviada correctamente"
	MsgSignatureFailed = "Error al enviar la firma"
)

// Deliverer hands a finished notification to the mail transport.
type Deliverer interface {
	Deliver(ctx context.Context, msg *mail.Message) error
}

// SignatureController serves POST /send-signature.
type SignatureController struct {
	deliverer Deliverer
	limits    signature.Limits
	jsonLimit int64
	location  *time.Location
	from      string
	to        []string
	window    *ratelimit.WindowLimiter
	slowDown  *ratelimit.SlowDown
	log       *zap.SugaredLogger
	audit     audit.Recorder

	now   func() time.Time
	newID func() string
}

// NewSignatureController wires the submission endpoint. Both throttles count
// in store, which may be shared between replicas.
func NewSignatureController(cfg config.Config, deliverer Deliverer, store ratelimit.Store, log *zap.SugaredLogger) (*SignatureController, error) {
	if deliverer == nil {
		return nil, errors.New("signature controller needs a mail deliverer")
	}
	if store == nil {
		return nil, errors.New("signature controller needs a rate limit store")
	}
	jsonLimit, err := cfg.Server.JSONLimitBytes()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	limits := signature.DefaultLimits()
	if cfg.Signature.MinBytes > 0 {
		limits.MinBytes = cfg.Signature.MinBytes
	}
	if cfg.Signature.MaxBytes > 0 {
		limits.MaxBytes = cfg.Signature.MaxBytes
	}
	limits.VerifyImage = !cfg.Signature.SkipImageVerification

	window := ratelimit.DefaultWindowConfig()
	window.Window = cfg.RateLimit.GetWindow()
	window.Max = cfg.RateLimit.Max
	window.Message = cfg.RateLimit.Message

	slow := ratelimit.DefaultSlowDownConfig()
	slow.Window = cfg.SlowDown.GetWindow()
	slow.DelayAfter = cfg.SlowDown.GetDelayAfter()
	slow.Delay = cfg.SlowDown.GetDelay()
	slow.Incremental = cfg.SlowDown.Incremental
	slow.MaxDelay = cfg.SlowDown.GetMaxDelay()

	return &SignatureController{
		deliverer: deliverer,
		limits:    limits,
		jsonLimit: jsonLimit,
		location:  signature.LoadLocation(cfg.Signature.TimeZone),
		from:      cfg.Mail.SenderAddress,
		to:        cfg.Mail.To,
		window:    ratelimit.NewWindowLimiter(window, store, log),
		slowDown:  ratelimit.NewSlowDown(slow, store, log),
		log:       log.Named("signature"),
		audit:     audit.Discard,
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

// SetAuditRecorder records submission outcomes in rec.
func (sc *SignatureController) SetAuditRecorder(rec audit.Recorder) {
	if rec != nil {
		sc.audit = rec
	}
}

func (sc *SignatureController) record(c *gin.Context, eventType audit.EventType, sub *audit.Submission) {
	event := newAuditEvent(c, eventType)
	event.Submission = sub
	sc.audit.Emit(c.Request.Context(), event)
}

func (sc *SignatureController) BasePath() string {
	return ""
}

// Handlers returns the throttles every submission passes before validation.
func (sc *SignatureController) Handlers() []gin.HandlerFunc {
	return []gin.HandlerFunc{sc.window.Middleware(), sc.slowDown.Middleware()}
}

func (sc *SignatureController) Register(rg *gin.RouterGroup) error {
	rg.POST(SendSignaturePath, sc.handleSendSignature)
	return nil
}

func (sc *SignatureController) handleSendSignature(c *gin.Context) {
	log := system.GetReqLogger(c, sc.log)

	req, err := sc.decodeRequest(c)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.SignatureRequests.WithLabelValues("too_large").Inc()
			log.Infow("Rejected oversized submission", "limit", sc.jsonLimit)
			sc.record(c, audit.EventSubmissionMalformed, &audit.Submission{Reason: "too_large"})
			apiresponses.RespondPayloadTooLarge(c)
			return
		}
		metrics.SignatureRequests.WithLabelValues("malformed").Inc()
		log.Infow("Rejected malformed submission", "error", err)
		sc.record(c, audit.EventSubmissionMalformed, &audit.Submission{Reason: "invalid_json"})
		apiresponses.RespondBadRequest(c, apiresponses.MsgInvalidJSON, "INVALID_JSON")
		return
	}

	payload, err := signature.Validate(req, sc.limits)
	if err != nil {
		ve, ok := signature.AsValidationError(err)
		if !ok {
			apiresponses.RespondInternalError(c, MsgSignatureFailed, "validate signature", err, log)
			return
		}
		metrics.SignatureRequests.WithLabelValues("invalid").Inc()
		metrics.SignatureRejected.WithLabelValues(string(ve.Reason)).Inc()
		log.Infow("Rejected invalid submission", "reason", ve.Reason)
		sc.record(c, audit.EventSubmissionRejected, &audit.Submission{Reason: string(ve.Reason)})
		apiresponses.RespondBadRequest(c, ve.Message, string(ve.Reason))
		return
	}

	submissionID := sc.newID()
	ctx, span := telemetry.Tracer().Start(c.Request.Context(), "signature.Submit")
	defer span.End()
	span.SetAttributes(
		attribute.String("signature.submission_id", submissionID),
		attribute.Int("signature.image_bytes", len(payload.Image)),
		attribute.Bool("signature.has_id_number", payload.IDNumber != ""),
	)

	log = log.With("submissionId", submissionID)
	msg, err := mail.NewSignatureMessage(sc.from, sc.to, mail.SignatureMailParams{
		Name:         payload.Name,
		IDNumber:     payload.IDNumber,
		Timestamp:    signature.FormatTimestamp(sc.now(), sc.location),
		SubmissionID: submissionID,
	}, payload.Image)
	if err == nil {
		err = sc.deliverer.Deliver(ctx, msg)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
		metrics.SignatureRequests.WithLabelValues("failed").Inc()
		sc.record(c, audit.EventSubmissionFailed, &audit.Submission{ID: submissionID, ImageBytes: len(payload.Image)})
		apiresponses.RespondInternalError(c, MsgSignatureFailed, "send signature mail", err, log)
		return
	}

	metrics.SignatureRequests.WithLabelValues("accepted").Inc()
	metrics.SignatureImageBytes.Observe(float64(len(payload.Image)))
	log.Infow("Signature relayed", "imageBytes", len(payload.Image))
	sc.record(c, audit.EventSubmissionAccepted, &audit.Submission{ID: submissionID, ImageBytes: len(payload.Image)})
	apiresponses.RespondSuccess(c, MsgSignatureSent)
}

// decodeRequest reads the body like a JSON body parser in front of the
// handler: only JSON content types are parsed, an empty or non-JSON body and
// any JSON value other than an object yield an empty request, which then
// fails validation. Errors are either *http.MaxBytesError or malformed JSON.
func (sc *SignatureController) decodeRequest(c *gin.Context) (signature.Request, error) {
	var req signature.Request
	if c.Request.Body == nil || !isJSONContentType(c.GetHeader("Content-Type")) {
		return req, nil
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, sc.jsonLimit))
	if err != nil {
		return req, err
	}
	if len(body) == 0 {
		return req, nil
	}

	var decoded any
	if err := decodeJSON(body, &decoded); err != nil {
		return req, err
	}
	if obj, ok := decoded.(map[string]any); ok {
		req.Name = obj["name"]
		req.IDNumber = obj["idNumber"]
		req.Signature = obj["signature"]
	}
	return req, nil
}

func decodeJSON(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("unexpected data after JSON value")
	}
	return nil
}

func isJSONContentType(header string) bool {
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return false
	}
	return mediaType == "application/json"
}
