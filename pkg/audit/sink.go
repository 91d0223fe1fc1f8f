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

package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/signature-relay/pkg/config"
	"github.com/telekom/signature-relay/pkg/metrics"
)

// Sink receives audit events.
type Sink interface {
	Write(ctx context.Context, event *Event) error
	Close() error
	Name() string
}

// LogSink writes audit events to the relay log.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("audit")}
}

// Write logs the event as a structured line.
func (s *LogSink) Write(_ context.Context, event *Event) error {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("severity", string(event.Severity)),
		zap.Time("timestamp", event.Timestamp),
	}
	if event.Client.IP != "" {
		fields = append(fields, zap.String("client_ip", event.Client.IP))
	}
	if event.Client.Origin != "" {
		fields = append(fields, zap.String("origin", event.Client.Origin))
	}
	if event.RequestID != "" {
		fields = append(fields, zap.String("request_id", event.RequestID))
	}
	if sub := event.Submission; sub != nil {
		if sub.ID != "" {
			fields = append(fields, zap.String("submission_id", sub.ID))
		}
		if sub.Reason != "" {
			fields = append(fields, zap.String("reason", sub.Reason))
		}
		if sub.ImageBytes > 0 {
			fields = append(fields, zap.Int("image_bytes", sub.ImageBytes))
		}
	}
	if len(event.Details) > 0 {
		if detailsJSON, err := json.Marshal(event.Details); err == nil {
			fields = append(fields, zap.String("details", string(detailsJSON)))
		}
	}

	s.logger.Info("audit_event", fields...)
	return nil
}

// Close is a no-op for LogSink.
func (s *LogSink) Close() error {
	return nil
}

// Name returns the sink identifier.
func (s *LogSink) Name() string {
	return "log"
}

// WebhookSink posts each audit event as JSON to an HTTP endpoint.
type WebhookSink struct {
	url           string
	httpClient    *http.Client
	headers       map[string]string
	logger        *zap.Logger
	eventsWritten atomic.Int64
	eventsFailed  atomic.Int64
}

// NewWebhookSink posts events as JSON to cfg.URL.
func NewWebhookSink(cfg config.AuditWebhook, logger *zap.Logger) (*WebhookSink, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook URL is required")
	}
	return &WebhookSink{
		url:        cfg.URL,
		httpClient: &http.Client{Timeout: cfg.GetTimeout()},
		headers:    cfg.Headers,
		logger:     logger.Named("webhook-sink"),
	}, nil
}

// Write posts one event. Any status of 400 or above is a failure.
func (s *WebhookSink) Write(ctx context.Context, event *Event) error {
	start := time.Now()
	err := s.post(ctx, event)
	metrics.AuditSinkLatency.WithLabelValues(s.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		s.eventsFailed.Add(1)
		metrics.AuditSinkErrors.WithLabelValues(s.Name(), "delivery").Inc()
		s.logger.Debug("Webhook delivery failed", zap.String("event_id", event.ID), zap.Error(err))
		return err
	}
	s.eventsWritten.Add(1)
	return nil
}

func (s *WebhookSink) post(ctx context.Context, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "signature-relay-audit")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send audit event to %s: %w", s.url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("webhook %s returned error status: %d", s.url, resp.StatusCode)
	}
	return nil
}

// Stats returns the number of delivered and failed events.
func (s *WebhookSink) Stats() (written, failed int64) {
	return s.eventsWritten.Load(), s.eventsFailed.Load()
}

// Close is a no-op for WebhookSink.
func (s *WebhookSink) Close() error {
	return nil
}

// Name returns the sink identifier.
func (s *WebhookSink) Name() string {
	return "webhook"
}

// MultiSink fans events out to several sinks.
type MultiSink struct {
	sinks  []Sink
	logger *zap.Logger
}

// NewMultiSink creates a sink that writes to multiple destinations.
func NewMultiSink(sinks []Sink, logger *zap.Logger) *MultiSink {
	return &MultiSink{sinks: sinks, logger: logger}
}

// Write sends the event to all sinks and joins their errors.
func (s *MultiSink) Write(ctx context.Context, event *Event) error {
	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Write(ctx, event); err != nil {
			s.logger.Warn("audit sink write failed",
				zap.String("sink", sink.Name()),
				zap.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close closes all sinks.
func (s *MultiSink) Close() error {
	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Name returns the sink identifier.
func (s *MultiSink) Name() string {
	return "multi"
}
