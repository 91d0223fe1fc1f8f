package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Submission metrics. The outcome label is one of accepted, invalid,
	// malformed, too_large or failed; reason carries the validation reason.
	SignatureRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signature_relay_requests_total",
		Help: "Total number of signature submissions grouped by outcome",
	}, []string{"outcome"})
	SignatureRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signature_relay_rejected_total",
		Help: "Total number of signature submissions rejected by validation",
	}, []string{"reason"})
	SignatureImageBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "signature_relay_image_bytes",
		Help:    "Size of accepted signature images after decoding",
		Buckets: prometheus.ExponentialBuckets(2048, 2, 8),
	})

	// Gate metrics
	TokenRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "signature_relay_token_rejected_total",
		Help: "Total number of requests rejected because of a missing or wrong shared token",
	})
	CORSRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "signature_relay_cors_rejected_total",
		Help: "Total number of requests rejected by the origin policy",
	})
	RateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signature_relay_rate_limited_total",
		Help: "Total number of requests rejected by a rate limiter",
	}, []string{"limiter"})
	RateLimitStoreErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signature_relay_rate_limit_store_errors_total",
		Help: "Total number of rate limit store failures (requests are let through)",
	}, []string{"limiter"})
	SlowedDown = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "signature_relay_slowed_down_total",
		Help: "Total number of requests delayed by the slow-down throttle",
	})
	SlowDownDelaySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "signature_relay_slow_down_delay_seconds",
		Help:    "Delay applied to throttled requests",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 8),
	})

	// Mail metrics
	MailSendSuccess = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signature_relay_mail_send_success_total",
		Help: "Total number of successful mail sends",
	}, []string{"transport"})
	MailSendFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signature_relay_mail_send_failure_total",
		Help: "Total number of failed mail sends",
	}, []string{"transport"})
	MailQueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signature_relay_mail_queued_total",
		Help: "Total number of mails accepted into the asynchronous queue",
	}, []string{"transport"})
	MailQueueDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signature_relay_mail_queue_dropped_total",
		Help: "Total number of mails dropped because the queue was full or stopping",
	}, []string{"transport"})
	MailRetryScheduled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signature_relay_mail_retry_scheduled_total",
		Help: "Total number of queued mail retries scheduled",
	}, []string{"transport"})
	MailFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signature_relay_mail_failed_total",
		Help: "Total number of queued mails that failed after all retries",
	}, []string{"transport"})

	// Audit metrics
	AuditEventsProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "signature_relay_audit_events_processed_total",
		Help: "Total number of audit events written to the sink",
	})
	AuditEventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "signature_relay_audit_events_dropped_total",
		Help: "Total number of audit events dropped because the queue was full",
	})
	AuditSinkErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signature_relay_audit_sink_errors_total",
		Help: "Total number of audit sink write failures",
	}, []string{"sink", "error_type"})
	AuditSinkLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "signature_relay_audit_sink_latency_seconds",
		Help:    "Latency of audit sink writes",
		Buckets: prometheus.DefBuckets,
	}, []string{"sink"})
	AuditCircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "signature_relay_audit_circuit_breaker_state",
		Help: "Audit sink circuit breaker state (0 closed, 1 open, 2 half-open)",
	}, []string{"sink"})
	AuditCircuitBreakerRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signature_relay_audit_circuit_breaker_rejections_total",
		Help: "Total number of audit writes rejected by an open circuit",
	}, []string{"sink"})
)

func init() {
	prometheus.MustRegister(SignatureRequests)
	prometheus.MustRegister(SignatureRejected)
	prometheus.MustRegister(SignatureImageBytes)
	prometheus.MustRegister(TokenRejected)
	prometheus.MustRegister(CORSRejected)
	prometheus.MustRegister(RateLimited)
	prometheus.MustRegister(RateLimitStoreErrors)
	prometheus.MustRegister(SlowedDown)
	prometheus.MustRegister(SlowDownDelaySeconds)
	prometheus.MustRegister(MailSendSuccess)
	prometheus.MustRegister(MailSendFailure)
	prometheus.MustRegister(MailQueued)
	prometheus.MustRegister(MailQueueDropped)
	prometheus.MustRegister(MailRetryScheduled)
	prometheus.MustRegister(MailFailed)
	prometheus.MustRegister(AuditEventsProcessed)
	prometheus.MustRegister(AuditEventsDropped)
	prometheus.MustRegister(AuditSinkErrors)
	prometheus.MustRegister(AuditSinkLatency)
	prometheus.MustRegister(AuditCircuitBreakerState)
	prometheus.MustRegister(AuditCircuitBreakerRejections)
}

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
