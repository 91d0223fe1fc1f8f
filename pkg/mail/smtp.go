package mail

import (
	"context"
	"crypto/tls"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/telekom/signature-relay/pkg/metrics"
)

// SMTPConfig configures the SMTP transport.
type SMTPConfig struct {
	Host               string
	Port               int
	User               string
	Password           string
	InsecureSkipVerify bool
	// RetryCount is the number of additional attempts after a failed send.
	RetryCount int
	// RetryBackoff is the wait before the first retry; it doubles per attempt.
	RetryBackoff time.Duration
}

const maxSMTPBackoff = 32 * time.Second

type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPSender delivers mail through an SMTP relay (Gmail by default).
type SMTPSender struct {
	dialer       dialer
	host         string
	port         int
	retryCount   int
	retryBackoff time.Duration
	log          *zap.SugaredLogger
	sleep        func(ctx context.Context, d time.Duration) error
}

// NewSMTPSender creates an SMTP sender. Authentication is skipped when no
// user is configured.
func NewSMTPSender(cfg SMTPConfig, log *zap.SugaredLogger) *SMTPSender {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	log = log.Named("mail").With("transport", TransportSMTP)

	log.Infow("Initializing SMTP sender", "host", cfg.Host, "port", cfg.Port, "user", cfg.User)
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	if cfg.InsecureSkipVerify {
		log.Warn("InsecureSkipVerify is enabled for mail TLS connection")
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 -- opt-in for internal relays
	}

	retryCount := cfg.RetryCount
	if retryCount < 0 {
		retryCount = 0
	}
	retryBackoff := cfg.RetryBackoff
	if retryBackoff <= 0 {
		retryBackoff = 100 * time.Millisecond
	}
	log.Infow("Retry configuration", "count", retryCount, "initialBackoff", retryBackoff)

	return &SMTPSender{
		dialer:       d,
		host:         cfg.Host,
		port:         cfg.Port,
		retryCount:   retryCount,
		retryBackoff: retryBackoff,
		log:          log,
		sleep:        sleepContext,
	}
}

func (s *SMTPSender) Transport() string {
	return TransportSMTP
}

// Send delivers msg, retrying with exponential backoff. It gives up early
// when ctx is cancelled between attempts.
func (s *SMTPSender) Send(ctx context.Context, msg *Message) error {
	if err := msg.validate(); err != nil {
		metrics.MailSendFailure.WithLabelValues(TransportSMTP).Inc()
		return err
	}
	s.log.Debugw("Preparing to send mail", "id", msg.ID, "receivers", len(msg.To), "subject", msg.Subject)
	m := msg.toGomail()

	var lastErr error
	backoff := s.retryBackoff
	for attempt := 0; attempt <= s.retryCount; attempt++ {
		err := s.dialer.DialAndSend(m)
		if err == nil {
			s.log.Infow("Mail sent", "id", msg.ID, "receivers", len(msg.To), "attempt", attempt+1)
			metrics.MailSendSuccess.WithLabelValues(TransportSMTP).Inc()
			return nil
		}

		lastErr = err
		if attempt == s.retryCount {
			s.log.Errorw("Failed to send mail", "id", msg.ID, "attempts", attempt+1, "error", err)
			break
		}
		s.log.Warnw("Send attempt failed, retrying", "id", msg.ID, "attempt", attempt+1, "retryIn", backoff, "error", err)
		if err := s.sleep(ctx, backoff); err != nil {
			lastErr = err
			break
		}
		backoff = min(backoff*2, maxSMTPBackoff)
	}

	metrics.MailSendFailure.WithLabelValues(TransportSMTP).Inc()
	return lastErr
}

// Host returns the configured SMTP host
func (s *SMTPSender) Host() string {
	return s.host
}

// Port returns the configured SMTP port
func (s *SMTPSender) Port() int {
	return s.port
}

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
