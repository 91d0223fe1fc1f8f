package mail

import (
	"context"

	"go.uber.org/zap"

	"github.com/telekom/signature-relay/pkg/metrics"
)

// LogSender only logs messages. It is used when mail delivery is disabled.
type LogSender struct {
	log *zap.SugaredLogger
}

func NewLogSender(log *zap.SugaredLogger) *LogSender {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &LogSender{log: log.Named("mail").With("transport", TransportLog)}
}

func (s *LogSender) Transport() string {
	return TransportLog
}

func (s *LogSender) Send(_ context.Context, msg *Message) error {
	if err := msg.validate(); err != nil {
		metrics.MailSendFailure.WithLabelValues(TransportLog).Inc()
		return err
	}

	attachmentBytes := 0
	for _, a := range msg.Attachments {
		attachmentBytes += len(a.Data)
	}
	s.log.Infow("Mail delivery disabled, message not sent",
		"id", msg.ID,
		"from", msg.From.String(),
		"to", msg.To,
		"subject", msg.Subject,
		"attachments", len(msg.Attachments),
		"attachmentBytes", attachmentBytes)
	metrics.MailSendSuccess.WithLabelValues(TransportLog).Inc()
	return nil
}
