package mail

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"go.uber.org/zap"

	"github.com/telekom/signature-relay/pkg/metrics"
)

// SESConfig configures the AWS SES transport. Without static keys the
// default AWS credential chain is used.
type SESConfig struct {
	Region           string
	AccessKeyID      string
	SecretAccessKey  string
	ConfigurationSet string
}

type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender delivers mail as raw MIME through AWS SES v2, which keeps the
// attachment intact.
type SESSender struct {
	client           sesAPI
	configurationSet string
	log              *zap.SugaredLogger
}

// NewSESSender loads the AWS configuration and creates an SES client.
func NewSESSender(ctx context.Context, cfg SESConfig, log *zap.SugaredLogger) (*SESSender, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return newSESSender(sesv2.NewFromConfig(awsCfg), cfg.ConfigurationSet, log), nil
}

func newSESSender(client sesAPI, configurationSet string, log *zap.SugaredLogger) *SESSender {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &SESSender{
		client:           client,
		configurationSet: configurationSet,
		log:              log.Named("mail").With("transport", TransportSES),
	}
}

func (s *SESSender) Transport() string {
	return TransportSES
}

func (s *SESSender) Send(ctx context.Context, msg *Message) error {
	if err := msg.validate(); err != nil {
		metrics.MailSendFailure.WithLabelValues(TransportSES).Inc()
		return err
	}

	var raw bytes.Buffer
	if _, err := msg.toGomail().WriteTo(&raw); err != nil {
		metrics.MailSendFailure.WithLabelValues(TransportSES).Inc()
		return fmt.Errorf("failed to build MIME message: %w", err)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From.String()),
		Destination:      &types.Destination{ToAddresses: msg.To},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: raw.Bytes()},
		},
	}
	if s.configurationSet != "" {
		input.ConfigurationSetName = aws.String(s.configurationSet)
	}
	if msg.ID != "" {
		input.EmailTags = []types.MessageTag{
			{Name: aws.String("submission_id"), Value: aws.String(msg.ID)},
		}
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		s.log.Errorw("Failed to send mail", "id", msg.ID, "error", err)
		metrics.MailSendFailure.WithLabelValues(TransportSES).Inc()
		return fmt.Errorf("ses send failed: %w", err)
	}

	s.log.Infow("Mail sent", "id", msg.ID, "receivers", len(msg.To), "messageId", aws.ToString(out.MessageId))
	metrics.MailSendSuccess.WithLabelValues(TransportSES).Inc()
	return nil
}
