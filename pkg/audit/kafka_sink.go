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
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
	"go.uber.org/zap"

	"github.com/telekom/signature-relay/pkg/config"
	"github.com/telekom/signature-relay/pkg/metrics"
)

const (
	kafkaBatchTimeout = 100 * time.Millisecond
	kafkaWriteTimeout = 10 * time.Second
)

var errKafkaSinkClosed = errors.New("kafka sink is closed")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events to one topic. Messages are keyed by event ID
// and carry type, severity and timestamp as headers.
type KafkaSink struct {
	writer messageWriter
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewKafkaSink connects lazily: the first write dials the brokers.
func NewKafkaSink(cfg config.AuditKafka, logger *zap.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("kafka audit sink needs brokers and a topic")
	}
	transport, err := newKafkaTransport(cfg)
	if err != nil {
		return nil, err
	}
	codec, err := compressionCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}

	logger.Info("Kafka audit sink created",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
		zap.Bool("tls", cfg.TLS.Enabled),
		zap.String("sasl", cfg.SASL.Mechanism))

	return newKafkaSink(&kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: kafkaBatchTimeout,
		WriteTimeout: kafkaWriteTimeout,
		RequiredAcks: kafka.RequireAll,
		Compression:  codec,
		Transport:    transport,
	}, logger), nil
}

func newKafkaSink(writer messageWriter, logger *zap.Logger) *KafkaSink {
	return &KafkaSink{writer: writer, logger: logger.Named("kafka-audit")}
}

func newKafkaTransport(cfg config.AuditKafka) (*kafka.Transport, error) {
	transport := &kafka.Transport{}
	if cfg.TLS.Enabled {
		tlsConfig, err := kafkaTLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("kafka TLS: %w", err)
		}
		transport.TLS = tlsConfig
	}
	if cfg.SASL.Mechanism != "" {
		mechanism, err := saslMechanism(cfg.SASL)
		if err != nil {
			return nil, fmt.Errorf("kafka SASL: %w", err)
		}
		transport.SASL = mechanism
	}
	return transport, nil
}

func kafkaTLSConfig(cfg config.KafkaTLS) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // opt-in for test clusters
	}
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = pool
	}
	if cfg.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

func saslMechanism(cfg config.KafkaSASL) (sasl.Mechanism, error) {
	switch cfg.Mechanism {
	case "PLAIN":
		return plain.Mechanism{Username: cfg.Username, Password: cfg.Password}, nil
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, cfg.Username, cfg.Password)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, cfg.Username, cfg.Password)
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %s", cfg.Mechanism)
	}
}

var compressionCodecs = map[string]kafka.Compression{
	"":       kafka.Snappy,
	"snappy": kafka.Snappy,
	"none":   0,
	"gzip":   kafka.Gzip,
	"lz4":    kafka.Lz4,
	"zstd":   kafka.Zstd,
}

func compressionCodec(name string) (kafka.Compression, error) {
	codec, ok := compressionCodecs[name]
	if !ok {
		return 0, fmt.Errorf("unknown compression codec %q", name)
	}
	return codec, nil
}

// kafkaErrorKinds maps broker error codes to metric labels.
var kafkaErrorKinds = map[kafka.Error]string{
	kafka.SASLAuthenticationFailed:   "auth",
	kafka.TopicAuthorizationFailed:   "authorization",
	kafka.ClusterAuthorizationFailed: "authorization",
	kafka.UnknownTopicOrPartition:    "broker",
	kafka.LeaderNotAvailable:         "broker",
	kafka.NotLeaderForPartition:      "broker",
	kafka.RequestTimedOut:            "timeout",
	kafka.MessageSizeTooLarge:        "size",
}

// classifyKafkaError buckets a write error into a metric label.
func classifyKafkaError(err error) string {
	var writeErrs kafka.WriteErrors
	if errors.As(err, &writeErrs) {
		for _, e := range writeErrs {
			if e != nil {
				return classifyKafkaError(e)
			}
		}
	}

	var code kafka.Error
	if errors.As(err, &code) {
		if kind, ok := kafkaErrorKinds[code]; ok {
			return kind
		}
		return "broker"
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "timeout"
		}
		return "network"
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "SASL"):
		return "auth"
	case strings.Contains(msg, "x509") || strings.Contains(msg, "tls:"):
		return "tls"
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host"):
		return "network"
	default:
		return "other"
	}
}

func eventMessage(event *Event) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal audit event %s: %w", event.ID, err)
	}
	msg := kafka.Message{
		Key:   []byte(event.ID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
			{Key: "severity", Value: []byte(event.Severity)},
			{Key: "timestamp", Value: []byte(event.Timestamp.UTC().Format(time.RFC3339))},
		},
	}
	if event.RequestID != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "request-id", Value: []byte(event.RequestID)})
	}
	return msg, nil
}

func (s *KafkaSink) Write(ctx context.Context, event *Event) error {
	return s.WriteBatch(ctx, []*Event{event})
}

// WriteBatch publishes events in one produce request. Events that cannot
// be encoded are skipped.
func (s *KafkaSink) WriteBatch(ctx context.Context, events []*Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		metrics.AuditSinkErrors.WithLabelValues(s.Name(), "closed").Inc()
		return errKafkaSinkClosed
	}

	messages := make([]kafka.Message, 0, len(events))
	for _, event := range events {
		msg, err := eventMessage(event)
		if err != nil {
			metrics.AuditSinkErrors.WithLabelValues(s.Name(), "serialization").Inc()
			s.logger.Warn("Skipping audit event", zap.Error(err))
			continue
		}
		messages = append(messages, msg)
	}
	if len(messages) == 0 {
		return nil
	}

	start := time.Now()
	err := s.writer.WriteMessages(ctx, messages...)
	metrics.AuditSinkLatency.WithLabelValues(s.Name()).Observe(time.Since(start).Seconds())
	if err == nil {
		return nil
	}

	kind := classifyKafkaError(err)
	metrics.AuditSinkErrors.WithLabelValues(s.Name(), kind).Inc()
	s.logger.Warn("Failed to publish audit events",
		zap.String("error_type", kind),
		zap.Int("batch_size", len(messages)),
		zap.Error(err))
	return fmt.Errorf("failed to write to Kafka (%s): %w", kind, err)
}

// Close flushes pending messages. Later writes fail.
func (s *KafkaSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.writer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka writer: %w", err)
	}
	return nil
}

func (s *KafkaSink) Name() string {
	return "kafka"
}
