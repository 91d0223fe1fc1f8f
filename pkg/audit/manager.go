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
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/telekom/signature-relay/pkg/config"
	"github.com/telekom/signature-relay/pkg/metrics"
)

// Recorder accepts audit events. Emit must not block the request path.
type Recorder interface {
	Emit(ctx context.Context, event *Event)
}

// Discard is a Recorder that drops every event.
var Discard Recorder = discard{}

type discard struct{}

func (discard) Emit(context.Context, *Event) {}

// Manager queues audit events and writes them to a sink from a fixed pool
// of workers.
type Manager struct {
	sink         Sink
	queue        chan *Event
	logger       *zap.Logger
	writeTimeout time.Duration
	now          func() time.Time

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	processed atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

// ManagerConfig configures the audit Manager.
type ManagerConfig struct {
	// QueueSize defaults to 10000.
	QueueSize int
	// Workers defaults to 2.
	Workers int
	// WriteTimeout bounds a single sink write. Default: 5s
	WriteTimeout time.Duration
}

// NewManager creates a Manager and starts its workers.
func NewManager(sink Sink, cfg ManagerConfig, logger *zap.Logger) *Manager {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 10000
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	m := &Manager{
		sink:         sink,
		queue:        make(chan *Event, cfg.QueueSize),
		logger:       logger.Named("audit-manager"),
		writeTimeout: cfg.WriteTimeout,
		now:          time.Now,
	}
	for i := 0; i < cfg.Workers; i++ {
		m.wg.Add(1)
		go m.worker(i)
	}

	m.logger.Info("audit manager started",
		zap.String("sink", sink.Name()),
		zap.Int("queue_size", cfg.QueueSize),
		zap.Int("workers", cfg.Workers))
	return m
}

// NewFromConfig builds the configured sinks and returns a running Manager.
// Remote sinks are wrapped in a circuit breaker.
func NewFromConfig(cfg config.Audit, logger *zap.Logger) (*Manager, error) {
	var sinks []Sink
	if cfg.Log {
		sinks = append(sinks, NewLogSink(logger))
	}
	if cfg.Webhook.URL != "" {
		webhook, err := NewWebhookSink(cfg.Webhook, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, NewCircuitBreakerSink(webhook, DefaultCircuitBreakerConfig(), logger))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSink, err := NewKafkaSink(cfg.Kafka, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, NewCircuitBreakerSink(kafkaSink, DefaultCircuitBreakerConfig(), logger))
	}
	if len(sinks) == 0 {
		return nil, fmt.Errorf("no audit sink configured")
	}

	var sink Sink = sinks[0]
	if len(sinks) > 1 {
		sink = NewMultiSink(sinks, logger)
	}
	return NewManager(sink, ManagerConfig{QueueSize: cfg.QueueSize, Workers: cfg.Workers}, logger), nil
}

// Emit fills in ID, timestamp and severity, then queues the event. A full
// queue drops the event.
func (m *Manager) Emit(_ context.Context, event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = m.now().UTC()
	}
	if event.Severity == "" {
		event.Severity = SeverityForEventType(event.Type)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		m.dropped.Add(1)
		metrics.AuditEventsDropped.Inc()
		return
	}
	select {
	case m.queue <- event:
	default:
		m.dropped.Add(1)
		metrics.AuditEventsDropped.Inc()
		m.logger.Warn("audit queue full, dropping event",
			zap.String("event_type", string(event.Type)),
			zap.String("event_id", event.ID))
	}
}

func (m *Manager) worker(id int) {
	defer m.wg.Done()
	for event := range m.queue {
		ctx, cancel := context.WithTimeout(context.Background(), m.writeTimeout)
		if err := m.sink.Write(ctx, event); err != nil {
			m.failed.Add(1)
			m.logger.Warn("failed to write audit event",
				zap.Int("worker", id),
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)),
				zap.Error(err))
		} else {
			m.processed.Add(1)
			metrics.AuditEventsProcessed.Inc()
		}
		cancel()
	}
}

// Close stops accepting events, drains the queue and closes the sink.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("audit manager stopped",
		zap.Int64("processed", m.processed.Load()),
		zap.Int64("failed", m.failed.Load()),
		zap.Int64("dropped", m.dropped.Load()))
	return m.sink.Close()
}

// ManagerStats contains audit manager counters.
type ManagerStats struct {
	Processed   int64
	Failed      int64
	Dropped     int64
	QueueLength int
}

// Stats returns current audit manager statistics.
func (m *Manager) Stats() ManagerStats {
	return ManagerStats{
		Processed:   m.processed.Load(),
		Failed:      m.failed.Load(),
		Dropped:     m.dropped.Load(),
		QueueLength: len(m.queue),
	}
}
