package audit

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/telekom/signature-relay/pkg/config"
	"github.com/telekom/signature-relay/pkg/metrics"
)

func TestSeverityForEventType(t *testing.T) {
	tests := []struct {
		eventType EventType
		want      Severity
	}{
		{EventSubmissionAccepted, SeverityInfo},
		{EventSubmissionRejected, SeverityInfo},
		{EventSubmissionMalformed, SeverityInfo},
		{EventSubmissionFailed, SeverityCritical},
		{EventTokenRejected, SeverityWarning},
		{EventOriginBlocked, SeverityWarning},
		{EventRateLimited, SeverityWarning},
		{EventType("unknown"), SeverityInfo},
	}
	for _, tt := range tests {
		t.Run(string(tt.eventType), func(t *testing.T) {
			assert.Equal(t, tt.want, SeverityForEventType(tt.eventType))
		})
	}
}

func TestEventJSONOmitsEmptySubmission(t *testing.T) {
	data, err := json.Marshal(&Event{ID: "e1", Type: EventOriginBlocked, Client: Client{Origin: "https://evil.example"}})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "submission")
	assert.Contains(t, string(data), `"origin":"https://evil.example"`)
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))

	err := sink.Write(context.Background(), &Event{
		ID:         "e1",
		Type:       EventSubmissionRejected,
		Severity:   SeverityInfo,
		Client:     Client{IP: "203.0.113.7", Origin: "https://firmas.example.com"},
		RequestID:  "req-1",
		Submission: &Submission{Reason: "not_png"},
		Details:    map[string]interface{}{"status": 400},
	})
	require.NoError(t, err)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "audit_event", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, "submission.rejected", fields["event_type"])
	assert.Equal(t, "203.0.113.7", fields["client_ip"])
	assert.Equal(t, "not_png", fields["reason"])
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, `{"status":400}`, fields["details"])
	assert.NotContains(t, fields, "submission_id")

	assert.Equal(t, "log", sink.Name())
	assert.NoError(t, sink.Close())
}

func TestWebhookSink(t *testing.T) {
	var got Event
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink, err := NewWebhookSink(config.AuditWebhook{
		URL:     srv.URL,
		Headers: map[string]string{"Authorization": "Bearer t"},
	}, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, sink.Write(context.Background(), &Event{ID: "e1", Type: EventTokenRejected}))
	assert.Equal(t, "e1", got.ID)
	assert.Equal(t, EventTokenRejected, got.Type)
	assert.Equal(t, "Bearer t", auth)

	written, failed := sink.Stats()
	assert.Equal(t, int64(1), written)
	assert.Zero(t, failed)
}

func TestWebhookSinkErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sink, err := NewWebhookSink(config.AuditWebhook{URL: srv.URL, Timeout: "1s"}, zap.NewNop())
	require.NoError(t, err)
	err = sink.Write(context.Background(), &Event{ID: "e1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")

	_, failed := sink.Stats()
	assert.Equal(t, int64(1), failed)

	_, err = NewWebhookSink(config.AuditWebhook{}, zap.NewNop())
	assert.Error(t, err)
}

func TestMultiSink(t *testing.T) {
	ok := &memorySink{}
	broken := &memorySink{err: errSinkDown}
	multi := NewMultiSink([]Sink{broken, ok}, zap.NewNop())

	err := multi.Write(context.Background(), &Event{ID: "e1"})
	require.ErrorIs(t, err, errSinkDown)
	assert.Len(t, ok.Events(), 1, "a failing sink must not stop the others")

	require.NoError(t, multi.Close())
	assert.True(t, ok.closed)
	assert.True(t, broken.closed)
	assert.Equal(t, "multi", multi.Name())
}

func TestManagerEmit(t *testing.T) {
	sink := &memorySink{}
	m := NewManager(sink, ManagerConfig{QueueSize: 10, Workers: 1}, zap.NewNop())
	fixed := time.Date(2026, 10, 19, 15, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	m.Emit(context.Background(), &Event{Type: EventSubmissionFailed})
	m.Emit(context.Background(), &Event{ID: "keep", Type: EventRateLimited, Severity: SeverityCritical})
	require.NoError(t, m.Close())

	events := sink.Events()
	require.Len(t, events, 2)
	assert.NotEmpty(t, events[0].ID)
	assert.Equal(t, fixed, events[0].Timestamp)
	assert.Equal(t, SeverityCritical, events[0].Severity)
	assert.Equal(t, "keep", events[1].ID)
	assert.Equal(t, SeverityCritical, events[1].Severity, "explicit severity wins")
	assert.True(t, sink.closed)

	stats := m.Stats()
	assert.Equal(t, int64(2), stats.Processed)
	assert.Zero(t, stats.Dropped)
}

func TestManagerEmitAfterClose(t *testing.T) {
	sink := &memorySink{}
	m := NewManager(sink, ManagerConfig{}, zap.NewNop())
	require.NoError(t, m.Close())
	require.NoError(t, m.Close(), "second close is a no-op")

	before := testutil.ToFloat64(metrics.AuditEventsDropped)
	m.Emit(context.Background(), &Event{Type: EventSubmissionAccepted})
	assert.Empty(t, sink.Events())
	assert.Equal(t, int64(1), m.Stats().Dropped)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.AuditEventsDropped))
}

// blockingSink holds every write until release is closed.
type blockingSink struct {
	memorySink
	started chan struct{}
	release chan struct{}
}

func (s *blockingSink) Write(ctx context.Context, event *Event) error {
	s.started <- struct{}{}
	<-s.release
	return s.memorySink.Write(ctx, event)
}

func TestManagerDropsWhenQueueFull(t *testing.T) {
	sink := &blockingSink{started: make(chan struct{}, 4), release: make(chan struct{})}
	m := NewManager(sink, ManagerConfig{QueueSize: 1, Workers: 1}, zap.NewNop())

	m.Emit(context.Background(), &Event{ID: "in-flight"})
	<-sink.started
	m.Emit(context.Background(), &Event{ID: "queued"})
	m.Emit(context.Background(), &Event{ID: "dropped"})

	assert.Equal(t, int64(1), m.Stats().Dropped)
	close(sink.release)
	require.NoError(t, m.Close())

	var ids []string
	for _, e := range sink.Events() {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"in-flight", "queued"}, ids)
}

func TestManagerCountsFailures(t *testing.T) {
	m := NewManager(&memorySink{err: errSinkDown}, ManagerConfig{Workers: 1}, zap.NewNop())
	m.Emit(context.Background(), &Event{Type: EventSubmissionAccepted})
	require.NoError(t, m.Close())
	assert.Equal(t, int64(1), m.Stats().Failed)
}

func TestNewFromConfig(t *testing.T) {
	t.Run("no sink", func(t *testing.T) {
		_, err := NewFromConfig(config.Audit{Enabled: true}, zap.NewNop())
		assert.Error(t, err)
	})

	t.Run("log only", func(t *testing.T) {
		m, err := NewFromConfig(config.Audit{Enabled: true, Log: true}, zap.NewNop())
		require.NoError(t, err)
		assert.Equal(t, "log", m.sink.Name())
		require.NoError(t, m.Close())
	})

	t.Run("all sinks", func(t *testing.T) {
		m, err := NewFromConfig(config.Audit{
			Enabled: true,
			Log:     true,
			Webhook: config.AuditWebhook{URL: "http://127.0.0.1:1/events"},
			Kafka: config.AuditKafka{
				Brokers: []string{"127.0.0.1:9092"},
				Topic:   "audit",
				SASL:    config.KafkaSASL{Mechanism: "PLAIN", Username: "u", Password: "p"},
			},
		}, zap.NewNop())
		require.NoError(t, err)
		multi, ok := m.sink.(*MultiSink)
		require.True(t, ok)
		require.Len(t, multi.sinks, 3)
		assert.Equal(t, "webhook", multi.sinks[1].Name())
		assert.IsType(t, &CircuitBreakerSink{}, multi.sinks[2])
		require.NoError(t, m.Close())
	})

	t.Run("bad kafka compression", func(t *testing.T) {
		_, err := NewFromConfig(config.Audit{
			Enabled: true,
			Kafka:   config.AuditKafka{Brokers: []string{"127.0.0.1:9092"}, Topic: "audit", Compression: "brotli"},
		}, zap.NewNop())
		assert.Error(t, err)
	})
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() { Discard.Emit(context.Background(), &Event{}) })
}
