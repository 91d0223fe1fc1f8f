package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/telekom/signature-relay/pkg/apiresponses"
	"github.com/telekom/signature-relay/pkg/audit"
	"github.com/telekom/signature-relay/pkg/config"
	"github.com/telekom/signature-relay/pkg/mail"
	"github.com/telekom/signature-relay/pkg/ratelimit"
)

const allowedOrigin = "https://firmas.example.com"

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeDeliverer struct {
	mu   sync.Mutex
	msgs []*mail.Message
	err  error
}

func (f *fakeDeliverer) Deliver(_ context.Context, msg *mail.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeDeliverer) Messages() []*mail.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*mail.Message(nil), f.msgs...)
}

func testConfig() config.Config {
	var cfg config.Config
	cfg.Mail.User = "relay@example.com"
	cfg.Mail.To = []string{"firmas@example.com"}
	cfg.CORS.AllowedOrigins = []string{allowedOrigin}
	cfg.SlowDown.Delay = "1ms"
	cfg.Defaults()
	return cfg
}

type testRelay struct {
	server     *Server
	controller *SignatureController
	deliverer  *fakeDeliverer
}

// recordingAudit keeps emitted audit events in memory.
type recordingAudit struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (r *recordingAudit) Emit(_ context.Context, event *audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingAudit) Types() []audit.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]audit.EventType, 0, len(r.events))
	for _, e := range r.events {
		types = append(types, e.Type)
	}
	return types
}

func (r *recordingAudit) Last() *audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return nil
	}
	return r.events[len(r.events)-1]
}

func newTestRelay(t *testing.T, cfg config.Config) *testRelay {
	t.Helper()
	return newAuditedTestRelay(t, cfg, nil)
}

func newAuditedTestRelay(t *testing.T, cfg config.Config, rec audit.Recorder) *testRelay {
	t.Helper()
	log := zaptest.NewLogger(t)

	server, err := NewServer(log, cfg, true, WithAuditRecorder(rec))
	require.NoError(t, err)
	t.Cleanup(server.Close)

	store := ratelimit.NewMemoryStore(time.Minute)
	t.Cleanup(store.Stop)

	deliverer := &fakeDeliverer{}
	controller, err := NewSignatureController(cfg, deliverer, store, log.Sugar())
	require.NoError(t, err)
	controller.SetAuditRecorder(rec)
	require.NoError(t, server.RegisterAll([]APIController{controller}))

	return &testRelay{server: server, controller: controller, deliverer: deliverer}
}

func (r *testRelay) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.server.Handler().ServeHTTP(w, req)
	return w
}

func jsonRequest(method, path string, body any) *http.Request {
	var raw string
	switch b := body.(type) {
	case string:
		raw = b
	default:
		encoded, err := json.Marshal(b)
		if err != nil {
			panic(err)
		}
		raw = string(encoded)
	}
	req := httptest.NewRequest(method, path, strings.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) apiresponses.Response {
	t.Helper()
	var resp apiresponses.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "body: %s", w.Body.String())
	return resp
}
