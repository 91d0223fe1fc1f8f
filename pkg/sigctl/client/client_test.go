package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/signature-relay/pkg/version"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		opts    []Option
		wantErr bool
	}{
		{
			name:    "missing server",
			opts:    []Option{},
			wantErr: true,
		},
		{
			name:    "unsupported scheme",
			opts:    []Option{WithServer("ftp://relay.example.com")},
			wantErr: true,
		},
		{
			name: "valid config",
			opts: []Option{
				WithServer("https://relay.example.com"),
				WithToken("test-token"),
			},
		},
		{
			name: "with custom user agent",
			opts: []Option{
				WithServer("https://relay.example.com"),
				WithUserAgent("test-agent"),
			},
		},
		{
			name: "missing CA file",
			opts: []Option{
				WithServer("https://relay.example.com"),
				WithCAFile("/nonexistent/ca.pem"),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.opts...)
			if tt.wantErr {
				require.Error(t, err)
				require.Nil(t, client)
			} else {
				require.NoError(t, err)
				require.NotNil(t, client)
			}
		})
	}
}

func TestSendSignature(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/relay/send-signature", r.URL.Path)
		assert.Equal(t, "s3cret", r.Header.Get(TokenHeader))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, version.UserAgent(), r.Header.Get("User-Agent"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.JSONEq(t, `{"name":"Ana","idNumber":123,"signature":"data:image/png;base64,AAAA"}`, string(body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"message":"Firma enviada correctamente"}`))
	}))
	defer server.Close()

	c, err := New(WithServer(server.URL+"/relay"), WithToken("s3cret"))
	require.NoError(t, err)

	resp, err := c.SendSignature(context.Background(),
		json.RawMessage(`{"name":"Ana","idNumber":123,"signature":"data:image/png;base64,AAAA"}`))
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "Firma enviada correctamente", resp.Message)
}

func TestErrorDecoding(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		retryAfter string
		wantMsg    string
		wantErr    string
	}{
		{
			name:    "relay message",
			status:  http.StatusBadRequest,
			body:    `{"success":false,"message":"Nombre inválido","code":"invalid_name"}`,
			wantMsg: "Nombre inválido",
			wantErr: "request failed (400): Nombre inválido",
		},
		{
			name:       "rate limited",
			status:     http.StatusTooManyRequests,
			body:       `{"success":false,"message":"Demasiados intentos. Intenta más tarde."}`,
			retryAfter: "600",
			wantMsg:    "Demasiados intentos. Intenta más tarde.",
			wantErr:    "request failed (429): Demasiados intentos. Intenta más tarde. (retry after 600s)",
		},
		{
			name:    "plain text body",
			status:  http.StatusBadGateway,
			body:    "upstream down",
			wantMsg: "upstream down",
		},
		{
			name:    "empty body",
			status:  http.StatusServiceUnavailable,
			wantMsg: "503 Service Unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c, err := New(WithServer(server.URL))
			require.NoError(t, err)

			_, err = c.SendSignature(context.Background(), map[string]string{"name": "x"})
			require.Error(t, err)

			var httpErr *HTTPError
			require.True(t, errors.As(err, &httpErr))
			assert.Equal(t, tt.status, httpErr.StatusCode)
			assert.Equal(t, tt.wantMsg, httpErr.Message)
			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, err.Error())
			}
			assert.Equal(t, tt.status == http.StatusTooManyRequests, httpErr.RateLimited())
		})
	}
}

func TestHealthAndVersion(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Content-Type"), "GET requests carry no body")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("/version", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(version.BuildInfo{Version: "v1.4.0", GitCommit: "abc"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c, err := New(WithServer(server.URL))
	require.NoError(t, err)

	require.NoError(t, c.Health(context.Background()))

	info, err := c.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v1.4.0", info.Version)
}

func TestHealthUnhealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false}`))
	}))
	defer server.Close()

	c, err := New(WithServer(server.URL))
	require.NoError(t, err)
	assert.Error(t, c.Health(context.Background()))
}

func TestRetryAfterDuration(t *testing.T) {
	assert.Equal(t, 600*time.Second, (&HTTPError{RetryAfter: "600"}).RetryAfterDuration())
	assert.Zero(t, (&HTTPError{}).RetryAfterDuration())
	assert.Zero(t, (&HTTPError{RetryAfter: "Wed, 21 Oct 2026 07:28:00 GMT"}).RetryAfterDuration())
	assert.Zero(t, (&HTTPError{RetryAfter: "-5"}).RetryAfterDuration())
}

func TestInsecureSkipVerify(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	strict, err := New(WithServer(server.URL))
	require.NoError(t, err)
	assert.Error(t, strict.Health(context.Background()), "self-signed certificate is rejected")

	lax, err := New(WithServer(server.URL), WithInsecureSkipVerify(true), WithTimeout(5*time.Second))
	require.NoError(t, err)
	assert.NoError(t, lax.Health(context.Background()))
}

func TestCAFileRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o600))

	_, err := New(WithServer("https://relay.example.com"), WithCAFile(path))
	assert.EqualError(t, err, "failed to parse CA file")
}
