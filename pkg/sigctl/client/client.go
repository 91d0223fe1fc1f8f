package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/telekom/signature-relay/pkg/apiresponses"
	"github.com/telekom/signature-relay/pkg/version"
)

// TokenHeader carries the relay's shared secret.
const TokenHeader = "X-Signature-Token"

const defaultTimeout = 30 * time.Second

// Client talks to one relay instance.
type Client struct {
	base      *url.URL
	token     string
	userAgent string
	timeout   time.Duration
	caFile    string
	insecure  bool

	http *http.Client
}

type Option func(*Client) error

// New applies opts and builds the HTTP client. WithServer is mandatory.
func New(opts ...Option) (*Client, error) {
	c := &Client{userAgent: version.UserAgent(), timeout: defaultTimeout}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.base == nil {
		return nil, errors.New("server is required")
	}

	c.http = &http.Client{Timeout: c.timeout}
	if c.caFile != "" || c.insecure {
		tlsConfig, err := newTLSConfig(c.caFile, c.insecure)
		if err != nil {
			return nil, err
		}
		c.http.Transport = &http.Transport{TLSClientConfig: tlsConfig}
	}
	return c, nil
}

func WithServer(server string) Option {
	return func(c *Client) error {
		u, err := url.Parse(server)
		switch {
		case server == "":
			return errors.New("server is required")
		case err != nil:
			return fmt.Errorf("invalid server: %w", err)
		case u.Scheme != "http" && u.Scheme != "https":
			return fmt.Errorf("invalid server %q: scheme must be http or https", server)
		}
		c.base = u
		return nil
	}
}

func WithToken(token string) Option {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

func WithUserAgent(userAgent string) Option {
	return func(c *Client) error {
		c.userAgent = userAgent
		return nil
	}
}

// WithTimeout bounds every request, including the relay's slow-down delay.
// Non-positive values keep the 30 second default.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		if timeout > 0 {
			c.timeout = timeout
		}
		return nil
	}
}

// WithCAFile replaces the system roots with the PEM bundle at path.
func WithCAFile(path string) Option {
	return func(c *Client) error {
		c.caFile = path
		return nil
	}
}

func WithInsecureSkipVerify(insecure bool) Option {
	return func(c *Client) error {
		c.insecure = insecure
		return nil
	}
}

func newTLSConfig(caFile string, insecure bool) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: insecure} // #nosec G402 -- opt-in flag
	if caFile == "" {
		return cfg, nil
	}
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}
	cfg.RootCAs = x509.NewCertPool()
	if !cfg.RootCAs.AppendCertsFromPEM(pem) {
		return nil, errors.New("failed to parse CA file")
	}
	return cfg, nil
}

// SendSignature posts a submission. body is sent as JSON; a json.RawMessage
// is sent unchanged.
func (c *Client) SendSignature(ctx context.Context, body any) (*apiresponses.Response, error) {
	resp := &apiresponses.Response{}
	if err := c.call(ctx, http.MethodPost, "/send-signature", body, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Health checks that the relay is up.
func (c *Client) Health(ctx context.Context) error {
	var health struct {
		OK bool `json:"ok"`
	}
	if err := c.call(ctx, http.MethodGet, "/health", nil, &health); err != nil {
		return err
	}
	if !health.OK {
		return errors.New("relay reported unhealthy")
	}
	return nil
}

// Version returns the build info of the relay.
func (c *Client) Version(ctx context.Context) (*version.BuildInfo, error) {
	info := &version.BuildInfo{}
	if err := c.call(ctx, http.MethodGet, "/version", nil, info); err != nil {
		return nil, err
	}
	return info, nil
}

func (c *Client) call(ctx context.Context, method, endpoint string, body, out any) error {
	req, err := c.newRequest(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return newHTTPError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body any) (*http.Request, error) {
	target := *c.base
	target.Path = path.Join("/", target.Path, endpoint)

	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.token != "" {
		req.Header.Set(TokenHeader, c.token)
	}
	return req, nil
}

// HTTPError is returned for any answer with status 400 or above.
type HTTPError struct {
	StatusCode int
	Message    string
	Code       string
	// RetryAfter is the raw Retry-After header, in seconds.
	RetryAfter string
}

func newHTTPError(resp *http.Response) *HTTPError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var body apiresponses.Response
	_ = json.Unmarshal(raw, &body)

	e := &HTTPError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(body.Message),
		Code:       body.Code,
		RetryAfter: resp.Header.Get("Retry-After"),
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(raw))
	}
	if e.Message == "" {
		e.Message = resp.Status
	}
	return e
}

func (e *HTTPError) Error() string {
	if e.RetryAfter != "" {
		return fmt.Sprintf("request failed (%d): %s (retry after %ss)", e.StatusCode, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("request failed (%d): %s", e.StatusCode, e.Message)
}

// RateLimited reports whether the relay throttled the request.
func (e *HTTPError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// RetryAfterDuration parses RetryAfter. It is zero when the header was
// missing or not a number of seconds.
func (e *HTTPError) RetryAfterDuration() time.Duration {
	secs, err := strconv.Atoi(e.RetryAfter)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
