package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

const (
	DefaultListenAddress  = ":3000"
	DefaultJSONLimit      = "700kb"
	DefaultTimeZone       = "America/Bogota"
	DefaultSMTPHost       = "smtp.gmail.com"
	DefaultSMTPPort       = 465
	DefaultRedisKeyPrefix = "signature-relay:"
)

type Server struct {
	ListenAddress string `yaml:"listenAddress" validate:"required"`
	// TLSCertFile and TLSKeyFile switch the listener to HTTPS.
	TLSCertFile string `yaml:"tlsCertFile" validate:"required_with=TLSKeyFile"`
	TLSKeyFile  string `yaml:"tlsKeyFile" validate:"required_with=TLSCertFile"`
	// TrustedProxies lists IPs/CIDRs whose X-Forwarded-For header is believed
	// when determining the client IP. Empty means the socket peer is the client.
	TrustedProxies []string `yaml:"trustedProxies" validate:"dive,cidr|ip"`
	// JSONLimit caps the request body, in humanized bytes ("700kb", "1MiB").
	JSONLimit       string          `yaml:"jsonLimit"`
	MetricsEnabled  bool            `yaml:"metricsEnabled"`
	ShutdownTimeout string          `yaml:"shutdownTimeout"`
	Timeouts        *ServerTimeouts `yaml:"timeouts"`
}

// JSONLimitBytes parses JSONLimit. The short units kb, mb and gb are
// binary multiples, so "700kb" is 716800 bytes.
func (s Server) JSONLimitBytes() (int64, error) {
	n, err := humanize.ParseBytes(binaryUnits(s.JSONLimit))
	if err != nil {
		return 0, errors.Wrapf(err, "invalid server.jsonLimit %q", s.JSONLimit)
	}
	if n == 0 {
		return 0, fmt.Errorf("server.jsonLimit must be greater than zero")
	}
	return int64(n), nil
}

// binaryUnits rewrites a trailing kb, mb or gb suffix to the IEC unit
// humanize reads as a power of 1024.
func binaryUnits(limit string) string {
	v := strings.TrimSpace(limit)
	lower := strings.ToLower(v)
	for _, unit := range []struct{ short, iec string }{{"kb", "KiB"}, {"mb", "MiB"}, {"gb", "GiB"}} {
		if strings.HasSuffix(lower, unit.short) {
			return v[:len(v)-len(unit.short)] + unit.iec
		}
	}
	return v
}

type CORS struct {
	// AllowedOrigins is the exact list of browser origins allowed to call
	// the relay. Requests carrying any other Origin are rejected.
	AllowedOrigins []string `yaml:"allowedOrigins" validate:"dive,required"`
}

type Security struct {
	// SignatureToken, when set, must be sent in the X-Signature-Token header.
	SignatureToken string `yaml:"signatureToken"`
}

type RateLimit struct {
	// Window and Max bound submissions per client IP.
	Window  string `yaml:"window"`
	Max     int    `yaml:"max" validate:"gte=1"`
	Message string `yaml:"message"`
	// GlobalRate and GlobalBurst configure the token bucket in front of every route.
	GlobalRate  float64 `yaml:"globalRate" validate:"gt=0"`
	GlobalBurst int     `yaml:"globalBurst" validate:"gte=1"`
}

func (r RateLimit) GetWindow() time.Duration {
	return parseDurationOrDefault(r.Window, 15*time.Minute)
}

type SlowDown struct {
	Window string `yaml:"window"`
	// DelayAfter is nil when unset; an explicit 0 delays from the first hit.
	DelayAfter *int `yaml:"delayAfter" validate:"omitempty,gte=0"`
	// Delay accepts "0ms" to disable the delay.
	Delay       string `yaml:"delay"`
	Incremental bool   `yaml:"incremental"`
	MaxDelay    string `yaml:"maxDelay"`
}

func (s SlowDown) GetWindow() time.Duration {
	return parseDurationOrDefault(s.Window, 15*time.Minute)
}

// GetDelayAfter returns 5 when DelayAfter is unset.
func (s SlowDown) GetDelayAfter() int {
	if s.DelayAfter == nil {
		return 5
	}
	return *s.DelayAfter
}

func (s SlowDown) GetDelay() time.Duration {
	if s.Delay == "" {
		return 800 * time.Millisecond
	}
	d, err := time.ParseDuration(s.Delay)
	if err != nil || d < 0 {
		return 800 * time.Millisecond
	}
	return d
}

// GetMaxDelay returns zero (no cap) when unset.
func (s SlowDown) GetMaxDelay() time.Duration {
	return parseDurationOrDefault(s.MaxDelay, 0)
}

type Signature struct {
	MinBytes int `yaml:"minBytes" validate:"gte=1"`
	MaxBytes int `yaml:"maxBytes" validate:"gtefield=MinBytes"`
	// SkipImageVerification accepts any payload that decodes as base64
	// instead of requiring a PNG header.
	SkipImageVerification bool `yaml:"skipImageVerification"`
	// TimeZone is used to render the submission time in the mail.
	TimeZone string `yaml:"timeZone"`
}

type SES struct {
	Region           string `yaml:"region"`
	AccessKeyID      string `yaml:"accessKeyID"`
	SecretAccessKey  string `yaml:"secretAccessKey"`
	ConfigurationSet string `yaml:"configurationSet"`
}

type Mail struct {
	// Transport is one of smtp, ses or log.
	Transport          string `yaml:"transport" validate:"oneof=smtp ses log"`
	Host               string `yaml:"host" validate:"required_if=Transport smtp"`
	Port               int    `yaml:"port" validate:"gte=0,lte=65535"`
	User               string `yaml:"user"`
	Password           string `yaml:"password"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
	// SenderAddress defaults to User.
	SenderAddress string   `yaml:"senderAddress" validate:"omitempty,email"`
	To            []string `yaml:"to" validate:"required,min=1,dive,email"`
	// RetryCount is the number of SMTP retries. Zero means the default,
	// negative disables retries.
	RetryCount   int    `yaml:"retryCount"`
	RetryBackoff string `yaml:"retryBackoff"`
	// Async queues mail in the background and answers before delivery.
	Async          bool `yaml:"async"`
	QueueSize      int  `yaml:"queueSize" validate:"gte=0"`
	QueueRetries   int  `yaml:"queueRetries" validate:"gte=0"`
	QueueBackoffMs int  `yaml:"queueBackoffMs" validate:"gte=0"`
	SES            SES  `yaml:"ses"`
}

func (m Mail) GetRetryBackoff() time.Duration {
	return parseDurationOrDefault(m.RetryBackoff, 500*time.Millisecond)
}

type Redis struct {
	// URL enables the shared rate limit store, e.g. redis://redis:6379/0.
	URL    string `yaml:"url" validate:"omitempty,url"`
	Prefix string `yaml:"prefix"`
}

type Telemetry struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter" validate:"omitempty,oneof=otlp stdout none"`
	Endpoint     string  `yaml:"endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SamplingRate float64 `yaml:"samplingRate" validate:"gte=0,lte=1"`
	// Headers are added to every OTLP export request.
	Headers map[string]string `yaml:"headers"`
}

type KafkaTLS struct {
	Enabled            bool   `yaml:"enabled"`
	CAFile             string `yaml:"caFile"`
	CertFile           string `yaml:"certFile" validate:"required_with=KeyFile"`
	KeyFile            string `yaml:"keyFile" validate:"required_with=CertFile"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
}

type KafkaSASL struct {
	Mechanism string `yaml:"mechanism" validate:"omitempty,oneof=PLAIN SCRAM-SHA-256 SCRAM-SHA-512"`
	Username  string `yaml:"username" validate:"required_with=Mechanism"`
	Password  string `yaml:"password"`
}

type AuditKafka struct {
	Brokers     []string  `yaml:"brokers" validate:"dive,hostname_port"`
	Topic       string    `yaml:"topic" validate:"required_with=Brokers"`
	Compression string    `yaml:"compression" validate:"omitempty,oneof=none gzip snappy lz4 zstd"`
	TLS         KafkaTLS  `yaml:"tls"`
	SASL        KafkaSASL `yaml:"sasl"`
}

type AuditWebhook struct {
	URL     string            `yaml:"url" validate:"omitempty,url"`
	Headers map[string]string `yaml:"headers"`
	Timeout string            `yaml:"timeout"`
}

func (w AuditWebhook) GetTimeout() time.Duration {
	return parseDurationOrDefault(w.Timeout, 5*time.Second)
}

// Audit configures the security event trail. Events carry request metadata
// only, never the signer's name or the signature image.
type Audit struct {
	Enabled bool `yaml:"enabled"`
	// Log writes every event to the relay log.
	Log       bool         `yaml:"log"`
	Webhook   AuditWebhook `yaml:"webhook"`
	Kafka     AuditKafka   `yaml:"kafka"`
	QueueSize int          `yaml:"queueSize" validate:"gte=0"`
	Workers   int          `yaml:"workers" validate:"gte=0"`
}

type Config struct {
	Server    Server    `yaml:"server"`
	CORS      CORS      `yaml:"cors"`
	Security  Security  `yaml:"security"`
	RateLimit RateLimit `yaml:"rateLimit"`
	SlowDown  SlowDown  `yaml:"slowDown"`
	Signature Signature `yaml:"signature"`
	Mail      Mail      `yaml:"mail"`
	Redis     Redis     `yaml:"redis"`
	Telemetry Telemetry `yaml:"telemetry"`
	Audit     Audit     `yaml:"audit"`
}

// Load reads the relay configuration from a file path, applies the
// environment overlay and defaults, and validates the result.
// If configPath is empty, defaults to "./config.yaml". A missing default
// file is not an error, so the relay can run from environment variables only.
func Load(configPath ...string) (Config, error) {
	path := ""
	if len(configPath) > 0 {
		path = configPath[0]
	}
	return LoadWithOverrides(path)
}

// LoadWithOverrides is Load with command line overrides applied on top of
// the environment overlay, before defaults and validation.
func LoadWithOverrides(configPath string, overrides ...func(*Config)) (Config, error) {
	path := "./config.yaml"
	explicit := configPath != ""
	if explicit {
		path = configPath
	}

	var config Config

	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(content, &config); err != nil {
			return config, errors.Wrapf(err, "error unmarshaling YAML %s", path)
		}
	case os.IsNotExist(err) && !explicit:
	default:
		return config, errors.Wrapf(err, "trying to open relay config file %s", path)
	}

	if err := config.ApplyEnv(os.Getenv); err != nil {
		return config, err
	}
	for _, override := range overrides {
		override(&config)
	}
	config.Defaults()
	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

// Defaults fills every unset field with its default.
func (c *Config) Defaults() {
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = DefaultListenAddress
	}
	if c.Server.JSONLimit == "" {
		c.Server.JSONLimit = DefaultJSONLimit
	}

	if c.RateLimit.Max <= 0 {
		c.RateLimit.Max = 10
	}
	if c.RateLimit.GlobalRate <= 0 {
		c.RateLimit.GlobalRate = 5
	}
	if c.RateLimit.GlobalBurst <= 0 {
		c.RateLimit.GlobalBurst = 20
	}

	if c.SlowDown.DelayAfter == nil {
		delayAfter := c.SlowDown.GetDelayAfter()
		c.SlowDown.DelayAfter = &delayAfter
	}

	if c.Signature.MinBytes <= 0 {
		c.Signature.MinBytes = 2500
	}
	if c.Signature.MaxBytes <= 0 {
		c.Signature.MaxBytes = 250000
	}
	if c.Signature.TimeZone == "" {
		c.Signature.TimeZone = DefaultTimeZone
	}

	if c.Mail.Transport == "" {
		c.Mail.Transport = "smtp"
	}
	if c.Mail.Transport == "smtp" {
		if c.Mail.Host == "" {
			c.Mail.Host = DefaultSMTPHost
		}
		if c.Mail.Port == 0 {
			c.Mail.Port = DefaultSMTPPort
		}
	}
	if c.Mail.SenderAddress == "" {
		c.Mail.SenderAddress = c.Mail.User
	}
	if c.Mail.RetryCount == 0 {
		c.Mail.RetryCount = 2
	}

	if c.Redis.Prefix == "" {
		c.Redis.Prefix = DefaultRedisKeyPrefix
	}

	if c.Audit.QueueSize == 0 {
		c.Audit.QueueSize = 10000
	}
	if c.Audit.Workers == 0 {
		c.Audit.Workers = 2
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the rules spanning several fields.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	if _, err := c.Server.JSONLimitBytes(); err != nil {
		return err
	}
	if c.Mail.Transport != "log" && c.Mail.SenderAddress == "" {
		return errors.New("invalid configuration: mail.senderAddress (or mail.user / EMAIL_USER) is required")
	}
	if c.Audit.Enabled && !c.Audit.Log && c.Audit.Webhook.URL == "" && len(c.Audit.Kafka.Brokers) == 0 {
		return errors.New("invalid configuration: audit is enabled but no sink (log, webhook or kafka) is configured")
	}
	if _, err := time.LoadLocation(c.Signature.TimeZone); err != nil {
		return errors.Wrapf(err, "invalid signature.timeZone %q", c.Signature.TimeZone)
	}
	return nil
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
