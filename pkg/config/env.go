package config

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
)

// Environment variables overlaying the file configuration.
const (
	EnvPort              = "PORT"
	EnvAllowedOrigins    = "ALLOWED_ORIGINS"
	EnvJSONLimit         = "JSON_LIMIT"
	EnvRateLimitMax      = "RATE_LIMIT_MAX"
	EnvSlowDownAfter     = "SLOWDOWN_AFTER"
	EnvSlowDownDelayMs   = "SLOWDOWN_DELAY_MS"
	EnvSignatureToken    = "SIGNATURE_TOKEN"
	EnvSignatureMinBytes = "SIGNATURE_MIN_BYTES"
	EnvSignatureMaxBytes = "SIGNATURE_MAX_BYTES"
	EnvEmailUser         = "EMAIL_USER"
	EnvEmailPass         = "EMAIL_PASS"
	EnvEmailTo           = "EMAIL_TO"
	EnvRedisURL          = "REDIS_URL"
)

// ApplyEnv overrides configuration fields with the environment variables
// that are set. getenv is usually os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv(EnvPort); v != "" {
		if _, err := strconv.Atoi(v); err != nil {
			return errors.Wrapf(err, "invalid %s", EnvPort)
		}
		c.Server.ListenAddress = ":" + v
	}
	if v := getenv(EnvAllowedOrigins); v != "" {
		c.CORS.AllowedOrigins = SplitList(v)
	}
	if v := getenv(EnvJSONLimit); v != "" {
		c.Server.JSONLimit = v
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{EnvRateLimitMax, &c.RateLimit.Max},
		{EnvSignatureMinBytes, &c.Signature.MinBytes},
		{EnvSignatureMaxBytes, &c.Signature.MaxBytes},
	}
	for _, e := range ints {
		v := getenv(e.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "invalid %s", e.name)
		}
		*e.dst = n
	}

	if v := getenv(EnvSlowDownAfter); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "invalid %s", EnvSlowDownAfter)
		}
		c.SlowDown.DelayAfter = &n
	}

	if v := getenv(EnvSlowDownDelayMs); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "invalid %s", EnvSlowDownDelayMs)
		}
		c.SlowDown.Delay = fmt.Sprintf("%dms", ms)
	}

	if v := getenv(EnvSignatureToken); v != "" {
		c.Security.SignatureToken = v
	}
	if v := getenv(EnvEmailUser); v != "" {
		c.Mail.User = v
	}
	if v := getenv(EnvEmailPass); v != "" {
		c.Mail.Password = v
	}
	if v := getenv(EnvEmailTo); v != "" {
		c.Mail.To = SplitList(v)
	}
	if v := getenv(EnvRedisURL); v != "" {
		c.Redis.URL = v
	}
	return nil
}
