package cli

import (
	"crypto/tls"
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestEnvName(t *testing.T) {
	assert.Equal(t, "SIGNATURE_RELAY_CONFIG_PATH", EnvName("config-path"))
	assert.Equal(t, "SIGNATURE_RELAY_DEBUG", EnvName("debug"))
	assert.Equal(t, "SIGNATURE_RELAY_ENABLE_HTTP2", EnvName("enable-http2"))
}

func TestParseBool(t *testing.T) {
	assert.True(t, parseBool("sometimes", true), "invalid values fall back to the default")
	assert.False(t, parseBool("", false))

	for _, val := range []string{"true", "TRUE", "1", "yes", " Yes "} {
		assert.True(t, parseBool(val, false), "expected true for %q", val)
	}
	for _, val := range []string{"false", "FALSE", "0", "no", "No"} {
		assert.False(t, parseBool(val, true), "expected false for %q", val)
	}
}

func TestUsageNamesEnvironmentVariable(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	parse(fs, nil)

	f := fs.Lookup("listen-address")
	if assert.NotNil(t, f) {
		assert.Contains(t, f.Usage, "[SIGNATURE_RELAY_LISTEN_ADDRESS]")
	}
}

func TestParseDefaults(t *testing.T) {
	cfg := parse(flag.NewFlagSet("test", flag.ContinueOnError), nil)

	assert.False(t, cfg.Debug)
	assert.Empty(t, cfg.ConfigPath)
	assert.Empty(t, cfg.ListenAddress)
	assert.False(t, cfg.DisableEmail)
	assert.False(t, cfg.EnableMetrics)
	assert.False(t, cfg.EnableHTTP2)
}

func TestParseFlags(t *testing.T) {
	cfg := parse(flag.NewFlagSet("test", flag.ContinueOnError), []string{
		"--debug",
		"--config-path", "/etc/relay/config.yaml",
		"--listen-address", ":9000",
		"--disable-email",
		"--enable-metrics",
	})

	assert.True(t, cfg.Debug)
	assert.Equal(t, "/etc/relay/config.yaml", cfg.ConfigPath)
	assert.Equal(t, ":9000", cfg.ListenAddress)
	assert.True(t, cfg.DisableEmail)
	assert.True(t, cfg.EnableMetrics)
}

func TestParseEnvFallback(t *testing.T) {
	t.Setenv("SIGNATURE_RELAY_CONFIG_PATH", "/from/env.yaml")
	t.Setenv("SIGNATURE_RELAY_DISABLE_EMAIL", "yes")
	t.Setenv("SIGNATURE_RELAY_ENABLE_HTTP2", "1")

	cfg := parse(flag.NewFlagSet("test", flag.ContinueOnError), nil)
	assert.Equal(t, "/from/env.yaml", cfg.ConfigPath)
	assert.True(t, cfg.DisableEmail)
	assert.True(t, cfg.EnableHTTP2)

	cfg = parse(flag.NewFlagSet("test", flag.ContinueOnError), []string{"--config-path", "/from/flag.yaml"})
	assert.Equal(t, "/from/flag.yaml", cfg.ConfigPath, "flags win over the environment")
}

func TestPrint(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	(&Config{Debug: true, ListenAddress: ":3000"}).Print(zap.New(core).Sugar())

	entries := logs.FilterMessage("CLI Configuration").All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, ":3000", entries[0].ContextMap()["listen_address"])
	}
}

func TestDisableHTTP2(t *testing.T) {
	cfg := &tls.Config{NextProtos: []string{"h2", "http/1.1"}}
	DisableHTTP2(cfg)

	assert.Equal(t, []string{"http/1.1"}, cfg.NextProtos)
}
