package cli

import (
	"crypto/tls"
	"flag"
	"os"
	"strings"

	"go.uber.org/zap"
)

// EnvPrefix is prepended to the upper-cased flag name to form the
// environment variable that supplies the flag's default.
const EnvPrefix = "SIGNATURE_RELAY_"

// Config holds the process flags of the relay server.
type Config struct {
	Debug         bool
	ConfigPath    string
	ListenAddress string
	DisableEmail  bool
	EnableMetrics bool
	EnableHTTP2   bool
}

// Parse parses the process arguments.
func Parse() *Config {
	return parse(flag.CommandLine, os.Args[1:])
}

func parse(fs *flag.FlagSet, args []string) *Config {
	c := &Config{}
	boolFlag(fs, &c.Debug, "debug", "Enable debug level logging")
	stringFlag(fs, &c.ConfigPath, "config-path",
		"Path to the relay configuration file. Defaults to ./config.yaml when it exists")
	stringFlag(fs, &c.ListenAddress, "listen-address",
		"Address the HTTP server binds to (host:port). Overrides server.listenAddress and PORT")
	boolFlag(fs, &c.DisableEmail, "disable-email", "Log signature mails instead of sending them")
	boolFlag(fs, &c.EnableMetrics, "enable-metrics",
		"Serve Prometheus metrics on /metrics. Also enabled by server.metricsEnabled")
	boolFlag(fs, &c.EnableHTTP2, "enable-http2", "Allow HTTP/2 on the TLS listener")

	// flag.CommandLine exits on bad flags; test flag sets use ContinueOnError.
	_ = fs.Parse(args)
	return c
}

// EnvName returns the environment variable backing a flag,
// e.g. config-path becomes SIGNATURE_RELAY_CONFIG_PATH.
func EnvName(flagName string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

func stringFlag(fs *flag.FlagSet, dst *string, name, usage string) {
	def := ""
	if v, ok := os.LookupEnv(EnvName(name)); ok {
		def = v
	}
	fs.StringVar(dst, name, def, usage+" ["+EnvName(name)+"]")
}

func boolFlag(fs *flag.FlagSet, dst *bool, name, usage string) {
	def := false
	if v, ok := os.LookupEnv(EnvName(name)); ok {
		def = parseBool(v, def)
	}
	fs.BoolVar(dst, name, def, usage+" ["+EnvName(name)+"]")
}

// parseBool accepts true/1/yes and false/0/no in any case. Anything else
// yields def.
func parseBool(v string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return def
	}
}

func (c *Config) Print(log *zap.SugaredLogger) {
	log.Infow("CLI Configuration",
		"debug", c.Debug,
		"config_path", c.ConfigPath,
		"listen_address", c.ListenAddress,
		"disable_email", c.DisableEmail,
		"enable_metrics", c.EnableMetrics,
		"enable_http2", c.EnableHTTP2,
	)
}

// DisableHTTP2 restricts ALPN to HTTP/1.1 (CVE-2023-44487 rapid reset).
func DisableHTTP2(c *tls.Config) {
	c.NextProtos = []string{"http/1.1"}
}
