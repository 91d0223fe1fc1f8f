package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/telekom/signature-relay/pkg/sigctl/client"
	"github.com/telekom/signature-relay/pkg/sigctl/output"
)

// DefaultServer is the relay address used when neither --server nor
// SIGCTL_SERVER is set.
const DefaultServer = "http://localhost:3000"

type Config struct {
	OutputWriter io.Writer
	InputReader  io.Reader
}

type runtimeState struct {
	server                string
	token                 string
	outputFormat          string
	timeout               time.Duration
	caFile                string
	insecureSkipTLSVerify bool
	writer                io.Writer
	reader                io.Reader
}

type runtimeKey struct{}

func DefaultConfig() Config {
	return Config{
		OutputWriter: os.Stdout,
		InputReader:  os.Stdin,
	}
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{writer: cfg.OutputWriter, reader: cfg.InputReader}

	root := &cobra.Command{
		Use:           "sigctl",
		Short:         "Signature relay CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if rt.writer == nil {
				rt.writer = os.Stdout
			}
			if rt.reader == nil {
				rt.reader = os.Stdin
			}
			if rt.server == "" {
				rt.server = os.Getenv("SIGCTL_SERVER")
			}
			if rt.server == "" {
				rt.server = DefaultServer
			}
			if rt.token == "" {
				rt.token = os.Getenv("SIGCTL_TOKEN")
			}
			if rt.outputFormat == "" {
				rt.outputFormat = os.Getenv("SIGCTL_OUTPUT")
			}
			if !rt.insecureSkipTLSVerify {
				rt.insecureSkipTLSVerify = strings.EqualFold(os.Getenv("SIGCTL_INSECURE_SKIP_TLS_VERIFY"), "true")
			}
			_, err := output.ParseFormat(rt.outputFormat)
			return err
		},
	}

	root.PersistentFlags().StringVar(&rt.server, "server", "", "Relay base URL (default "+DefaultServer+")")
	root.PersistentFlags().StringVar(&rt.token, "token", "", "Shared secret sent as X-Signature-Token")
	root.PersistentFlags().StringVarP(&rt.outputFormat, "output", "o", "", "Output format: text, json, yaml")
	root.PersistentFlags().DurationVar(&rt.timeout, "timeout", 30*time.Second, "Request timeout")
	root.PersistentFlags().StringVar(&rt.caFile, "ca-file", "", "CA bundle used to verify the relay certificate")
	root.PersistentFlags().BoolVar(&rt.insecureSkipTLSVerify, "insecure-skip-tls-verify", false, "Skip relay certificate verification")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		NewValidateCommand(),
		NewSubmitCommand(),
		NewHealthCommand(),
		NewVersionCommand(),
	)

	return root
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}

func (rt *runtimeState) Reader() io.Reader {
	if rt.reader != nil {
		return rt.reader
	}
	return os.Stdin
}

func (rt *runtimeState) OutputFormat() output.Format {
	format, err := output.ParseFormat(rt.outputFormat)
	if err != nil {
		return output.FormatText
	}
	return format
}

func (rt *runtimeState) Write(obj any) error {
	return output.WriteObject(rt.Writer(), rt.OutputFormat(), obj)
}

func (rt *runtimeState) Client() (*client.Client, error) {
	opts := []client.Option{
		client.WithServer(rt.server),
		client.WithToken(rt.token),
		client.WithTimeout(rt.timeout),
		client.WithCAFile(rt.caFile),
		client.WithInsecureSkipVerify(rt.insecureSkipTLSVerify),
	}
	return client.New(opts...)
}
