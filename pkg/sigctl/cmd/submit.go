package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/telekom/signature-relay/pkg/apiresponses"
	"github.com/telekom/signature-relay/pkg/sigctl/client"
	"github.com/telekom/signature-relay/pkg/sigctl/output"
	"github.com/telekom/signature-relay/pkg/signature"
)

func NewSubmitCommand() *cobra.Command {
	var (
		file       string
		name       string
		idNumber   string
		image      string
		noValidate bool
		wait       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Send a signature to the relay",
		Long: `Send a signature to the relay, either as a prepared JSON payload (--file)
or assembled from --name, --id and a PNG image (--image).

The payload is checked locally first so that obviously invalid submissions
do not count against the relay's rate limit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}

			var raw json.RawMessage
			switch {
			case file != "" && image != "":
				return errors.New("--file and --image are mutually exclusive")
			case file != "":
				raw, err = readPayloadFile(file, rt.Reader())
			case image != "":
				raw, err = buildPayload(name, idNumber, image)
			default:
				return errors.New("either --file or --image is required")
			}
			if err != nil {
				return err
			}

			if !noValidate {
				req, err := toRequest(raw)
				if err != nil {
					return err
				}
				if _, err := signature.Validate(req, signature.DefaultLimits()); err != nil {
					return errors.New("payload rejected locally: " + err.Error())
				}
			}

			c, err := rt.Client()
			if err != nil {
				return err
			}
			resp, err := c.SendSignature(cmd.Context(), raw)
			if delay, ok := retryDelay(err, wait); ok {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "rate limited, retrying in %s\n", delay)
				resp, err = sendAfter(cmd.Context(), c, raw, delay)
			}
			if err != nil {
				return err
			}
			if rt.OutputFormat() == output.FormatText {
				return rt.Write(resp.Message)
			}
			return rt.Write(resp)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Payload JSON file, - for stdin")
	cmd.Flags().StringVar(&name, "name", "", "Signer name (with --image)")
	cmd.Flags().StringVar(&idNumber, "id", "", "Identification number (with --image)")
	cmd.Flags().StringVar(&image, "image", "", "PNG signature image")
	cmd.Flags().BoolVar(&noValidate, "no-validate", false, "Skip local validation")
	cmd.Flags().DurationVar(&wait, "wait", 0, "Retry once when rate limited and the relay asks to wait at most this long")

	return cmd
}

// retryDelay reports how long to wait before retrying a rate limited
// submission, if the relay's Retry-After fits within maxWait.
func retryDelay(err error, maxWait time.Duration) (time.Duration, bool) {
	var httpErr *client.HTTPError
	if maxWait <= 0 || !errors.As(err, &httpErr) || !httpErr.RateLimited() {
		return 0, false
	}
	delay := httpErr.RetryAfterDuration()
	if delay <= 0 || delay > maxWait {
		return 0, false
	}
	return delay, true
}

func sendAfter(ctx context.Context, c *client.Client, raw json.RawMessage, delay time.Duration) (*apiresponses.Response, error) {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}
	return c.SendSignature(ctx, raw)
}
