package cmd

import (
	"github.com/spf13/cobra"

	"github.com/telekom/signature-relay/pkg/sigctl/output"
)

func NewHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the relay is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			c, err := rt.Client()
			if err != nil {
				return err
			}
			if err := c.Health(cmd.Context()); err != nil {
				return err
			}
			if rt.OutputFormat() == output.FormatText {
				return rt.Write("ok")
			}
			return rt.Write(map[string]bool{"ok": true})
		},
	}
}
