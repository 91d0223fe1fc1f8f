package cmd

import (
	"github.com/spf13/cobra"

	"github.com/telekom/signature-relay/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	var remote bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show sigctl version, or the relay's with --remote",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}

			info := version.GetBuildInfo()
			if remote {
				c, err := rt.Client()
				if err != nil {
					return err
				}
				relayInfo, err := c.Version(cmd.Context())
				if err != nil {
					return err
				}
				info = *relayInfo
			}
			return rt.Write(info)
		},
	}

	cmd.Flags().BoolVar(&remote, "remote", false, "Ask the relay for its version")
	return cmd
}
