package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sumanism/ECA2/internal/version"
)

var versionOffline bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print client and server versions",
	Long: `Print the cdpctl version and, unless --offline, the server version and
whether the two are compatible (same major, server minor at least ours).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "cdpctl %s\n", version.Version)
		if versionOffline {
			return nil
		}

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		info, err := c.Version(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get server version: %w", err)
		}
		fmt.Fprintf(out, "server %s\n", info.Version)

		ok, err := version.Compatible(version.Version, info.Version)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(cmd.ErrOrStderr(), "warning: server version is not compatible with this client")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&versionOffline, "offline", false, "Do not contact the server")
}
