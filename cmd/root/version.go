package root

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evagent/evagent/pkg/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			info := version.Detect()
			fmt.Fprintf(cmd.OutOrStdout(), "evagent %s", info.Version)
			if info.Commit != "" {
				fmt.Fprintf(cmd.OutOrStdout(), " (%s)", info.Commit)
			}
			fmt.Fprintf(cmd.OutOrStdout(), " %s\n", info.GoVersion)
		},
	}
}
