package root

import (
	"encoding/json"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/evagent/evagent/pkg/supervisor"
)

func newSummaryCmd(root *rootFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "summary [path]",
		Short: "Show a run summary",
		Long:  "Summary loads supervisor_summary.json, checks it against the summary schema and prints it. Without a path the file in the configured output directory is used.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				cfg, err := loadConfig(root)
				if err != nil {
					return err
				}
				path = filepath.Join(cfg.OutDir, supervisor.SummaryFileName)
			}

			s, err := supervisor.LoadSummary(path)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(s)
			}
			printSummary(cmd.OutOrStdout(), s, path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the summary as JSON")
	return cmd
}
