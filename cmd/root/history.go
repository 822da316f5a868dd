package root

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evagent/evagent/pkg/history"
)

func newHistoryCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Query past runs",
	}
	cmd.AddCommand(newHistoryListCmd(root), newHistoryShowCmd(root))
	return cmd
}

func newHistoryListCmd(root *rootFlags) *cobra.Command {
	var query history.Query

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openHistory(cmd, root)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.List(cmd.Context(), query)
			if err != nil {
				return err
			}
			printEntries(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	cmd.Flags().IntVarP(&query.Limit, "limit", "n", 20, "Maximum number of runs to list (0 for all)")
	cmd.Flags().BoolVar(&query.FailedOnly, "failed", false, "Only list runs with final_status 0")
	return cmd
}

func newHistoryShowCmd(root *rootFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the summary of a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(cmd, root)
			if err != nil {
				return err
			}
			defer store.Close()

			s, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(s)
			}
			printSummary(cmd.OutOrStdout(), s, "")
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the summary as JSON")
	return cmd
}

var errNoHistory = errors.New("no run history configured (set history.kind to sqlite or minio)")

func openHistory(cmd *cobra.Command, root *rootFlags) (history.Store, error) {
	cfg, err := loadConfig(root)
	if err != nil {
		return nil, err
	}
	store, err := history.Open(cmd.Context(), cfg.History)
	if errors.Is(err, history.ErrDisabled) {
		return nil, errNoHistory
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open run history: %w", err)
	}
	return store, nil
}
