package root

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/evagent/evagent/pkg/validate"
	"github.com/evagent/evagent/pkg/worker"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <kind> <result.json>",
		Short: "Validate a saved worker result",
		Long:  "Check runs the validator of one worker kind (tech, valuechain, stock or esg) on a result file and lists the missing fields.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := worker.ParseKind(args[0])
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("failed to read result: %w", err)
			}
			res, err := worker.DecodeResult(kind, data)
			if err != nil {
				return err
			}

			outcome := validate.Result(kind, res)
			printOutcome(cmd.OutOrStdout(), kind, outcome)
			if !outcome.Valid {
				return fmt.Errorf("%s result is incomplete", kind)
			}
			return nil
		},
	}
}
