package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// StepCmd returns the step command.
func StepCmd() *cobra.Command {
	var operatorsConfigPath string
	var forceWiringOverride bool

	cmd := &cobra.Command{
		Use:   "step <run_id>",
		Short: "Advance a run by one tick",
		Long: `Execute one POLL -> PLAN -> EXECUTE -> ANALYZE tick for a run and print its
resulting status.

--operators-config swaps this run's wiring before the tick executes; once a
run has a persisted wiring snapshot, changing it requires --force-wiring-override.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := openRunContextWith(args[0], openRunContextOpts{
				OperatorsConfigPath: operatorsConfigPath,
				ForceWiringOverride: forceWiringOverride,
			})
			if err != nil {
				return err
			}
			defer rc.Close()

			status, err := rc.Engine.StepRun(context.Background(), args[0])
			if err != nil {
				return err
			}

			fmt.Println(status)
			return nil
		},
	}

	cmd.Flags().StringVar(&operatorsConfigPath, "operators-config", "", "path to an operators.yaml overriding this run's wiring before the tick")
	cmd.Flags().BoolVar(&forceWiringOverride, "force-wiring-override", false, "allow --operators-config to replace an already-persisted wiring snapshot")

	return cmd
}
