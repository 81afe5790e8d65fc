package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/matterstack/matterstack/internal/engine"
)

// LoopCmd returns the loop command.
func LoopCmd() *cobra.Command {
	var tickSeconds int

	cmd := &cobra.Command{
		Use:   "loop [run_id]",
		Short: "Tick a run to completion, or service every active run as a daemon",
		Long: `With a run_id, block ticking that single run until it reaches a terminal
status. With no run_id, service every active run under the workspaces root
in randomized round-robin order, forever.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			interval := time.Duration(tickSeconds) * time.Second

			if len(args) == 1 {
				rc, err := openRunContext(args[0])
				if err != nil {
					return err
				}
				defer rc.Close()

				status, err := rc.Engine.RunUntilCompletion(context.Background(), args[0], interval)
				if err != nil {
					return err
				}
				fmt.Println(status)
				return nil
			}

			runs, err := newWorkspaceRunSet()
			if err != nil {
				return err
			}
			return engine.ServiceDaemon(context.Background(), runs, interval)
		},
	}

	cmd.Flags().IntVar(&tickSeconds, "interval", 5, "seconds between ticks/passes")

	return cmd
}
