package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/matterstack/matterstack/internal/models"
)

// StatusCmd returns the status command.
func StatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <run_id>",
		Short: "Show a run's status and its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := args[0]
			rc, err := openRunContext(runID)
			if err != nil {
				return err
			}
			defer rc.Close()

			tasks, err := rc.Store.GetTasks(runID)
			if err != nil {
				return fmt.Errorf("get tasks: %w", err)
			}

			fmt.Printf("run %s: %s\n", rc.Run.RunID, colorRunStatus(rc.Run.Status))
			if rc.Run.StatusReason != "" {
				fmt.Printf("  reason: %s\n", rc.Run.StatusReason)
			}
			fmt.Println()

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "TASK_ID\tSTATUS\tOPERATOR\tATTEMPT")
			fmt.Fprintln(w, "-------\t------\t--------\t-------")
			for _, t := range tasks {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					t.TaskID,
					colorTaskStatus(t.Status),
					t.OperatorKey,
					t.CurrentAttemptID,
				)
			}
			w.Flush()

			return nil
		},
	}
}

func colorRunStatus(s models.RunStatus) string {
	switch s {
	case models.RunStatusCompleted:
		return color.New(color.FgHiGreen).Sprint(s)
	case models.RunStatusFailed, models.RunStatusCancelled:
		return color.New(color.FgRed).Sprint(s)
	case models.RunStatusPaused:
		return color.New(color.FgYellow).Sprint(s)
	case models.RunStatusRunning:
		return color.New(color.FgHiBlue).Sprint(s)
	default:
		return color.New(color.FgWhite).Sprint(s)
	}
}

func colorTaskStatus(s models.TaskStatus) string {
	switch s {
	case models.TaskStatusCompleted:
		return color.New(color.FgHiGreen).Sprint(s)
	case models.TaskStatusFailed, models.TaskStatusCancelled:
		return color.New(color.FgRed).Sprint(s)
	case models.TaskStatusSkipped:
		return color.New(color.FgHiBlack).Sprint(s)
	case models.TaskStatusWaitingExternal, models.TaskStatusSubmitted:
		return color.New(color.FgYellow).Sprint(s)
	case models.TaskStatusRunning:
		return color.New(color.FgHiBlue).Sprint(s)
	default:
		return color.New(color.FgWhite).Sprint(s)
	}
}
