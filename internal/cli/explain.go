package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/matterstack/matterstack/internal/diagnostics"
	"github.com/matterstack/matterstack/internal/models"
)

// ExplainCmd returns the explain command.
func ExplainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "explain <run_id>",
		Short: "Explain why a run's unfinished tasks have not completed",
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

			attempts := make(map[string]models.Attempt, len(tasks))
			for _, t := range tasks {
				if t.CurrentAttemptID == "" {
					continue
				}
				a, err := rc.Store.GetAttempt(t.CurrentAttemptID)
				if err != nil {
					continue
				}
				attempts[t.TaskID] = a
			}

			items := diagnostics.Frontier(tasks, attempts)
			if len(items) == 0 {
				fmt.Println("no unfinished tasks")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "TASK_ID\tCLASSIFICATION\tHINT")
			fmt.Fprintln(w, "-------\t--------------\t----")
			for _, item := range items {
				fmt.Fprintf(w, "%s\t%s\t%s\n", item.TaskID, colorClassification(item.Classification), item.Hint)
			}
			w.Flush()

			return nil
		},
	}
}

func colorClassification(c diagnostics.Classification) string {
	switch c {
	case diagnostics.Ready:
		return color.New(color.FgHiGreen).Sprint(c)
	case diagnostics.Running:
		return color.New(color.FgHiBlue).Sprint(c)
	case diagnostics.WaitingExternal:
		return color.New(color.FgYellow).Sprint(c)
	case diagnostics.WaitingDependency:
		return color.New(color.FgHiBlack).Sprint(c)
	default:
		return color.New(color.FgWhite).Sprint(c)
	}
}
