package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/matterstack/matterstack/internal/models"
)

// PauseCmd returns the pause command.
func PauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <run_id>",
		Short: "Pause a run; the engine will not advance it until resumed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := openRunContext(args[0])
			if err != nil {
				return err
			}
			defer rc.Close()
			return rc.Engine.Pause(args[0])
		},
	}
}

// ResumeCmd returns the resume command.
func ResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <run_id>",
		Short: "Resume a paused run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := openRunContext(args[0])
			if err != nil {
				return err
			}
			defer rc.Close()
			return rc.Engine.Resume(args[0])
		},
	}
}

// CancelCmd returns the cancel command.
func CancelCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "cancel <run_id>",
		Short: "Cancel a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := openRunContext(args[0])
			if err != nil {
				return err
			}
			defer rc.Close()
			return rc.Engine.Cancel(args[0], reason)
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "why the run is being cancelled")

	return cmd
}

// ReviveCmd returns the revive command.
func ReviveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revive <run_id>",
		Short: "Revive a cancelled or failed run back to running",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := openRunContext(args[0])
			if err != nil {
				return err
			}
			defer rc.Close()
			return rc.Engine.Revive(args[0])
		},
	}
}

// RerunCmd returns the rerun command.
func RerunCmd() *cobra.Command {
	var recursive bool

	cmd := &cobra.Command{
		Use:   "rerun <run_id> <task_id>",
		Short: "Reset a task (and optionally its dependents) back to pending",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := openRunContext(args[0])
			if err != nil {
				return err
			}
			defer rc.Close()
			return rc.Engine.Rerun(args[0], args[1], recursive)
		},
	}

	cmd.Flags().BoolVar(&recursive, "recursive", false, "also reset tasks that transitively depend on this one")

	return cmd
}

// CancelAttemptCmd returns the cancel-attempt command.
func CancelAttemptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel-attempt <run_id> <attempt_id>",
		Short: "Cancel a single in-flight attempt",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := openRunContext(args[0])
			if err != nil {
				return err
			}
			defer rc.Close()
			return rc.Engine.CancelAttempt(context.Background(), args[0], args[1])
		},
	}
}

// AttemptsCmd returns the attempts command.
func AttemptsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attempts <run_id> <task_id>",
		Short: "List every attempt made for a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := openRunContext(args[0])
			if err != nil {
				return err
			}
			defer rc.Close()

			attempts, err := rc.Store.GetAttemptsForTask(args[1])
			if err != nil {
				return fmt.Errorf("get attempts: %w", err)
			}
			if len(attempts) == 0 {
				fmt.Println("no attempts recorded")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ATTEMPT_ID\tINDEX\tSTATUS\tHANDLE")
			fmt.Fprintln(w, "----------\t-----\t------\t------")
			for _, a := range attempts {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", a.AttemptID, a.AttemptIndex, colorAttemptStatus(a.Status), a.Handle)
			}
			w.Flush()
			return nil
		},
	}
}

func colorAttemptStatus(s models.AttemptStatus) string {
	switch s {
	case models.AttemptStatusCompleted:
		return color.New(color.FgHiGreen).Sprint(s)
	case models.AttemptStatusFailed, models.AttemptStatusCancelled:
		return color.New(color.FgRed).Sprint(s)
	case models.AttemptStatusWaitingExternal, models.AttemptStatusSubmitted:
		return color.New(color.FgYellow).Sprint(s)
	case models.AttemptStatusRunning:
		return color.New(color.FgHiBlue).Sprint(s)
	default:
		return color.New(color.FgWhite).Sprint(s)
	}
}
