package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/matterstack/matterstack/internal/cli"
	"github.com/matterstack/matterstack/internal/errs"
	"github.com/matterstack/matterstack/internal/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "matterstack",
		Short:   "MatterStack - tick-based workflow orchestrator",
		Version: version.String(),
		Long: `MatterStack runs multi-task workflows to completion by repeatedly
ticking a run through poll, plan, execute, and analyze, dispatching each
task to whichever operator backend it's wired to.`,
	}

	rootCmd.AddCommand(cli.InitCmd())
	rootCmd.AddCommand(cli.StepCmd())
	rootCmd.AddCommand(cli.LoopCmd())
	rootCmd.AddCommand(cli.StatusCmd())
	rootCmd.AddCommand(cli.ExplainCmd())
	rootCmd.AddCommand(cli.PauseCmd())
	rootCmd.AddCommand(cli.ResumeCmd())
	rootCmd.AddCommand(cli.CancelCmd())
	rootCmd.AddCommand(cli.ReviveCmd())
	rootCmd.AddCommand(cli.RerunCmd())
	rootCmd.AddCommand(cli.AttemptsCmd())
	rootCmd.AddCommand(cli.CancelAttemptCmd())
	rootCmd.AddCommand(cli.ExportEvidenceCmd())
	rootCmd.AddCommand(cli.AttachCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	var usageErr *cli.UsageError
	var lockErr *errs.LockContentionError
	var schemaErr *errs.SchemaError
	var wiringErr *errs.WiringOverrideError

	switch {
	case errors.As(err, &usageErr):
		return 2
	case errors.As(err, &lockErr):
		return 3
	case errors.As(err, &schemaErr):
		return 4
	case errors.As(err, &wiringErr):
		return 5
	default:
		return 1
	}
}
