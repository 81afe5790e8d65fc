package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matterstack/matterstack/internal/config"
	"github.com/matterstack/matterstack/internal/core/campaign"
	"github.com/matterstack/matterstack/internal/engine"
	"github.com/matterstack/matterstack/internal/ids"
	"github.com/matterstack/matterstack/internal/models"
	"github.com/matterstack/matterstack/internal/store"
	"github.com/matterstack/matterstack/internal/wire"
	"github.com/matterstack/matterstack/internal/wiring"
)

// InitCmd returns the init command.
func InitCmd() *cobra.Command {
	var workflowPath string
	var operatorsConfigPath string
	var forceWiringOverride bool

	cmd := &cobra.Command{
		Use:   "init <workspace>",
		Short: "Initialize a new run for a workspace",
		Long: `Create a new run directory under the workspace's runs/ folder,
load the initial workflow from --workflow, and initialize its state store.

Prints the new run_id on success.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workspaceSlug := args[0]
			if workflowPath == "" {
				return &UsageError{msg: "init requires --workflow <path>"}
			}

			tasks, err := loadWorkflowSpec(workflowPath)
			if err != nil {
				return &UsageError{msg: err.Error()}
			}

			runID := ids.RunID()
			runRoot, err := runRootFor(workspaceSlug, runID)
			if err != nil {
				return err
			}

			if err := config.Save(runRoot, config.Default(workspaceSlug)); err != nil {
				return err
			}

			st, err := store.Open(runRoot)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			run := models.Run{RunID: runID, WorkspaceSlug: workspaceSlug, RootPath: runRoot}
			wf := models.Workflow{WorkflowID: ids.Generate("workflow"), Tasks: tasks}
			camp := campaign.NewLinear(wf)

			if err := engine.InitializeRun(context.Background(), st, run, camp); err != nil {
				return fmt.Errorf("initialize run: %w", err)
			}

			wsRoot, err := workspacesRoot()
			if err != nil {
				return err
			}
			specs, _, err := wire.ResolveWiring(st, runID, runRoot, wiring.Request{
				CLIConfigPath:       operatorsConfigPath,
				WorkspaceConfigPath: wire.WorkspaceConfigPath(wsRoot, workspaceSlug),
				Force:               forceWiringOverride,
			})
			if err != nil {
				return fmt.Errorf("resolve operator wiring: %w", err)
			}

			keys := make([]string, 0, len(tasks))
			for _, t := range tasks {
				if t.OperatorKey != "" {
					keys = append(keys, t.OperatorKey)
				}
			}
			if _, err := wire.BuildRegistry(runRoot, specs, keys); err != nil {
				return fmt.Errorf("build operator registry: %w", err)
			}

			fmt.Println(runID)
			return nil
		},
	}

	cmd.Flags().StringVar(&workflowPath, "workflow", "", "path to a workflow spec YAML file")
	cmd.Flags().StringVar(&operatorsConfigPath, "operators-config", "", "path to an operators.yaml overriding this run's wiring")
	cmd.Flags().BoolVar(&forceWiringOverride, "force-wiring-override", false, "allow --operators-config to replace an already-persisted wiring snapshot")

	return cmd
}
