package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/matterstack/matterstack/internal/evidence"
)

// ExportEvidenceCmd returns the export-evidence command.
func ExportEvidenceCmd() *cobra.Command {
	var destDir string

	cmd := &cobra.Command{
		Use:   "export-evidence <run_id>",
		Short: "Build and export an immutable evidence bundle for a run",
		Long: `Assemble every task's attempt history from the state store and write
a self-contained manifest.json plus copies of each attempt's working
directory under --dest. Rebuilding an export is idempotent: the
destination directory is cleared and recreated each time.`,
		Args: cobra.ExactArgs(1),
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

			bundle, err := evidence.BuildBundle(rc.Run, tasks, rc.Store)
			if err != nil {
				return err
			}

			dest := destDir
			if dest == "" {
				dest = filepath.Join(rc.RunRoot, "evidence")
			}

			if err := evidence.ExportBundle(bundle, rc.RunRoot, dest); err != nil {
				return err
			}

			fmt.Println(dest)
			return nil
		},
	}

	cmd.Flags().StringVar(&destDir, "dest", "", "destination directory (default: <run_root>/evidence)")

	return cmd
}
