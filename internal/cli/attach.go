package cli

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/matterstack/matterstack/internal/tmux"
)

// attachViaPlainTmux creates (or reuses) the run's tmux session and opens
// a monitor window for a task using the exec.Command-based primitives,
// for environments where gotmux cannot reach a tmux server directly.
func attachViaPlainTmux(sessionName, taskID, attemptDir string) error {
	if !tmux.SessionExists(sessionName) {
		if _, err := tmux.NewSession(sessionName, attemptDir); err != nil {
			return err
		}
	}
	session := &tmux.Session{Name: sessionName}
	if _, err := session.CreateMonitorWindow(taskID, attemptDir); err != nil {
		return err
	}
	return nil
}

// AttachCmd returns the attach command.
func AttachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach <run_id> <task_id>",
		Short: "Attach a tmux session to a task's current attempt",
		Long: `Create or reuse a tmux session named after the run, with a window
tailing the task's current attempt's stdout.log and stderr.log, then
exec into a tmux attach.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, taskID := args[0], args[1]

			rc, err := openRunContext(runID)
			if err != nil {
				return err
			}

			task, err := rc.Store.GetTask(taskID)
			if err != nil {
				rc.Close()
				return fmt.Errorf("get task: %w", err)
			}
			if task.CurrentAttemptID == "" {
				rc.Close()
				return fmt.Errorf("task %s has no attempt yet", taskID)
			}
			attemptDir := filepath.Join(rc.RunRoot, "tasks", taskID, "attempts", task.CurrentAttemptID)
			rc.Close()

			sessionName := fmt.Sprintf("matterstack-%s", runID)
			instructions := tmux.MonitorInstructions(sessionName)

			adapter, err := tmux.NewGotmuxAdapter()
			if err != nil {
				// gotmux needs a running tmux server to talk to; fall back
				// to driving the tmux binary directly with the plain
				// exec.Command-based primitives.
				if fallbackErr := attachViaPlainTmux(sessionName, taskID, attemptDir); fallbackErr != nil {
					return fmt.Errorf("connect to tmux: %w (fallback also failed: %v)", err, fallbackErr)
				}
			} else {
				sessionName, err = adapter.AttachAttempt(runID, taskID, attemptDir)
				if err != nil {
					return err
				}
				instructions = adapter.AttachInstructions(sessionName)
			}

			tmuxPath, err := exec.LookPath("tmux")
			if err != nil {
				fmt.Println(instructions)
				return nil
			}

			execArgs := []string{"tmux", "attach", "-t", sessionName}
			env := os.Environ()
			if err := syscall.Exec(tmuxPath, execArgs, env); err != nil {
				return fmt.Errorf("exec tmux attach: %w", err)
			}
			return nil
		},
	}
}
