package tmux

import (
	"fmt"
	"strings"

	"github.com/GianlucaP106/gotmux/gotmux"
)

// GotmuxAdapter wraps gotmux library for session lifecycle management
type GotmuxAdapter struct {
	tmux *gotmux.Tmux
}

// NewGotmuxAdapter creates a new gotmux adapter
func NewGotmuxAdapter() (*GotmuxAdapter, error) {
	tmux, err := gotmux.DefaultTmux()
	if err != nil {
		return nil, fmt.Errorf("failed to create tmux client: %w", err)
	}
	return &GotmuxAdapter{
		tmux: tmux,
	}, nil
}

// escapeShellCommand works around a gotmux quoting bug where ShellCommand is
// wrapped in single quotes. The shell interprets that as a single token, so
// multi-word commands fail with "command not found" (status 127). Replacing
// spaces with ' ' (close-quote, space, open-quote) makes gotmux's wrapping
// produce separate quoted words the shell parses correctly.
func escapeShellCommand(cmd string) string {
	return strings.ReplaceAll(cmd, " ", "' '")
}

// AttachAttempt creates or reuses a session named after the run and opens a
// monitor window for the given attempt, tailing its stdout.log/stderr.log.
// This backs `matterstack attach <run_id> <task_id>`.
func (g *GotmuxAdapter) AttachAttempt(runID, taskID, attemptDir string) (string, error) {
	sessionName := fmt.Sprintf("matterstack-%s", runID)
	windowName := taskID

	session, err := g.GetSession(sessionName)
	if err != nil {
		return "", fmt.Errorf("failed to check session: %w", err)
	}

	if session == nil {
		session, err = g.tmux.NewSession(&gotmux.SessionOptions{
			Name:           sessionName,
			StartDirectory: attemptDir,
			ShellCommand:   escapeShellCommand("tail -f stdout.log"),
		})
		if err != nil {
			return "", fmt.Errorf("failed to create session: %w", err)
		}

		windows, err := session.ListWindows()
		if err != nil {
			return "", fmt.Errorf("failed to list windows: %w", err)
		}
		if len(windows) == 0 {
			return "", fmt.Errorf("no windows found in new session")
		}
		if err := windows[0].Rename(windowName); err != nil {
			return "", fmt.Errorf("failed to rename window: %w", err)
		}
		if err := g.addStderrPane(windows[0], attemptDir); err != nil {
			return "", err
		}
		return sessionName, nil
	}

	window, err := session.NewWindow(&gotmux.NewWindowOptions{
		WindowName:     windowName,
		StartDirectory: attemptDir,
		DoNotAttach:    true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create window %s: %w", windowName, err)
	}
	panes, err := window.ListPanes()
	if err != nil || len(panes) == 0 {
		return "", fmt.Errorf("failed to get initial pane: %w", err)
	}
	if err := panes[0].SplitWindow(&gotmux.SplitWindowOptions{
		SplitDirection: gotmux.PaneSplitDirectionHorizontal,
		StartDirectory: attemptDir,
		ShellCommand:   escapeShellCommand("tail -f stdout.log"),
	}); err != nil {
		return "", fmt.Errorf("failed to split for stdout pane: %w", err)
	}
	if err := g.addStderrPane(window, attemptDir); err != nil {
		return "", err
	}

	return sessionName, nil
}

func (g *GotmuxAdapter) addStderrPane(window *gotmux.Window, attemptDir string) error {
	panes, err := window.ListPanes()
	if err != nil || len(panes) == 0 {
		return fmt.Errorf("failed to get panes for stderr split: %w", err)
	}
	last := panes[len(panes)-1]
	if err := last.SplitWindow(&gotmux.SplitWindowOptions{
		SplitDirection: gotmux.PaneSplitDirectionVertical,
		StartDirectory: attemptDir,
		ShellCommand:   escapeShellCommand("tail -f stderr.log"),
	}); err != nil {
		return fmt.Errorf("failed to split for stderr pane: %w", err)
	}
	return nil
}

// GetSession returns a gotmux Session by name, or nil if not found.
func (g *GotmuxAdapter) GetSession(name string) (*gotmux.Session, error) {
	sessions, err := g.tmux.ListSessions()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	for _, s := range sessions {
		if s.Name == name {
			return s, nil
		}
	}
	return nil, nil
}

// SessionExists checks if a tmux session exists
func (g *GotmuxAdapter) SessionExists(name string) bool {
	sessions, err := g.tmux.ListSessions()
	if err != nil {
		return false
	}
	for _, s := range sessions {
		if s.Name == name {
			return true
		}
	}
	return false
}

// KillSession terminates a tmux session
func (g *GotmuxAdapter) KillSession(name string) error {
	sessions, err := g.tmux.ListSessions()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	for _, s := range sessions {
		if s.Name == name {
			return s.Kill()
		}
	}
	return fmt.Errorf("session %s not found", name)
}

// AttachInstructions returns instructions for attaching to a session
func (g *GotmuxAdapter) AttachInstructions(sessionName string) string {
	return fmt.Sprintf("Attach to session: tmux attach -t %s\n\n"+
		"Panes:\n"+
		"  left/top:  stdout.log\n"+
		"  right/bottom: stderr.log\n\n"+
		"TMux Commands:\n"+
		"  Switch panes: Ctrl+b then arrow keys\n"+
		"  Detach session: Ctrl+b then d\n",
		sessionName)
}
