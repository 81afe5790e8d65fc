package tmux

import (
	"fmt"
	"os/exec"
)

// Session represents a TMux session
type Session struct {
	Name string
}

// Window represents a TMux window
type Window struct {
	Session *Session
	Index   int
	Name    string
}

// NewSession creates a new TMux session
func NewSession(name, workingDir string) (*Session, error) {
	// Create session with first window, start numbering from 1
	cmd := exec.Command("tmux", "new-session", "-d", "-s", name, "-c", workingDir)
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	// Set base-index to 1 for this session (windows start at 1)
	exec.Command("tmux", "set-option", "-t", name, "base-index", "1").Run()
	// Set pane-base-index to 1 (panes start at 1)
	exec.Command("tmux", "set-option", "-t", name, "pane-base-index", "1").Run()

	return &Session{Name: name}, nil
}

// KillSession terminates a TMux session
func KillSession(name string) error {
	cmd := exec.Command("tmux", "kill-session", "-t", name)
	return cmd.Run()
}

// CreateMonitorWindow opens a window with two stacked panes tailing an
// attempt's stdout.log and stderr.log, for `matterstack attach`.
func (s *Session) CreateMonitorWindow(name, attemptDir string) (*Window, error) {
	cmd := exec.Command("tmux", "new-window", "-t", s.Name, "-n", name, "-c", attemptDir)
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("failed to create monitor window: %w", err)
	}

	target := fmt.Sprintf("%s:%s", s.Name, name)

	if err := s.SplitHorizontal(target, attemptDir); err != nil {
		return nil, fmt.Errorf("failed to split monitor window: %w", err)
	}

	top := fmt.Sprintf("%s.1", target)
	bottom := fmt.Sprintf("%s.2", target)

	if err := s.SendKeys(top, "tail -f stdout.log"); err != nil {
		return nil, fmt.Errorf("failed to tail stdout.log: %w", err)
	}
	if err := s.SendKeys(bottom, "tail -f stderr.log"); err != nil {
		return nil, fmt.Errorf("failed to tail stderr.log: %w", err)
	}

	return &Window{Session: s, Name: name}, nil
}

// SplitVertical splits a pane vertically (creates pane on the right)
func (s *Session) SplitVertical(target, workingDir string) error {
	cmd := exec.Command("tmux", "split-window", "-h", "-t", target, "-c", workingDir)
	return cmd.Run()
}

// SplitHorizontal splits a pane horizontally (creates pane below)
func (s *Session) SplitHorizontal(target, workingDir string) error {
	cmd := exec.Command("tmux", "split-window", "-v", "-t", target, "-c", workingDir)
	return cmd.Run()
}

// SendKeys sends keystrokes to a pane (with Enter)
func (s *Session) SendKeys(target, keys string) error {
	cmd := exec.Command("tmux", "send-keys", "-t", target, keys, "C-m")
	return cmd.Run()
}

// SelectWindow switches to a specific window
func (s *Session) SelectWindow(windowIndex int) error {
	target := fmt.Sprintf("%s:%d", s.Name, windowIndex)
	cmd := exec.Command("tmux", "select-window", "-t", target)
	return cmd.Run()
}

// GetSessionInfo returns formatted information about the session
func GetSessionInfo(name string) (string, error) {
	cmd := exec.Command("tmux", "list-windows", "-t", name)
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to get session info: %w", err)
	}
	return string(output), nil
}

// SessionExists checks if a TMux session exists
func SessionExists(name string) bool {
	cmd := exec.Command("tmux", "has-session", "-t", name)
	err := cmd.Run()
	return err == nil
}

// MonitorInstructions returns user-friendly instructions for attaching to
// a monitor session created by CreateMonitorWindow.
func MonitorInstructions(sessionName string) string {
	return fmt.Sprintf(
		"Attach to session: tmux attach -t %s\n\nPanes:\n  top:    stdout.log\n  bottom: stderr.log\n",
		sessionName,
	)
}
