// Package hpc implements backend.Backend by submitting a task as a Slurm
// batch job over an SSH connection to a login node. There is no SFTP
// library anywhere in the retrieval pack this was built from, so file
// staging shells out to `cat` over the same SSH session rather than
// opening a second, unjustified dependency.
package hpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/matterstack/matterstack/internal/backend"
	"github.com/matterstack/matterstack/internal/backend/fssafety"
	"github.com/matterstack/matterstack/internal/errs"
	"github.com/matterstack/matterstack/internal/models"
)

// Config describes how to reach the login node and what Slurm partition
// and account to submit under.
type Config struct {
	Host           string
	Port           int
	User           string
	Signer         ssh.Signer
	RemoteRoot     string // base directory on the remote host for attempt work dirs
	Partition      string
	Account        string
	HostKeyCallback ssh.HostKeyCallback
}

// Backend submits tasks as Slurm batch jobs over SSH.
type Backend struct {
	cfg Config
}

// New returns an HPC backend bound to cfg. The SSH connection is opened
// lazily per call rather than held open, since ticks are infrequent and a
// long-lived connection would need its own keepalive/reconnect logic.
func New(cfg Config) *Backend {
	if cfg.HostKeyCallback == nil {
		cfg.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	}
	return &Backend{cfg: cfg}
}

func (b *Backend) dial() (*ssh.Client, error) {
	clientCfg := &ssh.ClientConfig{
		User:            b.cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(b.cfg.Signer)},
		HostKeyCallback: b.cfg.HostKeyCallback,
	}
	addr := fmt.Sprintf("%s:%d", b.cfg.Host, portOrDefault(b.cfg.Port))
	client, err := ssh.Dial("tcp", addr, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("hpc: dial %s: %w", addr, err)
	}
	return client, nil
}

func portOrDefault(p int) int {
	if p == 0 {
		return 22
	}
	return p
}

func (b *Backend) runCommand(ctx context.Context, cmdline string) (string, error) {
	client, err := b.dial()
	if err != nil {
		return "", err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("hpc: new session: %w", err)
	}
	defer session.Close()

	var out bytes.Buffer
	session.Stdout = &out
	if err := session.Run(cmdline); err != nil {
		return out.String(), fmt.Errorf("hpc: run %q: %w", cmdline, err)
	}
	return out.String(), nil
}

func (b *Backend) remoteAttemptDir(taskID, attemptID string) string {
	return fmt.Sprintf("%s/tasks/%s/attempts/%s", strings.TrimRight(b.cfg.RemoteRoot, "/"), taskID, attemptID)
}

// Stage creates the attempt's remote working directory and, if the task
// names local files, pushes them across via a base64-encoded cat
// redirection (avoiding SFTP entirely).
func (b *Backend) Stage(ctx context.Context, runRoot string, task models.Task, attempt models.Attempt) (string, error) {
	remoteDir := b.remoteAttemptDir(task.TaskID, attempt.AttemptID)
	if _, err := b.runCommand(ctx, fmt.Sprintf("mkdir -p %s", shellQuote(remoteDir))); err != nil {
		return "", fmt.Errorf("hpc: stage %s: %w", remoteDir, err)
	}

	for _, f := range task.Files {
		localPath, err := fssafety.EnsureUnderRunRoot(runRoot, f)
		if err != nil {
			return "", fmt.Errorf("hpc: stage file %s: %w", f, err)
		}
		remotePath := remoteDir + "/" + filepath.Base(localPath)
		if err := b.pushFile(ctx, localPath, remotePath); err != nil {
			return "", fmt.Errorf("hpc: push file %s: %w", f, err)
		}
	}

	return remoteDir, nil
}

// pushFile reads a local file whole, base64-encodes it, and writes it to
// the remote path by piping the encoded text through `base64 -d` over
// the same SSH session Submit and Poll use.
func (b *Backend) pushFile(ctx context.Context, localPath, remotePath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	encoded := base64.StdEncoding.EncodeToString(data)
	cmd := fmt.Sprintf("base64 -d > %s <<'MATTERSTACK_B64'\n%s\nMATTERSTACK_B64", shellQuote(remotePath), encoded)
	_, err = b.runCommand(ctx, cmd)
	return err
}

// pullFile reads a remote file back as base64 text and decodes it to
// localPath, the inverse of pushFile.
func (b *Backend) pullFile(ctx context.Context, remotePath, localPath string) error {
	out, err := b.runCommand(ctx, fmt.Sprintf("base64 %s", shellQuote(remotePath)))
	if err != nil {
		return err
	}
	clean := strings.Join(strings.Fields(out), "")
	decoded, err := base64.StdEncoding.DecodeString(clean)
	if err != nil {
		return fmt.Errorf("decode %s: %w", remotePath, err)
	}
	return os.WriteFile(localPath, decoded, 0o644)
}

// Collect lists files in the attempt's remote working directory that
// match patterns, via ordinary shell globbing on the login node, and
// pulls each one down into the attempt's local evidence directory.
func (b *Backend) Collect(ctx context.Context, runRoot string, task models.Task, attempt models.Attempt, patterns []string) ([]string, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	remoteDir := b.remoteAttemptDir(task.TaskID, attempt.AttemptID)

	listCmd := fmt.Sprintf(
		"cd %s && for p in %s; do for f in $p; do [ -f \"$f\" ] && echo \"$f\"; done; done",
		shellQuote(remoteDir), strings.Join(patterns, " "),
	)
	out, err := b.runCommand(ctx, listCmd)
	if err != nil {
		return nil, fmt.Errorf("hpc: collect: list %s: %w", remoteDir, err)
	}

	var names []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			names = append(names, line)
		}
	}
	if len(names) == 0 {
		return nil, &errs.MissingOutputsError{TaskID: task.TaskID, Patterns: patterns}
	}

	evidenceDir, err := fssafety.OperatorEvidenceDir(runRoot, task.TaskID, attempt.AttemptID)
	if err != nil {
		return nil, fmt.Errorf("hpc: collect: %w", err)
	}
	if err := os.MkdirAll(evidenceDir, 0o755); err != nil {
		return nil, fmt.Errorf("hpc: create evidence dir %s: %w", evidenceDir, err)
	}

	collected := make([]string, 0, len(names))
	for _, name := range names {
		remotePath := remoteDir + "/" + name
		localPath := filepath.Join(evidenceDir, filepath.Base(name))
		if err := b.pullFile(ctx, remotePath, localPath); err != nil {
			return nil, fmt.Errorf("hpc: collect %s: %w", remotePath, err)
		}
		collected = append(collected, localPath)
	}
	return collected, nil
}

// Submit writes a Slurm batch script into the staged directory and
// submits it with sbatch, returning the numeric job id sbatch reports.
func (b *Backend) Submit(ctx context.Context, task models.Task, workDir string) (string, error) {
	script := batchScript(task, workDir, b.cfg.Partition, b.cfg.Account)
	scriptPath := workDir + "/job.sbatch"

	writeCmd := fmt.Sprintf("cat > %s <<'MATTERSTACK_EOF'\n%s\nMATTERSTACK_EOF", shellQuote(scriptPath), script)
	if _, err := b.runCommand(ctx, writeCmd); err != nil {
		return "", fmt.Errorf("hpc: write batch script: %w", err)
	}

	out, err := b.runCommand(ctx, fmt.Sprintf("sbatch --parsable %s", shellQuote(scriptPath)))
	if err != nil {
		return "", fmt.Errorf("hpc: sbatch submit: %w", err)
	}

	jobID := strings.TrimSpace(strings.SplitN(out, ";", 2)[0])
	if jobID == "" {
		return "", fmt.Errorf("hpc: sbatch produced no job id for %s", task.TaskID)
	}
	return jobID, nil
}

var squeueStateRe = regexp.MustCompile(`\S+`)

// Poll runs `squeue` for the job id; if squeue no longer lists it, the job
// has left the queue and Poll falls back to `sacct` to learn its final
// state.
func (b *Backend) Poll(ctx context.Context, handle string) (backend.JobStatus, error) {
	out, err := b.runCommand(ctx, fmt.Sprintf("squeue -h -j %s -o %%T", handle))
	if err != nil {
		return "", fmt.Errorf("hpc: squeue %s: %w", handle, err)
	}
	state := strings.TrimSpace(out)
	if state != "" {
		return mapSlurmState(state), nil
	}

	out, err = b.runCommand(ctx, fmt.Sprintf("sacct -n -j %s -o State --parsable2", handle))
	if err != nil {
		return "", fmt.Errorf("hpc: sacct %s: %w", handle, err)
	}
	fields := squeueStateRe.FindAllString(out, -1)
	if len(fields) == 0 {
		return backend.JobStatusFailed, fmt.Errorf("hpc: job %s not found in squeue or sacct", handle)
	}
	return mapSlurmState(fields[0]), nil
}

func mapSlurmState(state string) backend.JobStatus {
	state = strings.ToUpper(strings.TrimSuffix(state, "+"))
	switch state {
	case "PENDING", "CONFIGURING":
		return backend.JobStatusQueued
	case "RUNNING", "COMPLETING":
		return backend.JobStatusRunning
	case "COMPLETED":
		return backend.JobStatusCompleted
	case "CANCELLED":
		return backend.JobStatusCancelled
	default:
		return backend.JobStatusFailed
	}
}

// ExitCode queries sacct for the job's recorded exit code.
func (b *Backend) ExitCode(ctx context.Context, handle string) (int, error) {
	out, err := b.runCommand(ctx, fmt.Sprintf("sacct -n -j %s -o ExitCode --parsable2", handle))
	if err != nil {
		return -1, fmt.Errorf("hpc: sacct exit code %s: %w", handle, err)
	}
	field := strings.TrimSpace(strings.SplitN(out, ":", 2)[0])
	code, err := strconv.Atoi(field)
	if err != nil {
		return -1, fmt.Errorf("hpc: parse exit code %q: %w", out, err)
	}
	return code, nil
}

// Cancel calls scancel on the job id.
func (b *Backend) Cancel(ctx context.Context, handle string) error {
	if _, err := b.runCommand(ctx, fmt.Sprintf("scancel %s", handle)); err != nil {
		return fmt.Errorf("hpc: scancel %s: %w", handle, err)
	}
	return nil
}

func batchScript(task models.Task, workDir, partition, account string) string {
	var b strings.Builder
	b.WriteString("#!/bin/bash\n")
	fmt.Fprintf(&b, "#SBATCH --job-name=%s\n", task.TaskID)
	fmt.Fprintf(&b, "#SBATCH --chdir=%s\n", workDir)
	fmt.Fprintf(&b, "#SBATCH --output=%s/stdout.log\n", workDir)
	fmt.Fprintf(&b, "#SBATCH --error=%s/stderr.log\n", workDir)
	if task.Cores > 0 {
		fmt.Fprintf(&b, "#SBATCH --cpus-per-task=%d\n", task.Cores)
	}
	if task.MemoryGB > 0 {
		fmt.Fprintf(&b, "#SBATCH --mem=%dG\n", int(task.MemoryGB))
	}
	if task.GPUs > 0 {
		fmt.Fprintf(&b, "#SBATCH --gres=gpu:%d\n", task.GPUs)
	}
	if task.TimeLimitMinutes > 0 {
		fmt.Fprintf(&b, "#SBATCH --time=%d\n", task.TimeLimitMinutes)
	}
	if partition != "" {
		fmt.Fprintf(&b, "#SBATCH --partition=%s\n", partition)
	}
	if account != "" {
		fmt.Fprintf(&b, "#SBATCH --account=%s\n", account)
	}
	for k, v := range task.Env {
		fmt.Fprintf(&b, "export %s=%s\n", k, shellQuote(v))
	}
	b.WriteString(task.Command + "\n")
	return b.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
