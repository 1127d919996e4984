// Package runtime spawns debuggee processes inside isolated per-project
// containers and owns their lifecycle. The contract is deliberately narrow:
// Spawn returns a process handle with stdio pipes; Kill tears down the
// whole process group.
package runtime

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/codestep/stepd/internal/config"
)

// Process is a running debuggee with its stdio pipes attached
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	pid    int
}

// Stdin is the pipe debugger commands are written to
func (p *Process) Stdin() io.WriteCloser {
	return p.stdin
}

// Stdout is the pipe debugger responses and program output arrive on
func (p *Process) Stdout() io.ReadCloser {
	return p.stdout
}

// PID returns the spawned process ID
func (p *Process) PID() int {
	return p.pid
}

// Wait blocks until the process exits
func (p *Process) Wait() error {
	return p.cmd.Wait()
}

// Kill terminates the process and its entire process group.
// Uses platform-specific implementation (procattr_unix.go / procattr_windows.go).
func (p *Process) Kill() error {
	return killProcessGroup(p.pid, p.cmd)
}

// Runtime spawns debuggee processes via docker exec
type Runtime struct {
	cfg config.RuntimeConfig
}

// New creates a runtime from configuration
func New(cfg config.RuntimeConfig) *Runtime {
	return &Runtime{cfg: cfg}
}

// ContainerName derives the container name for a project
func (r *Runtime) ContainerName(projectID string) string {
	return r.cfg.ContainerPrefix + projectID
}

// DataDir returns the host data directory for a project
func (r *Runtime) DataDir(projectID string) string {
	return filepath.Join(r.cfg.DataDir, projectID, "data")
}

// CodePath returns the host path of a project's debuggee source file
func (r *Runtime) CodePath(projectID string) string {
	return filepath.Join(r.DataDir(projectID), r.cfg.CodeFile)
}

// WriteCode materializes project source into the container data directory
// so the debugger sees the latest stored version.
func (r *Runtime) WriteCode(projectID, code string) error {
	dir := r.DataDir(projectID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return os.WriteFile(r.CodePath(projectID), []byte(code), 0o644)
}

// ReadCode reads a project's debuggee source from the data directory
func (r *Runtime) ReadCode(projectID string) (string, error) {
	data, err := os.ReadFile(r.CodePath(projectID))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SpawnDebugger launches the debuggee under pdb inside the project's
// container, with stdin/stdout as pipes. Stderr is merged into stdout so
// tracebacks reach the parser alongside regular output.
func (r *Runtime) SpawnDebugger(ctx context.Context, projectID string) (*Process, error) {
	container := r.ContainerName(projectID)

	//nolint:gosec // G204: spawning debuggee subprocesses is this package's job
	cmd := exec.CommandContext(ctx, r.cfg.DockerPath,
		"exec", "-i", container,
		r.cfg.PythonPath, "-m", "pdb", r.cfg.CodeFile,
	)
	cmd.Env = os.Environ()
	setProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start debuggee in %s: %w", container, err)
	}

	return &Process{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		pid:    cmd.Process.Pid,
	}, nil
}
