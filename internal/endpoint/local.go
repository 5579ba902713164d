package endpoint

import (
	"bytes"
	"fmt"
	"os/exec"

	"sxbackup-go/internal/sx"
)

// Local runs commands directly on the current host via `bash -c`.
type Local struct{}

// NewLocal returns a Local endpoint.
func NewLocal() *Local { return &Local{} }

func (l *Local) String() string { return "local" }

func (l *Local) ShellQuote(argv []string) string { return shellQuote(argv) }

func (l *Local) SameHost(other sx.Endpoint) bool {
	_, ok := other.(*Local)
	return ok
}

func (l *Local) Exec(argv []string) ([]byte, error) {
	cmd := exec.Command("bash", "-c", shellQuote(argv))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return stdout.Bytes(), &sx.EndpointError{
			Endpoint: l.String(),
			Argv:     argv,
			ExitCode: exitCode(err),
			Stderr:   stderr.String(),
		}
	}
	return stdout.Bytes(), nil
}

func (l *Local) Spawn(argv []string, opts sx.SpawnOptions) (sx.StreamHandle, error) {
	return l.SpawnShell(shellQuote(argv), opts)
}

func (l *Local) SpawnShell(cmdLine string, opts sx.SpawnOptions) (sx.StreamHandle, error) {
	cmd := exec.Command("bash", "-c", cmdLine)
	cmd.Stdin = opts.Stdin
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawning %q on %s: %w", cmdLine, l.String(), err)
	}
	return &processHandle{cmd: cmd}, nil
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		return exitErr.ExitCode()
	}
	return -1
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}
	return ok
}

// processHandle adapts *exec.Cmd to sx.StreamHandle.
type processHandle struct {
	cmd *exec.Cmd
}

func (h *processHandle) Wait() (int, error) {
	err := h.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if asExitError(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

func (h *processHandle) Kill() error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Kill()
}
