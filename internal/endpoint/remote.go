package endpoint

import (
	"bytes"
	"fmt"
	"os/exec"
	"strconv"

	"sxbackup-go/internal/sx"
)

// Remote runs commands on a host reachable over SSH, shelling out to the
// `ssh` binary.
type Remote struct {
	User string
	Host string
	Port int // 0 means the client's default
}

// NewRemote returns a Remote endpoint.
func NewRemote(user, host string, port int) *Remote {
	return &Remote{User: user, Host: host, Port: port}
}

func (r *Remote) String() string {
	host := r.Host
	if r.Port != 0 {
		host = fmt.Sprintf("%s:%d", r.Host, r.Port)
	}
	if r.User == "" {
		return fmt.Sprintf("ssh://%s", host)
	}
	return fmt.Sprintf("ssh://%s@%s", r.User, host)
}

func (r *Remote) ShellQuote(argv []string) string { return shellQuote(argv) }

func (r *Remote) SameHost(other sx.Endpoint) bool {
	o, ok := other.(*Remote)
	if !ok {
		return false
	}
	return r.Host == o.Host && r.Port == o.Port
}

// sshArgs builds the ssh invocation prefix per shell.py's
// build_subprocess_args: keepalive options plus an optional user@host.
func (r *Remote) sshArgs() []string {
	args := []string{"ssh", "-o", "ServerAliveInterval=5", "-o", "ServerAliveCountMax=3"}
	if r.Port != 0 {
		args = append(args, "-p", strconv.Itoa(r.Port))
	}
	if r.User != "" {
		args = append(args, fmt.Sprintf("%s@%s", r.User, r.Host))
	} else {
		args = append(args, r.Host)
	}
	return args
}

func (r *Remote) Exec(argv []string) ([]byte, error) {
	full := append(r.sshArgs(), shellQuote(argv))
	cmd := exec.Command(full[0], full[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return stdout.Bytes(), &sx.EndpointError{
			Endpoint: r.String(),
			Argv:     argv,
			ExitCode: exitCode(err),
			Stderr:   stderr.String(),
		}
	}
	return stdout.Bytes(), nil
}

func (r *Remote) Spawn(argv []string, opts sx.SpawnOptions) (sx.StreamHandle, error) {
	return r.SpawnShell(shellQuote(argv), opts)
}

func (r *Remote) SpawnShell(cmdLine string, opts sx.SpawnOptions) (sx.StreamHandle, error) {
	full := append(r.sshArgs(), cmdLine)
	cmd := exec.Command(full[0], full[1:]...)
	cmd.Stdin = opts.Stdin
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawning %q on %s: %w", cmdLine, r.String(), err)
	}
	return &processHandle{cmd: cmd}, nil
}
