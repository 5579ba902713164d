package testutil

import (
	"fmt"
	"io"
	"sync"

	"sxbackup-go/internal/sx"
)

// MockStreamHandle is a no-op sx.StreamHandle for spawn calls that tests
// don't need to actually drive. Wait returns ExitCode/WaitErr immediately
// unless constructed via NewBlockingStreamHandle, in which case it blocks
// until Kill is called, simulating a process that only exits once signalled.
type MockStreamHandle struct {
	ExitCode int
	WaitErr  error

	killOnce sync.Once
	killed   chan struct{}
}

// NewBlockingStreamHandle returns a handle whose Wait blocks until Kill is
// called, then returns exitCode/waitErr.
func NewBlockingStreamHandle(exitCode int, waitErr error) *MockStreamHandle {
	return &MockStreamHandle{ExitCode: exitCode, WaitErr: waitErr, killed: make(chan struct{})}
}

func (h *MockStreamHandle) Wait() (int, error) {
	if h.killed != nil {
		<-h.killed
	}
	return h.ExitCode, h.WaitErr
}

func (h *MockStreamHandle) Kill() error {
	if h.killed != nil {
		h.killOnce.Do(func() { close(h.killed) })
	}
	return nil
}

// MockEndpoint is a no-op sx.Endpoint identified by Name. Two MockEndpoints
// are SameHost when their Names match. Exec/Spawn/SpawnShell record every
// call in Calls. Exec and SpawnShell return the canned results queued via
// QueueExec and QueueSpawnShell/QueueSpawnShellHandle respectively, or a
// zero result if nothing was queued; Spawn always returns a handle that
// exits 0.
type MockEndpoint struct {
	Name  string
	Calls []string

	// LastSpawnStdin captures whatever was written to the Stdin reader of
	// the most recent Spawn call, so tests can inspect what a command like
	// "tee" would have received.
	LastSpawnStdin []byte

	execResults       []execResult
	spawnShellResults []spawnShellResult
}

type execResult struct {
	stdout []byte
	err    error
}

type spawnShellResult struct {
	handle *MockStreamHandle
	err    error
}

func NewMockEndpoint(name string) *MockEndpoint {
	return &MockEndpoint{Name: name}
}

// QueueExec enqueues the result of the next Exec call.
func (e *MockEndpoint) QueueExec(stdout []byte, err error) {
	e.execResults = append(e.execResults, execResult{stdout: stdout, err: err})
}

func (e *MockEndpoint) Exec(argv []string) ([]byte, error) {
	e.Calls = append(e.Calls, e.ShellQuote(argv))
	if len(e.execResults) == 0 {
		return nil, nil
	}
	r := e.execResults[0]
	e.execResults = e.execResults[1:]
	return r.stdout, r.err
}

func (e *MockEndpoint) Spawn(argv []string, opts sx.SpawnOptions) (sx.StreamHandle, error) {
	e.Calls = append(e.Calls, e.ShellQuote(argv))
	if opts.Stdin != nil {
		buf, err := io.ReadAll(opts.Stdin)
		if err != nil {
			return nil, err
		}
		e.LastSpawnStdin = buf
	}
	return &MockStreamHandle{}, nil
}

// QueueSpawnShell enqueues the result of the next SpawnShell call.
func (e *MockEndpoint) QueueSpawnShell(exitCode int, waitErr, spawnErr error) {
	e.spawnShellResults = append(e.spawnShellResults, spawnShellResult{
		handle: &MockStreamHandle{ExitCode: exitCode, WaitErr: waitErr},
		err:    spawnErr,
	})
}

// QueueSpawnShellHandle enqueues a caller-constructed handle for the next
// SpawnShell call, e.g. one built with NewBlockingStreamHandle.
func (e *MockEndpoint) QueueSpawnShellHandle(handle *MockStreamHandle) {
	e.spawnShellResults = append(e.spawnShellResults, spawnShellResult{handle: handle})
}

func (e *MockEndpoint) SpawnShell(cmdLine string, opts sx.SpawnOptions) (sx.StreamHandle, error) {
	e.Calls = append(e.Calls, cmdLine)
	if len(e.spawnShellResults) == 0 {
		return &MockStreamHandle{}, nil
	}
	r := e.spawnShellResults[0]
	e.spawnShellResults = e.spawnShellResults[1:]
	if r.err != nil {
		return nil, r.err
	}
	return r.handle, nil
}

func (e *MockEndpoint) ShellQuote(argv []string) string {
	s := ""
	for i, a := range argv {
		if i > 0 {
			s += " "
		}
		s += a
	}
	return s
}

func (e *MockEndpoint) String() string { return fmt.Sprintf("mock://%s", e.Name) }

func (e *MockEndpoint) SameHost(other sx.Endpoint) bool {
	o, ok := other.(*MockEndpoint)
	return ok && o.Name == e.Name
}

var _ sx.Endpoint = (*MockEndpoint)(nil)
