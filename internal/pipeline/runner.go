// Package pipeline implements sx.PipelineRunner: the send | [compress] |
// ssh | [decompress] | receive byte-stream composition, piping a local
// `btrfs send` (or ssh-wrapped remote send) process's stdout through an
// optional local `pv` and into a `btrfs receive` (or ssh-wrapped remote
// receive) process's stdin.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"sxbackup-go/internal/sx"
)

// killGracePeriod is how long a cancelled pipeline's downstream stages are
// given to drain and exit on their own before being killed too.
const killGracePeriod = 3 * time.Second

// Runner is the concrete sx.PipelineRunner.
type Runner struct {
	Logger sx.Logger
}

// New returns a Runner.
func New(logger sx.Logger) *Runner {
	if logger == nil {
		logger = sx.NewNopLogger()
	}
	return &Runner{Logger: logger}
}

func (r *Runner) Run(ctx context.Context, spec sx.PipelineSpec) (sx.PipelineResult, error) {
	if spec.SourceEndpoint.SameHost(spec.DestinationEndpoint) {
		return r.runCollapsed(ctx, spec)
	}
	return r.runPiped(ctx, spec)
}

// runCollapsed handles the same-host case as a single shell invocation, so
// no bytes cross a process boundary the OS pipe buffer doesn't already
// handle.
func (r *Runner) runCollapsed(ctx context.Context, spec sx.PipelineSpec) (sx.PipelineResult, error) {
	line := r.producerLine(spec) + " | " + r.consumerLine(spec)
	if len(spec.ProgressCommand) > 0 {
		// The progress meter sits between the producer and the compressor,
		// so it measures the uncompressed send stream.
		producer := spec.SourceEndpoint.ShellQuote(spec.Producer) + " | " + shellQuoteJoin(spec.ProgressCommand)
		if spec.Compress {
			producer += " | lzop -c"
		}
		line = producer + " | " + r.consumerLine(spec)
	}

	handle, err := spec.SourceEndpoint.SpawnShell(line, sx.SpawnOptions{})
	if err != nil {
		return sx.PipelineResult{}, fmt.Errorf("spawning pipeline: %w", err)
	}

	exitCode, waitErr := waitWithCancel(ctx, handle)
	if waitErr != nil {
		return sx.PipelineResult{}, waitErr
	}
	if exitCode != 0 {
		return sx.PipelineResult{FailedStage: "pipeline", ExitCode: exitCode},
			&sx.TransferError{Stage: "pipeline", ExitCode: exitCode}
	}
	return sx.PipelineResult{}, nil
}

// runPiped handles the cross-host case: the producer and consumer each run
// as their own (possibly SSH-wrapped) shell invocation, connected through a
// local pipe with an optional local progress-meter stage in between.
func (r *Runner) runPiped(ctx context.Context, spec sx.PipelineSpec) (sx.PipelineResult, error) {
	producerRead, producerWrite := io.Pipe()

	var progress *exec.Cmd
	var progressDone chan error

	stdoutForProducer := io.Writer(producerWrite)
	stdinForConsumer := io.Reader(producerRead)

	if len(spec.ProgressCommand) > 0 {
		progressRead, progressWrite := io.Pipe()
		progress = exec.Command(spec.ProgressCommand[0], spec.ProgressCommand[1:]...)
		progress.Stdin = producerRead
		progress.Stdout = progressWrite
		progressDone = make(chan error, 1)
		if err := progress.Start(); err == nil {
			stdinForConsumer = progressRead
			go func() {
				err := progress.Wait()
				progressWrite.Close()
				progressDone <- err
			}()
		} else {
			r.Logger.Debug("progress command unavailable, continuing without it", "command", spec.ProgressCommand[0], "error", err)
			progress = nil
		}
	}

	producerHandle, err := spec.SourceEndpoint.SpawnShell(r.producerLine(spec), sx.SpawnOptions{Stdout: stdoutForProducer})
	if err != nil {
		return sx.PipelineResult{}, fmt.Errorf("spawning producer: %w", err)
	}

	consumerHandle, err := spec.DestinationEndpoint.SpawnShell(r.consumerLine(spec), sx.SpawnOptions{Stdin: stdinForConsumer})
	if err != nil {
		producerHandle.Kill()
		return sx.PipelineResult{}, fmt.Errorf("spawning consumer: %w", err)
	}

	var wg sync.WaitGroup
	var producerCode, consumerCode int
	var producerErr, consumerErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		producerCode, producerErr = producerHandle.Wait()
		producerWrite.Close()
	}()
	go func() {
		defer wg.Done()
		consumerCode, consumerErr = consumerHandle.Wait()
	}()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-ctx.Done():
		producerHandle.Kill()
		select {
		case <-done:
		case <-time.After(killGracePeriod):
			consumerHandle.Kill()
			if progress != nil {
				progress.Process.Kill()
			}
			<-done
		}
		return sx.PipelineResult{}, &sx.Interrupted{}
	case <-done:
	}

	if progress != nil {
		<-progressDone
	}

	if producerErr != nil {
		return sx.PipelineResult{}, fmt.Errorf("waiting for producer: %w", producerErr)
	}
	if consumerErr != nil {
		return sx.PipelineResult{}, fmt.Errorf("waiting for consumer: %w", consumerErr)
	}

	if producerCode != 0 {
		return sx.PipelineResult{FailedStage: "producer", ExitCode: producerCode},
			&sx.TransferError{Stage: "producer", ExitCode: producerCode}
	}
	if consumerCode != 0 {
		return sx.PipelineResult{FailedStage: "consumer", ExitCode: consumerCode},
			&sx.TransferError{Stage: "consumer", ExitCode: consumerCode}
	}
	return sx.PipelineResult{}, nil
}

// waitWithCancel waits for handle to exit, killing it if ctx is cancelled first.
func waitWithCancel(ctx context.Context, handle sx.StreamHandle) (int, error) {
	type result struct {
		code int
		err  error
	}
	done := make(chan result, 1)
	go func() {
		code, err := handle.Wait()
		done <- result{code, err}
	}()

	select {
	case <-ctx.Done():
		handle.Kill()
		<-done
		return 0, &sx.Interrupted{}
	case res := <-done:
		return res.code, res.err
	}
}

func (r *Runner) producerLine(spec sx.PipelineSpec) string {
	line := spec.SourceEndpoint.ShellQuote(spec.Producer)
	if spec.Compress {
		line += " | lzop -c"
	}
	return line
}

func (r *Runner) consumerLine(spec sx.PipelineSpec) string {
	line := spec.DestinationEndpoint.ShellQuote(spec.Consumer)
	if spec.Compress {
		line = "lzop -d | " + line
	}
	return line
}

func shellQuoteJoin(argv []string) string {
	// ProgressCommand runs locally as a bare argv with no endpoint quoting
	// rules of its own; a naive space-join is sufficient since it never
	// carries operator characters in practice ("pv").
	out := ""
	for i, a := range argv {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}
