package sx

import "context"

// PipelineSpec describes a producer → [compressor] → [ssh] → [decompressor]
// → consumer pipeline. Producer and Consumer are the filesystem send/receive
// argv vectors; Compress selects whether the lzop stages are inserted.
type PipelineSpec struct {
	SourceEndpoint      Endpoint
	DestinationEndpoint Endpoint

	// Producer is the argv for the command run on SourceEndpoint that
	// writes the byte stream (e.g. `btrfs send [-p parent] new`).
	Producer []string

	// Consumer is the argv for the command run on DestinationEndpoint that
	// reads the byte stream (e.g. `btrfs receive dir`).
	Consumer []string

	// Compress inserts `lzop -c` after Producer (on SourceEndpoint) and
	// `lzop -d` before Consumer (on DestinationEndpoint).
	Compress bool

	// ProgressCommand, if non-empty, is a progress meter (e.g. ["pv"]) that
	// passes the stream through unchanged. When both endpoints are the same
	// host it is inserted between Producer and the compressor on
	// SourceEndpoint. When they differ it runs on the local host between the
	// source-side and destination-side stages, so with Compress set it sees
	// the compressed stream.
	ProgressCommand []string
}

// PipelineResult reports the outcome of running a PipelineSpec.
type PipelineResult struct {
	// FailedStage names the first stage (by pipeline order) that exited
	// non-zero, or "" if every stage exited zero.
	FailedStage string
	ExitCode    int
}

// PipelineRunner composes and runs a PipelineSpec, streaming bytes
// end-to-end without materializing the whole transfer on disk or in
// memory.
type PipelineRunner interface {
	// Run executes the pipeline to completion. If ctx is cancelled, the
	// producer is killed first so downstream stages can drain and EOF
	// naturally; stages still running after a short grace period are
	// killed too. Returns a non-nil error wrapping *TransferError when any
	// stage exits non-zero, or *Interrupted when ctx was cancelled.
	Run(ctx context.Context, spec PipelineSpec) (PipelineResult, error)
}
