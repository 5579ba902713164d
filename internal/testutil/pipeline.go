package testutil

import (
	"context"

	"sxbackup-go/internal/sx"
)

// MockPipelineRunner is a no-op sx.PipelineRunner. It records every spec it
// was asked to run and returns the queued result/error, defaulting to
// success.
type MockPipelineRunner struct {
	Specs []sx.PipelineSpec

	Err    error
	Result sx.PipelineResult
}

func NewMockPipelineRunner() *MockPipelineRunner {
	return &MockPipelineRunner{}
}

func (r *MockPipelineRunner) Run(ctx context.Context, spec sx.PipelineSpec) (sx.PipelineResult, error) {
	r.Specs = append(r.Specs, spec)
	return r.Result, r.Err
}

var _ sx.PipelineRunner = (*MockPipelineRunner)(nil)
