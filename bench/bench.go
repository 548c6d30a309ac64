// Package bench runs the repair agent across a set of benchmark samples in
// parallel and aggregates the results into evaluation metrics.
package bench

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/proofloop/proofloop/agent"
)

// Sample is one benchmark entry: a Dafny program with its verification
// hints removed, plus the original for reference scoring.
type Sample struct {
	TestID       string `json:"test_id"`
	HintsRemoved string `json:"hints_removed"`
	GroundTruth  string `json:"ground_truth,omitempty"`
}

// SampleRunner runs the repair loop for one sample. *agent.Runner is the
// production implementation.
type SampleRunner interface {
	Run(ctx context.Context, sample agent.Sample) agent.Result
}

// Harness fans samples out across a bounded worker pool. Samples never
// share state; each run owns its conversation history.
type Harness struct {
	runner        SampleRunner
	taskPrompt    string
	parallelism   int
	sampleTimeout time.Duration
	logger        zerolog.Logger
}

// HarnessOption configures a Harness.
type HarnessOption func(*Harness)

// WithParallelism bounds the number of samples in flight.
func WithParallelism(n int) HarnessOption {
	return func(h *Harness) {
		if n > 0 {
			h.parallelism = n
		}
	}
}

// WithSampleTimeout sets the per-sample wall clock. A sample that exceeds
// it finishes as exhausted, not errored.
func WithSampleTimeout(d time.Duration) HarnessOption {
	return func(h *Harness) {
		if d > 0 {
			h.sampleTimeout = d
		}
	}
}

// WithTaskPrompt overrides the task message seeding each run.
func WithTaskPrompt(prompt string) HarnessOption {
	return func(h *Harness) {
		if prompt != "" {
			h.taskPrompt = prompt
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) HarnessOption {
	return func(h *Harness) { h.logger = logger }
}

// DefaultTaskPrompt seeds each run when no override is configured.
const DefaultTaskPrompt = `The Dafny program below fails to verify because its verification hints were removed. Restore the missing invariants, assertions, preconditions, postconditions, and decreases clauses using the insertion tools, then confirm with verify_dafny. Do not change any executable code.`

// NewHarness creates a Harness around a sample runner.
func NewHarness(runner SampleRunner, opts ...HarnessOption) *Harness {
	h := &Harness{
		runner:        runner,
		taskPrompt:    DefaultTaskPrompt,
		parallelism:   4,
		sampleTimeout: 15 * time.Minute,
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run evaluates every sample and returns per-sample results in input order
// plus the aggregate metrics. Cancelling ctx cancels the samples still in
// flight; completed results are kept.
func (h *Harness) Run(ctx context.Context, samples []Sample) ([]agent.Result, Metrics) {
	start := time.Now()
	results := make([]agent.Result, len(samples))

	p := pool.New().WithMaxGoroutines(h.parallelism)
	for i, sample := range samples {
		p.Go(func() {
			sampleCtx, cancel := context.WithTimeout(ctx, h.sampleTimeout)
			defer cancel()

			h.logger.Info().Str("test_id", sample.TestID).Msg("running sample")
			results[i] = h.runner.Run(sampleCtx, agent.Sample{
				ID:     sample.TestID,
				Prompt: h.taskPrompt,
				Code:   sample.HintsRemoved,
			})
		})
	}
	p.Wait()

	metrics := Aggregate(results)
	metrics.Elapsed = time.Since(start)
	h.logger.Info().
		Int("total", metrics.TotalSamples).
		Int("successful", metrics.Successful).
		Float64("accuracy", metrics.Accuracy).
		Dur("elapsed", metrics.Elapsed).
		Msg("benchmark finished")
	return results, metrics
}
