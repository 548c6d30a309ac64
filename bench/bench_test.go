package bench

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proofloop/proofloop/agent"
	"github.com/proofloop/proofloop/dafny"
)

// fakeRunner resolves each sample to a scripted result keyed by id.
type fakeRunner struct {
	mu       sync.Mutex
	results  map[string]agent.Result
	inFlight atomic.Int32
	peak     atomic.Int32
	block    time.Duration
	seen     []agent.Sample
}

func (f *fakeRunner) Run(ctx context.Context, sample agent.Sample) agent.Result {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if cur <= p || f.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	if f.block > 0 {
		select {
		case <-time.After(f.block):
		case <-ctx.Done():
			return agent.Result{SampleID: sample.ID, Status: agent.StatusExhausted}
		}
	}

	f.mu.Lock()
	f.seen = append(f.seen, sample)
	f.mu.Unlock()

	if res, ok := f.results[sample.ID]; ok {
		return res
	}
	return agent.Result{SampleID: sample.ID, Status: agent.StatusSuccess, Attempts: 1, Iterations: 2}
}

func TestHarnessRunsAllSamplesInOrder(t *testing.T) {
	runner := &fakeRunner{results: map[string]agent.Result{
		"b": {SampleID: "b", Status: agent.StatusExhausted, ErrorCategory: dafny.CategoryInvariant, Attempts: 3, Iterations: 5},
	}}
	h := NewHarness(runner, WithParallelism(2))

	samples := []Sample{
		{TestID: "a", HintsRemoved: "method A() {}"},
		{TestID: "b", HintsRemoved: "method B() {}"},
		{TestID: "c", HintsRemoved: "method C() {}"},
	}
	results, metrics := h.Run(context.Background(), samples)

	require.Len(t, results, 3)
	assert.Equal(t, "a", results[0].SampleID)
	assert.Equal(t, "b", results[1].SampleID)
	assert.Equal(t, "c", results[2].SampleID)

	assert.Equal(t, 3, metrics.TotalSamples)
	assert.Equal(t, 2, metrics.Successful)
	assert.Equal(t, 1, metrics.Exhausted)
	assert.InDelta(t, 2.0/3.0, metrics.Accuracy, 1e-9)
	assert.Equal(t, map[string]int{dafny.CategoryInvariant: 1}, metrics.ErrorDistribution)

	// Every sample was seeded with the task prompt and its own code.
	for _, s := range runner.seen {
		assert.Equal(t, DefaultTaskPrompt, s.Prompt)
		assert.NotEmpty(t, s.Code)
	}
}

func TestHarnessBoundsParallelism(t *testing.T) {
	runner := &fakeRunner{block: 30 * time.Millisecond}
	h := NewHarness(runner, WithParallelism(2))

	samples := make([]Sample, 8)
	for i := range samples {
		samples[i] = Sample{TestID: string(rune('a' + i)), HintsRemoved: "method M() {}"}
	}
	h.Run(context.Background(), samples)

	assert.LessOrEqual(t, runner.peak.Load(), int32(2))
}

func TestHarnessSampleTimeout(t *testing.T) {
	runner := &fakeRunner{block: time.Minute}
	h := NewHarness(runner, WithParallelism(1), WithSampleTimeout(20*time.Millisecond))

	results, metrics := h.Run(context.Background(), []Sample{{TestID: "slow", HintsRemoved: "method M() {}"}})

	require.Len(t, results, 1)
	assert.Equal(t, agent.StatusExhausted, results[0].Status)
	assert.Equal(t, 1, metrics.Exhausted)
}

func TestAggregateEmpty(t *testing.T) {
	m := Aggregate(nil)
	assert.Equal(t, 0, m.TotalSamples)
	assert.Zero(t, m.Accuracy)
	assert.NotNil(t, m.ErrorDistribution)
}

func TestAggregateAverages(t *testing.T) {
	m := Aggregate([]agent.Result{
		{Status: agent.StatusSuccess, Attempts: 1, Iterations: 3},
		{Status: agent.StatusSuccess, Attempts: 3, Iterations: 5},
		{Status: agent.StatusErrored, Err: errors.New("boom")},
	})
	assert.Equal(t, 2, m.Successful)
	assert.Equal(t, 1, m.Errored)
	assert.InDelta(t, 4.0/3.0, m.AverageAttempts, 1e-9)
	assert.InDelta(t, 8.0/3.0, m.AverageIterations, 1e-9)
	assert.Equal(t, 1, m.ErrorDistribution[dafny.CategoryOther])
}
