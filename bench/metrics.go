package bench

import (
	"time"

	"github.com/proofloop/proofloop/agent"
	"github.com/proofloop/proofloop/dafny"
)

// Metrics is the aggregate view over one benchmark run.
type Metrics struct {
	TotalSamples      int            `json:"total_samples"`
	Successful        int            `json:"successful"`
	Exhausted         int            `json:"exhausted"`
	Errored           int            `json:"errored"`
	Accuracy          float64        `json:"accuracy"`
	AverageAttempts   float64        `json:"average_attempts"`
	AverageIterations float64        `json:"average_iterations"`
	ErrorDistribution map[string]int `json:"error_distribution"`
	Elapsed           time.Duration  `json:"elapsed"`
}

// Aggregate folds per-sample results into metrics. Failed samples without
// a recorded category count under the catch-all bucket.
func Aggregate(results []agent.Result) Metrics {
	m := Metrics{
		TotalSamples:      len(results),
		ErrorDistribution: make(map[string]int),
	}
	if len(results) == 0 {
		return m
	}

	var attempts, iterations int
	for _, r := range results {
		attempts += r.Attempts
		iterations += r.Iterations
		switch r.Status {
		case agent.StatusSuccess:
			m.Successful++
		case agent.StatusExhausted:
			m.Exhausted++
		case agent.StatusErrored:
			m.Errored++
		}
		if r.Status != agent.StatusSuccess {
			category := r.ErrorCategory
			if category == "" {
				category = dafny.CategoryOther
			}
			m.ErrorDistribution[category]++
		}
	}

	m.Accuracy = float64(m.Successful) / float64(m.TotalSamples)
	m.AverageAttempts = float64(attempts) / float64(m.TotalSamples)
	m.AverageIterations = float64(iterations) / float64(m.TotalSamples)
	return m
}
