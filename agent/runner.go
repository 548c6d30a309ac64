package agent

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/proofloop/proofloop/dafny"
	"github.com/proofloop/proofloop/llm"
)

// Status is the terminal state of one sample run.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusExhausted Status = "exhausted"
	StatusErrored   Status = "errored"
)

// Sample is the unit of work: one file under repair plus its task prompt.
type Sample struct {
	ID     string
	Prompt string
	Code   string // seed source with hints removed
}

// Result is the outcome of one sample run. History is the complete
// conversation, handed off for external persistence.
type Result struct {
	SampleID      string        `json:"sample_id"`
	Status        Status        `json:"status"`
	Iterations    int           `json:"iterations"` // model invocations
	Attempts      int           `json:"attempts"`   // verify tool calls
	FinalCode     string        `json:"final_code"`
	ErrorCategory string        `json:"error_category,omitempty"` // set on failed runs
	Elapsed       time.Duration `json:"elapsed"`
	Err           error         `json:"-"`
	History       History       `json:"-"`
}

// Config holds per-runner settings. Zero values fall back to defaults.
type Config struct {
	Model         string
	MaxIterations int
	MaxTokens     int
	SystemPrompt  string
}

// DefaultConfig returns the default runner configuration.
func DefaultConfig() Config {
	return Config{
		MaxIterations: 10,
		MaxTokens:     8192,
		SystemPrompt:  DefaultSystemPrompt,
	}
}

// Runner drives the repair loop for samples. One Runner may serve many
// samples sequentially or concurrently: all per-run state lives on the
// stack of Run.
type Runner struct {
	client     *llm.Client
	dispatcher *Dispatcher
	verifier   CodeVerifier
	config     Config
	emitter    *EventEmitter
	logger     zerolog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRunnerLogger sets the logger.
func WithRunnerLogger(logger zerolog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

// WithEmitter sets a shared event emitter (for hosts running many samples
// into one persistence stream).
func WithEmitter(emitter *EventEmitter) RunnerOption {
	return func(r *Runner) { r.emitter = emitter }
}

// NewRunner creates a Runner around a model client and a verifier.
func NewRunner(client *llm.Client, verifier CodeVerifier, config Config, opts ...RunnerOption) *Runner {
	if config.MaxIterations <= 0 {
		config.MaxIterations = DefaultConfig().MaxIterations
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = DefaultConfig().MaxTokens
	}
	if config.SystemPrompt == "" {
		config.SystemPrompt = DefaultSystemPrompt
	}
	r := &Runner{
		client:   client,
		verifier: verifier,
		config:   config,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.emitter == nil {
		r.emitter = NewEventEmitter(256)
	}
	r.dispatcher = NewDispatcher(verifier, r.emitter, r.logger)
	return r
}

// Events returns the event channel feeding artifact and conversation-log
// persistence.
func (r *Runner) Events() <-chan Event {
	return r.emitter.Events()
}

// CloseEvents closes the event channel once no more samples will run.
func (r *Runner) CloseEvents() {
	r.emitter.Close()
}

// Run executes the repair loop for one sample until verification succeeds,
// the iteration budget is exhausted, or a fatal error occurs. The loop
// blocks on the model call and the verifier call; there is no overlap
// within a sample. Cancellation of ctx (the per-sample wall clock) ends
// the run as exhausted.
func (r *Runner) Run(ctx context.Context, sample Sample) Result {
	start := time.Now()
	logger := r.logger.With().Str("sample_id", sample.ID).Logger()
	logger.Info().Int("max_iterations", r.config.MaxIterations).Msg("starting sample")

	history := History{
		NewSeedTurn(sample.Prompt),
		NewStateTurn(sample.Code, "Initial code state."),
	}
	r.emitter.Emit(sample.ID, EventRunStart, map[string]interface{}{
		"model": r.config.Model,
	})

	toolDefs := ToolDefinitions()

	var (
		iterations   int
		attempts     int
		verified     bool
		verifiedCode string
		endTurnRun   int // consecutive end-turns without a success
	)

	finish := func(status Status, errCategory string, err error) Result {
		finalCode := verifiedCode
		if !verified {
			if code, ok := history.Snapshot(); ok {
				finalCode = code
			} else {
				finalCode = sample.Code
			}
		}
		res := Result{
			SampleID:      sample.ID,
			Status:        status,
			Iterations:    iterations,
			Attempts:      attempts,
			FinalCode:     finalCode,
			ErrorCategory: errCategory,
			Elapsed:       time.Since(start),
			Err:           err,
			History:       history,
		}
		r.emitter.Emit(sample.ID, EventRunEnd, map[string]interface{}{
			"status":     string(status),
			"iterations": iterations,
			"attempts":   attempts,
			"history":    history,
		})
		logger.Info().
			Str("status", string(status)).
			Int("iterations", iterations).
			Int("attempts", attempts).
			Dur("elapsed", res.Elapsed).
			Msg("sample finished")
		return res
	}

	for iterations < r.config.MaxIterations {
		select {
		case <-ctx.Done():
			return finish(StatusExhausted, r.categorizeFinal(history), nil)
		default:
		}

		if err := history.CheckPairing(); err != nil {
			r.emitter.Emit(sample.ID, EventError, map[string]interface{}{"error": err.Error()})
			return finish(StatusErrored, "", err)
		}

		maxTokens := r.config.MaxTokens
		request := llm.Request{
			Model:      r.config.Model,
			Messages:   append([]llm.Message{llm.SystemMessage(r.config.SystemPrompt)}, history.Messages()...),
			ToolDefs:   toolDefs,
			ToolChoice: &llm.ToolChoice{Mode: "auto"},
			MaxTokens:  &maxTokens,
		}

		response, err := r.client.Complete(ctx, request)
		iterations++
		if err != nil {
			if ctx.Err() != nil {
				// The per-sample wall clock expired mid-call.
				return finish(StatusExhausted, r.categorizeFinal(history), nil)
			}
			// A model API failure is fatal for the sample: no internal retry.
			infra := &InfrastructureError{Op: "model call", Cause: err}
			r.emitter.Emit(sample.ID, EventError, map[string]interface{}{"error": infra.Error()})
			logger.Error().Err(err).Msg("model call failed")
			return finish(StatusErrored, "", infra)
		}

		toolCalls := response.ToolCalls()
		history = append(history, NewAssistantTurn(response.Text(), toolCalls, response.Usage, response.ID))
		r.emitter.Emit(sample.ID, EventModelResponse, map[string]interface{}{
			"iteration":  iterations,
			"stop":       string(response.StopReason()),
			"tool_calls": len(toolCalls),
		})

		switch response.StopReason() {
		case llm.StopToolUse:
			endTurnRun = 0

			outcome, err := r.dispatcher.Execute(ctx, history, toolCalls, sample.ID, attempts)
			attempts = outcome.attempts
			if err != nil {
				history = append(history, NewToolResultsTurn(outcome.results))
				if ctx.Err() != nil {
					// The per-sample wall clock expired mid-turn; the failed
					// verifier launch is a symptom, not an infrastructure
					// fault.
					return finish(StatusExhausted, r.categorizeFinal(history), nil)
				}
				r.emitter.Emit(sample.ID, EventError, map[string]interface{}{"error": err.Error()})
				return finish(StatusErrored, "", err)
			}

			// All results land in one combined turn, appended before any
			// snapshot commit, to preserve the pairing discipline.
			history = append(history, NewToolResultsTurn(outcome.results))
			if outcome.hasNewCode {
				history = history.WithSnapshot(outcome.latestCode, "State updated after hint insertion.")
				r.emitter.Emit(sample.ID, EventStateCommit, nil)
			}
			if outcome.verified {
				verified = true
				verifiedCode = outcome.verifiedCode
			}

		case llm.StopEndTurn:
			if verified {
				return finish(StatusSuccess, "", nil)
			}
			endTurnRun++
			if endTurnRun >= 2 {
				logger.Info().Msg("model ended turn twice without success")
				return finish(StatusExhausted, r.categorizeFinal(history), nil)
			}
			// Grace step: one extra continuation so the model can respond to
			// the most recent outcome before the loop gives up.
			r.emitter.Emit(sample.ID, EventGraceStep, nil)
			logger.Debug().Msg("end turn without success; granting grace step")

		default:
			err := &ProtocolError{Message: "model returned unexpected stop reason " + string(response.StopReason())}
			r.emitter.Emit(sample.ID, EventError, map[string]interface{}{"error": err.Error()})
			return finish(StatusErrored, "", err)
		}
	}

	if verified {
		// Verification is ground truth even when the budget ran out before
		// the model could acknowledge it.
		return finish(StatusSuccess, "", nil)
	}
	return finish(StatusExhausted, r.categorizeFinal(history), nil)
}

// categorizeFinal runs one last verification on the final snapshot so a
// failed result carries a fine-grained error category. Attempt counting
// and artifact emission are untouched; this is diagnosis, not an attempt.
func (r *Runner) categorizeFinal(history History) string {
	code, ok := history.Snapshot()
	if !ok || r.verifier == nil {
		return dafny.CategoryOther
	}
	outcome, err := r.verifier.Verify(context.Background(), code)
	if err != nil || outcome.Verified() {
		return dafny.CategoryOther
	}
	if outcome.Category != "" {
		return outcome.Category
	}
	return dafny.Categorize(outcome.Diagnostics)
}
