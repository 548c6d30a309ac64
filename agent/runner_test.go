package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proofloop/proofloop/dafny"
	"github.com/proofloop/proofloop/llm"
)

// scriptedAdapter plays back canned responses, one per model invocation.
type scriptedAdapter struct {
	responses []*llm.Response
	err       error
	calls     int
	requests  []llm.Request
}

func (a *scriptedAdapter) Name() string { return "mock" }

func (a *scriptedAdapter) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	a.requests = append(a.requests, req)
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	i := a.calls - 1
	if i >= len(a.responses) {
		i = len(a.responses) - 1
	}
	return a.responses[i], nil
}

func toolUseResponse(id string, calls ...llm.ToolCall) *llm.Response {
	msg := llm.Message{Role: llm.RoleAssistant}
	for _, c := range calls {
		msg.Content = append(msg.Content, llm.ToolCallPart(c.ID, c.Name, c.Arguments))
	}
	return &llm.Response{ID: id, Model: "mock-model", Provider: "mock", Message: msg, Finish: "tool_calls"}
}

func endTurnResponse(id, text string) *llm.Response {
	return &llm.Response{
		ID: id, Model: "mock-model", Provider: "mock",
		Message: llm.AssistantMessage(text),
		Finish:  "stop",
	}
}

func newTestRunner(adapter llm.ProviderAdapter, verifier CodeVerifier, config Config) *Runner {
	client := llm.NewClient(llm.WithProvider("mock", adapter))
	return NewRunner(client, verifier, config)
}

const runnerSeed = `method Sum(n: int) returns (s: int)
  requires n >= 0
{
  s := 0;
  var i := 0;
  while i < n
  {
    s := s + i;
    i := i + 1;
  }
}`

// The model inserts one invariant by context, verifies on the next turn,
// and ends: the canonical happy path.
func TestRunContextInsertionThenVerified(t *testing.T) {
	adapter := &scriptedAdapter{responses: []*llm.Response{
		toolUseResponse("r1", call("c1", ToolInsertInvariant,
			`{"invariant": "0 <= i <= n", "context_before": "while i < n"}`)),
		toolUseResponse("r2", call("c2", ToolVerify, "{}")),
		endTurnResponse("r3", "The program verifies."),
	}}
	verifier := &scriptedVerifier{outcomes: []dafny.Outcome{verifiedOutcome()}}
	runner := newTestRunner(adapter, verifier, Config{MaxIterations: 10})

	res := runner.Run(context.Background(), Sample{ID: "s1", Prompt: "restore the hints", Code: runnerSeed})

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, 1, res.Attempts)
	assert.NoError(t, res.Err)

	// The clause landed right after the loop header with its indentation.
	lines := strings.Split(res.FinalCode, "\n")
	require.Greater(t, len(lines), 6)
	assert.Equal(t, "  invariant 0 <= i <= n", lines[6])

	// The verifier saw the committed snapshot, invariant included.
	require.Len(t, verifier.codes, 1)
	assert.Contains(t, verifier.codes[0], "invariant 0 <= i <= n")

	require.NoError(t, res.History.CheckPairing())
}

// An out-of-range line number is a recoverable tool error: the loop keeps
// going and nothing is committed.
func TestRunOutOfRangeInsertionRecovers(t *testing.T) {
	adapter := &scriptedAdapter{responses: []*llm.Response{
		toolUseResponse("r1", call("c1", ToolInsertAssertion,
			`{"assertion": "true", "line_number": 999}`)),
		endTurnResponse("r2", "giving up"),
		endTurnResponse("r3", "still giving up"),
	}}
	verifier := &scriptedVerifier{outcomes: []dafny.Outcome{failedOutcome()}}
	runner := newTestRunner(adapter, verifier, Config{MaxIterations: 10})

	res := runner.Run(context.Background(), Sample{ID: "s2", Prompt: "restore the hints", Code: runnerSeed})

	assert.Equal(t, StatusExhausted, res.Status)
	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, 0, res.Attempts)
	assert.Equal(t, runnerSeed, res.FinalCode, "failed insertion must not mutate the snapshot")

	var resolveErr string
	stateTurns := 0
	for _, turn := range res.History {
		switch turn.Kind {
		case TurnToolResults:
			require.Len(t, turn.ToolResults.Results, 1)
			assert.True(t, turn.ToolResults.Results[0].IsError)
			resolveErr = turn.ToolResults.Results[0].Content
		case TurnState:
			stateTurns++
		}
	}
	assert.Contains(t, resolveErr, "out of range")
	assert.Equal(t, 1, stateTurns, "only the initial state turn; no commit expected")
}

// The iteration budget is exhausted while the verifier keeps rejecting.
func TestRunExhaustsIterationBudget(t *testing.T) {
	adapter := &scriptedAdapter{responses: []*llm.Response{
		toolUseResponse("r1", call("c1", ToolVerify, "{}")),
	}}
	verifier := &scriptedVerifier{outcomes: []dafny.Outcome{failedOutcome()}}
	runner := newTestRunner(adapter, verifier, Config{MaxIterations: 3})

	res := runner.Run(context.Background(), Sample{ID: "s3", Prompt: "restore the hints", Code: runnerSeed})

	assert.Equal(t, StatusExhausted, res.Status)
	assert.Equal(t, 3, res.Iterations, "exactly max_iterations model invocations")
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, runnerSeed, res.FinalCode, "final artifact is the last attempted snapshot")
	assert.Equal(t, dafny.CategoryInvariant, res.ErrorCategory)
}

// A successful insertion commits a fresh state turn that the projection
// returns as the current snapshot.
func TestRunCommitsStateTurnAfterInsertion(t *testing.T) {
	adapter := &scriptedAdapter{responses: []*llm.Response{
		toolUseResponse("r1", call("c1", ToolInsertInvariant,
			`{"invariant": "0 <= i", "context_before": "while i < n"}`)),
		endTurnResponse("r2", "done"),
		endTurnResponse("r3", "done"),
	}}
	verifier := &scriptedVerifier{outcomes: []dafny.Outcome{failedOutcome()}}
	runner := newTestRunner(adapter, verifier, Config{MaxIterations: 10})

	res := runner.Run(context.Background(), Sample{ID: "s4", Prompt: "restore the hints", Code: runnerSeed})

	code, ok := res.History.Snapshot()
	require.True(t, ok)
	assert.Contains(t, code, "invariant 0 <= i")
	assert.Equal(t, code, res.FinalCode)
}

// One end-turn without success earns a grace continuation; a second in a
// row terminates the run.
func TestRunGraceStep(t *testing.T) {
	adapter := &scriptedAdapter{responses: []*llm.Response{
		endTurnResponse("r1", "looks fine to me"),
		endTurnResponse("r2", "nothing more to do"),
	}}
	runner := newTestRunner(adapter, &scriptedVerifier{outcomes: []dafny.Outcome{failedOutcome()}}, Config{MaxIterations: 10})

	res := runner.Run(context.Background(), Sample{ID: "s5", Prompt: "restore the hints", Code: runnerSeed})

	assert.Equal(t, StatusExhausted, res.Status)
	assert.Equal(t, 2, res.Iterations)
}

// Tool use between end-turns resets the grace counter.
func TestRunGraceStepResetsOnToolUse(t *testing.T) {
	adapter := &scriptedAdapter{responses: []*llm.Response{
		endTurnResponse("r1", "checking"),
		toolUseResponse("r2", call("c1", ToolVerify, "{}")),
		endTurnResponse("r3", "hmm"),
		endTurnResponse("r4", "done"),
	}}
	verifier := &scriptedVerifier{outcomes: []dafny.Outcome{failedOutcome()}}
	runner := newTestRunner(adapter, verifier, Config{MaxIterations: 10})

	res := runner.Run(context.Background(), Sample{ID: "s6", Prompt: "restore the hints", Code: runnerSeed})

	assert.Equal(t, StatusExhausted, res.Status)
	assert.Equal(t, 4, res.Iterations)
	assert.Equal(t, 1, res.Attempts)
}

// Success is recognized when the model ends its turn after a verified
// attempt.
func TestRunVerifiedThenEndTurn(t *testing.T) {
	adapter := &scriptedAdapter{responses: []*llm.Response{
		toolUseResponse("r1", call("c1", ToolVerify, "{}")),
		endTurnResponse("r2", "verified"),
	}}
	verifier := &scriptedVerifier{outcomes: []dafny.Outcome{verifiedOutcome()}}
	runner := newTestRunner(adapter, verifier, Config{MaxIterations: 10})

	res := runner.Run(context.Background(), Sample{ID: "s7", Prompt: "restore the hints", Code: runnerSeed})

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, runnerSeed, res.FinalCode)
}

// Verification is ground truth: a success right before the budget runs out
// still counts even though the model never got to acknowledge it.
func TestRunVerifiedAtBudgetBoundary(t *testing.T) {
	adapter := &scriptedAdapter{responses: []*llm.Response{
		toolUseResponse("r1", call("c1", ToolVerify, "{}")),
	}}
	verifier := &scriptedVerifier{outcomes: []dafny.Outcome{verifiedOutcome()}}
	runner := newTestRunner(adapter, verifier, Config{MaxIterations: 1})

	res := runner.Run(context.Background(), Sample{ID: "s8", Prompt: "restore the hints", Code: runnerSeed})

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 1, res.Iterations)
}

// A model API failure aborts the sample with no internal retry.
func TestRunModelFailureIsFatal(t *testing.T) {
	adapter := &scriptedAdapter{err: errors.New("connection refused")}
	runner := newTestRunner(adapter, &scriptedVerifier{outcomes: []dafny.Outcome{failedOutcome()}}, Config{MaxIterations: 10})

	res := runner.Run(context.Background(), Sample{ID: "s9", Prompt: "restore the hints", Code: runnerSeed})

	assert.Equal(t, StatusErrored, res.Status)
	assert.Equal(t, 1, adapter.calls)
	require.Error(t, res.Err)
	assert.True(t, IsFatal(res.Err))
}

// An unexpected stop reason is a protocol violation.
func TestRunUnexpectedStopReason(t *testing.T) {
	truncated := &llm.Response{
		ID: "r1", Model: "mock-model", Provider: "mock",
		Message: llm.AssistantMessage("partial"),
		Finish:  "length",
	}
	adapter := &scriptedAdapter{responses: []*llm.Response{truncated}}
	runner := newTestRunner(adapter, &scriptedVerifier{outcomes: []dafny.Outcome{failedOutcome()}}, Config{MaxIterations: 10})

	res := runner.Run(context.Background(), Sample{ID: "s10", Prompt: "restore the hints", Code: runnerSeed})

	assert.Equal(t, StatusErrored, res.Status)
	var perr *ProtocolError
	require.ErrorAs(t, res.Err, &perr)
}

// A verify failure caused by a fatal verifier fault still hands off a
// history that satisfies the pairing discipline.
func TestRunFatalVerifyErrorKeepsPairing(t *testing.T) {
	adapter := &scriptedAdapter{responses: []*llm.Response{
		toolUseResponse("r1",
			call("c1", ToolInsertInvariant, `{"invariant": "0 <= i", "context_before": "while i < n"}`),
			call("c2", ToolVerify, "{}")),
	}}
	verifier := &scriptedVerifier{err: errors.New("executable file not found")}
	runner := newTestRunner(adapter, verifier, Config{MaxIterations: 10})

	res := runner.Run(context.Background(), Sample{ID: "s14", Prompt: "restore the hints", Code: runnerSeed})

	assert.Equal(t, StatusErrored, res.Status)
	require.Error(t, res.Err)
	assert.True(t, IsFatal(res.Err))
	require.NoError(t, res.History.CheckPairing())

	last := res.History[len(res.History)-1]
	require.Equal(t, TurnToolResults, last.Kind)
	assert.Len(t, last.ToolResults.Results, 2)
}

// cancellingAdapter expires the per-sample wall clock while answering, so
// the turn's tool execution runs against a dead context.
type cancellingAdapter struct {
	cancel   context.CancelFunc
	response *llm.Response
}

func (a *cancellingAdapter) Name() string { return "mock" }

func (a *cancellingAdapter) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	a.cancel()
	return a.response, nil
}

// Wall-clock expiry between the model response and the verifier launch is
// exhaustion, not an infrastructure fault.
func TestRunWallClockExpiryMidTurnIsExhausted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	adapter := &cancellingAdapter{
		cancel:   cancel,
		response: toolUseResponse("r1", call("c1", ToolVerify, "{}")),
	}
	verifier := &scriptedVerifier{err: context.Canceled}
	runner := newTestRunner(adapter, verifier, Config{MaxIterations: 10})

	res := runner.Run(ctx, Sample{ID: "s15", Prompt: "restore the hints", Code: runnerSeed})

	assert.Equal(t, StatusExhausted, res.Status)
	assert.NoError(t, res.Err)
	require.NoError(t, res.History.CheckPairing())
}

// Cancellation of the per-sample context ends the run as exhausted.
func TestRunContextCancellation(t *testing.T) {
	adapter := &scriptedAdapter{responses: []*llm.Response{
		toolUseResponse("r1", call("c1", ToolVerify, "{}")),
	}}
	verifier := &scriptedVerifier{outcomes: []dafny.Outcome{failedOutcome()}}
	runner := newTestRunner(adapter, verifier, Config{MaxIterations: 100})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := runner.Run(ctx, Sample{ID: "s11", Prompt: "restore the hints", Code: runnerSeed})

	assert.Equal(t, StatusExhausted, res.Status)
	assert.Equal(t, 0, res.Iterations)
	assert.Equal(t, runnerSeed, res.FinalCode)
}

// Every request carries the system prompt first, then the rendered history.
func TestRunRequestShape(t *testing.T) {
	adapter := &scriptedAdapter{responses: []*llm.Response{
		endTurnResponse("r1", "ok"),
		endTurnResponse("r2", "ok"),
	}}
	runner := newTestRunner(adapter, &scriptedVerifier{outcomes: []dafny.Outcome{failedOutcome()}}, Config{MaxIterations: 10})

	runner.Run(context.Background(), Sample{ID: "s12", Prompt: "restore the hints", Code: runnerSeed})

	require.NotEmpty(t, adapter.requests)
	first := adapter.requests[0]
	require.GreaterOrEqual(t, len(first.Messages), 3)
	assert.Equal(t, llm.RoleSystem, first.Messages[0].Role)
	assert.Equal(t, "restore the hints", first.Messages[1].TextContent())
	assert.Contains(t, first.Messages[2].TextContent(), "=== CURRENT_CODE_STATE ===")
	assert.Len(t, first.ToolDefs, 6)
}

func TestRunEmitsLifecycleEvents(t *testing.T) {
	adapter := &scriptedAdapter{responses: []*llm.Response{
		toolUseResponse("r1", call("c1", ToolVerify, "{}")),
		endTurnResponse("r2", "verified"),
	}}
	verifier := &scriptedVerifier{outcomes: []dafny.Outcome{verifiedOutcome()}}
	runner := newTestRunner(adapter, verifier, Config{MaxIterations: 10})

	runner.Run(context.Background(), Sample{ID: "s13", Prompt: "restore the hints", Code: runnerSeed})
	runner.CloseEvents()

	kinds := map[EventKind]int{}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-runner.Events():
			if !ok {
				assert.Equal(t, 1, kinds[EventRunStart])
				assert.Equal(t, 1, kinds[EventVerifyAttempt])
				assert.Equal(t, 1, kinds[EventRunEnd])
				assert.Equal(t, 2, kinds[EventModelResponse])
				return
			}
			assert.Equal(t, "s13", ev.SampleID)
			kinds[ev.Kind]++
		case <-deadline:
			t.Fatal("event channel never closed")
		}
	}
}
