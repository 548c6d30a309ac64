package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/proofloop/proofloop/dafny"
	"github.com/proofloop/proofloop/edit"
	"github.com/proofloop/proofloop/llm"
)

// CodeVerifier checks a full source text and reports the outcome.
// *dafny.Verifier is the production implementation.
type CodeVerifier interface {
	Verify(ctx context.Context, code string) (dafny.Outcome, error)
}

// Dispatcher routes tool calls requested by the model to the editing
// engine or the verifier. The operation mapping is fixed and closed; an
// unrecognized name produces an error tool result, never an abort.
type Dispatcher struct {
	verifier CodeVerifier
	emitter  *EventEmitter
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(verifier CodeVerifier, emitter *EventEmitter, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		verifier: verifier,
		emitter:  emitter,
		validate: validator.New(),
		logger:   logger,
	}
}

// turnOutcome accumulates the effects of one model turn's tool calls.
type turnOutcome struct {
	results      []llm.ToolResult
	latestCode   string
	hasNewCode   bool
	attempts     int
	verified     bool
	verifiedCode string
	lastOutcome  *dafny.Outcome
}

// Execute runs every requested call in the order received and collects the
// results, preserving id correspondence. All insertions resolve against
// the snapshot committed before this turn began: history is not extended
// here, so edits within one turn are non-cumulative until the caller
// commits the final snapshot after the paired tool-result turn.
//
// A non-nil error is an InfrastructureError (verifier launch failure) and
// is fatal for the sample. Every other failure becomes an error tool
// result for the model to correct.
func (d *Dispatcher) Execute(ctx context.Context, history History, calls []llm.ToolCall, sampleID string, attempts int) (turnOutcome, error) {
	out := turnOutcome{attempts: attempts}

	snapshot, _ := history.Snapshot()
	batch := edit.NewBatch(snapshot)

	for _, call := range calls {
		d.emitter.Emit(sampleID, EventToolCall, map[string]interface{}{
			"tool_name": call.Name,
			"call_id":   call.ID,
		})

		var result llm.ToolResult
		if spec, ok := insertionTools[call.Name]; ok {
			result = d.executeInsertion(batch, call, spec.kind, spec.payloadKey)
		} else if call.Name == ToolVerify {
			var err error
			result, err = d.executeVerify(ctx, snapshot, call, sampleID, &out)
			if err != nil {
				// Even an aborted turn hands back one result per call, so
				// the history the caller persists keeps its pairing intact.
				out.results = padAbortedResults(out.results, calls, err)
				return out, err
			}
		} else {
			result = llm.ToolResult{
				ToolCallID: call.ID,
				Content:    fmt.Sprintf("Unknown tool: %s. Available tools: %s.", call.Name, strings.Join(toolNames(), ", ")),
				IsError:    true,
			}
		}
		out.results = append(out.results, result)
	}

	if batch.Len() > 0 {
		out.latestCode = batch.Commit()
		out.hasNewCode = true
	}

	return out, nil
}

func (d *Dispatcher) executeInsertion(batch *edit.Batch, call llm.ToolCall, kind edit.HintKind, payloadKey string) llm.ToolResult {
	args, err := decodeInsertionArgs(d.validate, call.Arguments, payloadKey)
	if err != nil {
		d.logger.Debug().Str("tool", call.Name).Err(err).Msg("rejected tool arguments")
		return llm.ToolResult{ToolCallID: call.ID, Content: err.Error(), IsError: true}
	}

	line, err := batch.Insert(kind, args.Payload, args.Location())
	if err != nil {
		// Resolution failures carry diagnostic detail (candidate lines) the
		// model uses to narrow its next request.
		d.logger.Debug().Str("tool", call.Name).Err(err).Msg("insertion failed")
		return llm.ToolResult{ToolCallID: call.ID, Content: err.Error(), IsError: true}
	}

	d.logger.Info().Str("tool", call.Name).Int("line", line).Msg("hint inserted")
	return llm.ToolResult{
		ToolCallID: call.ID,
		Content:    fmt.Sprintf("✓ %s inserted at line %d", titleKind(kind), line),
	}
}

func (d *Dispatcher) executeVerify(ctx context.Context, snapshot string, call llm.ToolCall, sampleID string, out *turnOutcome) (llm.ToolResult, error) {
	out.attempts++

	// Verification always runs on the committed snapshot, not on edits made
	// earlier in this same turn.
	outcome, err := d.verifier.Verify(ctx, snapshot)
	if err != nil {
		return llm.ToolResult{}, &InfrastructureError{Op: "verify", Cause: err}
	}
	out.lastOutcome = &outcome

	// Artifact emission happens for every attempt regardless of outcome;
	// the successful snapshot is flagged distinctly.
	d.emitter.Emit(sampleID, EventVerifyAttempt, map[string]interface{}{
		"attempt": out.attempts,
		"code":    snapshot,
		"status":  string(outcome.Status),
		"final":   outcome.Verified(),
	})

	d.logger.Info().
		Int("attempt", out.attempts).
		Str("status", string(outcome.Status)).
		Msg("verification attempt")

	if outcome.Verified() {
		out.verified = true
		out.verifiedCode = snapshot
		return llm.ToolResult{ToolCallID: call.ID, Content: outcome.Diagnostics}, nil
	}
	return llm.ToolResult{ToolCallID: call.ID, Content: outcome.Diagnostics, IsError: true}, nil
}

// padAbortedResults fills in error results for every call that had not
// produced one before the turn was cut short.
func padAbortedResults(results []llm.ToolResult, calls []llm.ToolCall, err error) []llm.ToolResult {
	for _, call := range calls[len(results):] {
		results = append(results, llm.ToolResult{
			ToolCallID: call.ID,
			Content:    "Tool execution aborted: " + err.Error(),
			IsError:    true,
		})
	}
	return results
}

func titleKind(kind edit.HintKind) string {
	s := string(kind)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func toolNames() []string {
	return []string{
		ToolInsertInvariant, ToolInsertAssertion, ToolInsertPrecondition,
		ToolInsertPostcondition, ToolInsertMeasure, ToolVerify,
	}
}
