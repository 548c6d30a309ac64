// Package agent implements the repair loop that drives a language model
// through iterative verification repair of a Dafny source file.
//
// The conversation history is the sole source of truth for code state: the
// current snapshot lives in marker-tagged state turns inside the
// append-only history, and is recovered by a pure backward scan rather
// than tracked in a separately mutated object. The loop enforces strict
// turn pairing with the model API: every assistant turn that requests
// tools is immediately followed by exactly one combined tool-result turn
// before the next model invocation.
package agent

import (
	"fmt"
	"time"

	"github.com/proofloop/proofloop/llm"
)

// TurnKind discriminates between turn types.
type TurnKind string

const (
	// TurnSeed is caller-supplied input: the task prompt seeded at sample
	// start.
	TurnSeed TurnKind = "seed"
	// TurnAssistant is a model response, possibly carrying tool calls.
	TurnAssistant TurnKind = "assistant"
	// TurnToolResults is the single combined result turn paired with the
	// preceding assistant turn's tool calls.
	TurnToolResults TurnKind = "tool_results"
	// TurnState is a marker turn carrying the current code snapshot.
	TurnState TurnKind = "state"
)

// Turn is a single entry in the conversation history.
type Turn struct {
	Kind        TurnKind         `json:"kind"`
	Timestamp   time.Time        `json:"timestamp"`
	Seed        *SeedTurn        `json:"seed,omitempty"`
	Assistant   *AssistantTurn   `json:"assistant,omitempty"`
	ToolResults *ToolResultsTurn `json:"tool_results,omitempty"`
	State       *StateTurn       `json:"state,omitempty"`
}

// SeedTurn holds caller-supplied input.
type SeedTurn struct {
	Content string `json:"content"`
}

// AssistantTurn holds the model's response.
type AssistantTurn struct {
	Content    string         `json:"content"`
	ToolCalls  []llm.ToolCall `json:"tool_calls,omitempty"`
	Usage      llm.Usage      `json:"usage"`
	ResponseID string         `json:"response_id,omitempty"`
}

// ToolResultsTurn holds tool execution results.
type ToolResultsTurn struct {
	Results []llm.ToolResult `json:"results"`
}

// StateTurn is the marker payload: the full text of the file under repair
// at this point in history.
type StateTurn struct {
	Code string `json:"code"`
	Note string `json:"note,omitempty"`
}

// NewSeedTurn creates a Turn wrapping caller input.
func NewSeedTurn(content string) Turn {
	return Turn{
		Kind:      TurnSeed,
		Timestamp: time.Now(),
		Seed:      &SeedTurn{Content: content},
	}
}

// NewAssistantTurn creates a Turn wrapping a model response.
func NewAssistantTurn(content string, toolCalls []llm.ToolCall, usage llm.Usage, responseID string) Turn {
	return Turn{
		Kind:      TurnAssistant,
		Timestamp: time.Now(),
		Assistant: &AssistantTurn{
			Content:    content,
			ToolCalls:  toolCalls,
			Usage:      usage,
			ResponseID: responseID,
		},
	}
}

// NewToolResultsTurn creates a Turn wrapping tool results.
func NewToolResultsTurn(results []llm.ToolResult) Turn {
	return Turn{
		Kind:        TurnToolResults,
		Timestamp:   time.Now(),
		ToolResults: &ToolResultsTurn{Results: results},
	}
}

// NewStateTurn creates a marker Turn carrying a code snapshot.
func NewStateTurn(code, note string) Turn {
	return Turn{
		Kind:      TurnState,
		Timestamp: time.Now(),
		State:     &StateTurn{Code: code, Note: note},
	}
}

// History is the append-only ordered sequence of turns for one sample. It
// is never truncated mid-run.
type History []Turn

// stateMessageFormat is the model-facing rendering of a state turn. The
// marker line and fenced block mirror what the model is instructed to
// expect in the system prompt.
const stateMessageFormat = "=== CURRENT_CODE_STATE ===\n\n```dafny\n%s\n```\n\n%s"

// Messages converts the history into model API messages. State turns are
// sent as user messages so the model observes every committed snapshot.
func (h History) Messages() []llm.Message {
	var messages []llm.Message
	for _, turn := range h {
		switch turn.Kind {
		case TurnSeed:
			if turn.Seed != nil {
				messages = append(messages, llm.UserMessage(turn.Seed.Content))
			}
		case TurnAssistant:
			if turn.Assistant != nil {
				msg := llm.AssistantMessage(turn.Assistant.Content)
				for _, tc := range turn.Assistant.ToolCalls {
					msg.Content = append(msg.Content, llm.ToolCallPart(tc.ID, tc.Name, tc.Arguments))
				}
				messages = append(messages, msg)
			}
		case TurnToolResults:
			if turn.ToolResults != nil {
				for _, result := range turn.ToolResults.Results {
					messages = append(messages, llm.ToolResultMessage(result.ToolCallID, result.Content, result.IsError))
				}
			}
		case TurnState:
			if turn.State != nil {
				messages = append(messages,
					llm.UserMessage(fmt.Sprintf(stateMessageFormat, turn.State.Code, turn.State.Note)))
			}
		}
	}
	return messages
}

// CheckPairing verifies the turn-pairing discipline across the whole
// history: every assistant turn requesting tools is immediately followed
// by exactly one tool-results turn whose result ids match the call ids in
// order, and no tool-results turn appears without such a predecessor.
func (h History) CheckPairing() error {
	for i, turn := range h {
		switch turn.Kind {
		case TurnAssistant:
			if turn.Assistant == nil || len(turn.Assistant.ToolCalls) == 0 {
				continue
			}
			if i+1 >= len(h) || h[i+1].Kind != TurnToolResults || h[i+1].ToolResults == nil {
				return &ProtocolError{Message: fmt.Sprintf(
					"assistant turn %d requested %d tool calls but is not followed by a tool-results turn",
					i, len(turn.Assistant.ToolCalls))}
			}
			results := h[i+1].ToolResults.Results
			if len(results) != len(turn.Assistant.ToolCalls) {
				return &ProtocolError{Message: fmt.Sprintf(
					"turn %d: %d tool calls paired with %d results",
					i, len(turn.Assistant.ToolCalls), len(results))}
			}
			for j, tc := range turn.Assistant.ToolCalls {
				if results[j].ToolCallID != tc.ID {
					return &ProtocolError{Message: fmt.Sprintf(
						"turn %d result %d: id %q does not match call id %q",
						i+1, j, results[j].ToolCallID, tc.ID)}
				}
			}
		case TurnToolResults:
			if i == 0 || h[i-1].Kind != TurnAssistant || h[i-1].Assistant == nil || len(h[i-1].Assistant.ToolCalls) == 0 {
				return &ProtocolError{Message: fmt.Sprintf(
					"tool-results turn %d has no preceding tool-use turn", i)}
			}
		}
	}
	return nil
}
