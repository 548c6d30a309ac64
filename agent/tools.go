package agent

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/proofloop/proofloop/edit"
	"github.com/proofloop/proofloop/llm"
)

// Tool names form a fixed, closed set. The operation vocabulary never
// grows at runtime, so dispatch is a plain switch rather than anything
// reflective.
const (
	ToolInsertInvariant     = "insert_invariant"
	ToolInsertAssertion     = "insert_assertion"
	ToolInsertPrecondition  = "insert_precondition"
	ToolInsertPostcondition = "insert_postcondition"
	ToolInsertMeasure       = "insert_measure"
	ToolVerify              = "verify_dafny"
)

// insertionTools maps each insertion tool to its hint kind and the JSON
// key carrying the clause payload.
var insertionTools = map[string]struct {
	kind       edit.HintKind
	payloadKey string
}{
	ToolInsertInvariant:     {edit.HintInvariant, "invariant"},
	ToolInsertAssertion:     {edit.HintAssertion, "assertion"},
	ToolInsertPrecondition:  {edit.HintPrecondition, "precondition"},
	ToolInsertPostcondition: {edit.HintPostcondition, "postcondition"},
	ToolInsertMeasure:       {edit.HintMeasure, "measure"},
}

// locationProperties is the shared location portion of every insertion
// tool schema.
func locationProperties() map[string]interface{} {
	return map[string]interface{}{
		"line_number": map[string]interface{}{
			"type":        "integer",
			"description": "1-indexed line number to insert at; the existing line shifts down",
		},
		"context_before": map[string]interface{}{
			"type":        "string",
			"description": "text of the line to insert after; must match exactly one line, or be narrowed with context_after",
		},
		"context_after": map[string]interface{}{
			"type":        "string",
			"description": "text contained in the line following the intended match, for disambiguation",
		},
	}
}

func insertionDefinition(name, payloadKey, clauseDoc string) llm.ToolDefinition {
	props := locationProperties()
	props[payloadKey] = map[string]interface{}{
		"type":        "string",
		"description": clauseDoc,
	}
	return llm.ToolDefinition{
		Name:        name,
		Description: fmt.Sprintf("Insert a Dafny %s clause into the current code state. Provide either line_number or context_before.", payloadKey),
		Parameters: map[string]interface{}{
			"type":       "object",
			"properties": props,
			"required":   []string{payloadKey},
		},
	}
}

// ToolDefinitions returns the fixed tool schema set sent with every model
// request.
func ToolDefinitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		insertionDefinition(ToolInsertInvariant, "invariant",
			"loop invariant expression, without the 'invariant' keyword"),
		insertionDefinition(ToolInsertAssertion, "assertion",
			"assertion expression, without the 'assert' keyword"),
		insertionDefinition(ToolInsertPrecondition, "precondition",
			"precondition expression, without the 'requires' keyword"),
		insertionDefinition(ToolInsertPostcondition, "postcondition",
			"postcondition expression, without the 'ensures' keyword"),
		insertionDefinition(ToolInsertMeasure, "measure",
			"termination measure expression, without the 'decreases' keyword"),
		{
			Name:        ToolVerify,
			Description: "Run the Dafny verifier on the current code state and report the outcome.",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
	}
}

// insertionArgs is the decoded, validated argument set of an insertion
// tool call.
type insertionArgs struct {
	Payload       string `validate:"required"`
	LineNumber    int    `validate:"omitempty,min=1"`
	ContextBefore string `validate:"required_without=LineNumber"`
	ContextAfter  string
}

// Location converts the arguments into an edit location.
func (a insertionArgs) Location() edit.Location {
	return edit.Location{
		Line:          a.LineNumber,
		ContextBefore: a.ContextBefore,
		ContextAfter:  a.ContextAfter,
	}
}

// decodeInsertionArgs parses and validates raw tool arguments. A failure
// here is a recoverable ToolArgumentError: the returned error text is fed
// back to the model for self-correction.
func decodeInsertionArgs(v *validator.Validate, raw json.RawMessage, payloadKey string) (insertionArgs, error) {
	var fields struct {
		LineNumber    int    `json:"line_number"`
		ContextBefore string `json:"context_before"`
		ContextAfter  string `json:"context_after"`
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return insertionArgs{}, fmt.Errorf("malformed arguments: %w", err)
	}

	var payloads map[string]json.RawMessage
	if err := json.Unmarshal(raw, &payloads); err != nil {
		return insertionArgs{}, fmt.Errorf("malformed arguments: %w", err)
	}
	var payload string
	if rawPayload, ok := payloads[payloadKey]; ok {
		if err := json.Unmarshal(rawPayload, &payload); err != nil {
			return insertionArgs{}, fmt.Errorf("argument %q must be a string: %w", payloadKey, err)
		}
	}

	args := insertionArgs{
		Payload:       payload,
		LineNumber:    fields.LineNumber,
		ContextBefore: fields.ContextBefore,
		ContextAfter:  fields.ContextAfter,
	}
	if err := v.Struct(args); err != nil {
		return insertionArgs{}, fmt.Errorf(
			"invalid arguments: %q is required, and either line_number or context_before must be provided (%v)",
			payloadKey, err)
	}
	return args, nil
}
