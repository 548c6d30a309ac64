// Package dafny runs the Dafny verifier as a bounded-time external process
// and classifies its output into a closed set of outcomes.
//
// Given identical source text and verifier version the outcome is
// deterministic, which is what lets the agent loop treat verification as
// ground truth.
package dafny

import (
	"strings"
	"time"
)

// Status is the closed outcome classification of a verification run.
type Status string

const (
	StatusVerified         Status = "verified"
	StatusSyntaxError      Status = "syntax_error"
	StatusAssertionFailure Status = "assertion_failure"
	StatusTimeout          Status = "timeout"
	StatusCrash            Status = "tool_crash"
)

// Outcome is the structured result of one verification attempt.
type Outcome struct {
	Status      Status        `json:"status"`
	Diagnostics string        `json:"diagnostics"` // model-facing message
	Stdout      string        `json:"stdout"`
	Stderr      string        `json:"stderr"`
	Category    string        `json:"category,omitempty"` // fine-grained failure category
	Duration    time.Duration `json:"duration"`
}

// Verified reports whether the attempt succeeded.
func (o Outcome) Verified() bool { return o.Status == StatusVerified }

// Fine-grained failure categories derived from diagnostic text. These feed
// the benchmark error distribution; the loop itself only branches on Status.
const (
	CategoryInvariant     = "invariant_violation"
	CategoryAssertion     = "assertion_failure"
	CategoryPostcondition = "postcondition_violation"
	CategoryPrecondition  = "precondition_violation"
	CategoryTermination   = "termination_failure"
	CategorySyntax        = "syntax_error"
	CategoryType          = "type_error"
	CategoryOther         = "other_error"
)

// Categorize maps verifier diagnostic text to a fine-grained failure
// category. Pattern order matters: invariant messages also mention
// assertions, so the more specific patterns come first.
func Categorize(diagnostics string) string {
	d := strings.ToLower(diagnostics)
	switch {
	case strings.Contains(d, "invariant"):
		return CategoryInvariant
	case strings.Contains(d, "assertion") || strings.Contains(d, "assert"):
		return CategoryAssertion
	case strings.Contains(d, "postcondition") || strings.Contains(d, "ensures"):
		return CategoryPostcondition
	case strings.Contains(d, "precondition") || strings.Contains(d, "requires"):
		return CategoryPrecondition
	case strings.Contains(d, "decreases") || strings.Contains(d, "termination"):
		return CategoryTermination
	case strings.Contains(d, "syntax error") || strings.Contains(d, "parse error"):
		return CategorySyntax
	case strings.Contains(d, "resolution error") || strings.Contains(d, "type error"):
		return CategoryType
	default:
		return CategoryOther
	}
}

// classify buckets exit status plus output into a Status. Dafny reports
// parse and resolution problems before attempting verification, so those
// patterns take priority over the generic failure bucket.
func classify(exitCode int, stdout, stderr string) Status {
	combined := strings.ToLower(stdout + "\n" + stderr)

	if exitCode == 0 && strings.Contains(stdout, "0 errors") {
		return StatusVerified
	}

	switch {
	case strings.Contains(combined, "parse error"),
		strings.Contains(combined, "syntax error"),
		strings.Contains(combined, "resolution error"),
		strings.Contains(combined, "type error"):
		return StatusSyntaxError
	case strings.Contains(combined, "error:"),
		strings.Contains(combined, "could not prove"),
		strings.Contains(combined, "might not"),
		strings.Contains(combined, "assertion"):
		return StatusAssertionFailure
	default:
		return StatusCrash
	}
}
