// Package edit places verification hints into Dafny source text.
//
// A hint is a single clause (loop invariant, assertion, precondition,
// postcondition, or termination measure) inserted at a location described
// either by an explicit line number or by surrounding context text.
// Insertion is pure: it returns a new source string and never modifies the
// input, so a rejected edit cannot corrupt earlier snapshots.
package edit

// HintKind discriminates the five clause kinds the engine can insert.
type HintKind string

const (
	HintInvariant     HintKind = "invariant"
	HintAssertion     HintKind = "assertion"
	HintPrecondition  HintKind = "precondition"
	HintPostcondition HintKind = "postcondition"
	HintMeasure       HintKind = "measure"
)

// Keyword returns the Dafny keyword that introduces the clause.
func (k HintKind) Keyword() string {
	switch k {
	case HintInvariant:
		return "invariant"
	case HintAssertion:
		return "assert"
	case HintPrecondition:
		return "requires"
	case HintPostcondition:
		return "ensures"
	case HintMeasure:
		return "decreases"
	}
	return string(k)
}

// Valid reports whether k is one of the five known kinds.
func (k HintKind) Valid() bool {
	switch k {
	case HintInvariant, HintAssertion, HintPrecondition, HintPostcondition, HintMeasure:
		return true
	}
	return false
}
