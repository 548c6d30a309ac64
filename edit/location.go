package edit

import (
	"fmt"
	"strings"
)

// Location describes where a hint should be inserted. Either Line is set
// (1-indexed, insertion displaces the line currently at that number) or
// ContextBefore is set (insertion goes on the line after the unique match).
// ContextAfter narrows ContextBefore when it matches more than one line.
type Location struct {
	Line          int    `json:"line_number,omitempty"`
	ContextBefore string `json:"context_before,omitempty"`
	ContextAfter  string `json:"context_after,omitempty"`
}

// ByLine returns a Location for an explicit 1-indexed line number.
func ByLine(n int) Location { return Location{Line: n} }

// ByContext returns a Location anchored on context text.
func ByContext(before, after string) Location {
	return Location{ContextBefore: before, ContextAfter: after}
}

func (l Location) String() string {
	if l.Line > 0 {
		return fmt.Sprintf("line %d", l.Line)
	}
	if l.ContextAfter != "" {
		return fmt.Sprintf("after %q (followed by %q)", l.ContextBefore, l.ContextAfter)
	}
	return fmt.Sprintf("after %q", l.ContextBefore)
}

// ResolveErrorKind tags the failure modes of Resolve.
type ResolveErrorKind string

const (
	ErrNotFound   ResolveErrorKind = "not_found"
	ErrAmbiguous  ResolveErrorKind = "ambiguous"
	ErrOutOfRange ResolveErrorKind = "out_of_range"
)

// ResolveError is a structured resolution failure. It is returned as a
// value, not panicked, because the orchestrator feeds Error() back to the
// model verbatim so it can narrow its next request.
type ResolveError struct {
	Kind       ResolveErrorKind
	Loc        Location
	Candidates []int // 1-indexed match lines, populated for Ambiguous
	LineCount  int   // populated for OutOfRange
}

func (e *ResolveError) Error() string {
	switch e.Kind {
	case ErrNotFound:
		return fmt.Sprintf("context not found: %q does not match any line", e.Loc.ContextBefore)
	case ErrAmbiguous:
		return fmt.Sprintf(
			"ambiguous context: %q matches lines %s; narrow with context_after or use line_number",
			e.Loc.ContextBefore, joinInts(e.Candidates))
	case ErrOutOfRange:
		return fmt.Sprintf("line number %d out of range (1-%d)", e.Loc.Line, e.LineCount)
	}
	return string(e.Kind)
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = fmt.Sprintf("%d", n)
	}
	return strings.Join(parts, ", ")
}

// Resolve maps a Location onto an insertion index into lines (0-based: the
// inserted clause becomes lines[idx], everything from idx shifts down).
//
// Explicit line numbers are used directly. Context resolution scans every
// line for a substring match on ContextBefore: a single match wins
// immediately, regardless of ContextAfter. Multiple matches require
// ContextAfter; matches whose following line contains it survive, and
// anything other than exactly one survivor fails Ambiguous with the full
// candidate list.
func Resolve(lines []string, loc Location) (int, error) {
	if loc.Line > 0 {
		if loc.Line > len(lines) {
			return 0, &ResolveError{Kind: ErrOutOfRange, Loc: loc, LineCount: len(lines)}
		}
		return loc.Line - 1, nil
	}

	if loc.ContextBefore == "" {
		return 0, &ResolveError{Kind: ErrNotFound, Loc: loc}
	}

	needle := strings.TrimSpace(loc.ContextBefore)
	var matches []int // 0-based indexes of matching lines
	for i, line := range lines {
		if strings.Contains(line, needle) {
			matches = append(matches, i)
		}
	}

	switch len(matches) {
	case 0:
		return 0, &ResolveError{Kind: ErrNotFound, Loc: loc}
	case 1:
		return matches[0] + 1, nil
	}

	// Multiple raw matches: ContextAfter decides, and the candidate list is
	// always reported so the model can narrow further.
	candidates := make([]int, len(matches))
	for i, m := range matches {
		candidates[i] = m + 1
	}

	if loc.ContextAfter == "" {
		return 0, &ResolveError{Kind: ErrAmbiguous, Loc: loc, Candidates: candidates}
	}

	after := strings.TrimSpace(loc.ContextAfter)
	var survivors []int
	for _, m := range matches {
		if m+1 < len(lines) && strings.Contains(lines[m+1], after) {
			survivors = append(survivors, m)
		}
	}
	if len(survivors) != 1 {
		return 0, &ResolveError{Kind: ErrAmbiguous, Loc: loc, Candidates: candidates}
	}
	return survivors[0] + 1, nil
}
