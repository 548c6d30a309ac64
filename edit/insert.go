package edit

import "strings"

// indentation returns the leading whitespace of a line.
func indentation(line string) string {
	return line[:len(line)-len(strings.TrimLeft(line, " \t"))]
}

// anchorIndent picks the indentation to copy onto an inserted clause: the
// line physically above the insertion point, or the displaced line when
// inserting at the top of the file.
func anchorIndent(lines []string, idx int) string {
	if idx > 0 {
		return indentation(lines[idx-1])
	}
	if idx < len(lines) {
		return indentation(lines[idx])
	}
	return ""
}

// Insert resolves loc against code and returns a new source text with the
// clause inserted, plus the 1-indexed line the clause landed on. The input
// string is never modified. On resolution failure the returned error is a
// *ResolveError and code is returned unchanged.
func Insert(code string, kind HintKind, payload string, loc Location) (string, int, error) {
	lines := strings.Split(code, "\n")

	idx, err := Resolve(lines, loc)
	if err != nil {
		return code, 0, err
	}

	clause := anchorIndent(lines, idx) + kind.Keyword() + " " + strings.TrimSpace(payload)

	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:idx]...)
	out = append(out, clause)
	out = append(out, lines[idx:]...)
	return strings.Join(out, "\n"), idx + 1, nil
}
