package agent

// Snapshot returns the code carried by the most recent state turn,
// scanning the history backward. ok is false when no state turn exists
// yet; callers fall back to the original seed code.
func (h History) Snapshot() (code string, ok bool) {
	for i := len(h) - 1; i >= 0; i-- {
		if h[i].Kind == TurnState && h[i].State != nil {
			return h[i].State.Code, true
		}
	}
	return "", false
}

// WithSnapshot returns a history extended with a new state turn carrying
// code. The turn is appended strictly after the current step's tool-result
// turn, never interleaved earlier, which is what makes edits within a
// single model turn non-cumulative: every insertion in that turn resolved
// against the snapshot committed before the turn began.
func (h History) WithSnapshot(code, note string) History {
	return append(h, NewStateTurn(code, note))
}
