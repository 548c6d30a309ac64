package edit

import (
	"sort"
	"strings"
)

type queuedInsert struct {
	idx    int // 0-indexed insertion point in the base snapshot
	seq    int
	clause string
}

// Batch collects insertions issued within one model turn. Every location
// resolves against the snapshot the batch was opened with, so insertions in
// the same batch never observe each other's output; independent insertions
// all land in the committed result.
type Batch struct {
	lines  []string
	queued []queuedInsert
}

// NewBatch opens a batch over the snapshot current at the start of the turn.
func NewBatch(code string) *Batch {
	return &Batch{lines: strings.Split(code, "\n")}
}

// Insert resolves loc against the base snapshot and queues the clause for
// the commit. It returns the 1-indexed line the clause will land on in base
// coordinates. On resolution failure the returned error is a *ResolveError
// and nothing is queued.
func (b *Batch) Insert(kind HintKind, payload string, loc Location) (int, error) {
	idx, err := Resolve(b.lines, loc)
	if err != nil {
		return 0, err
	}
	clause := anchorIndent(b.lines, idx) + kind.Keyword() + " " + strings.TrimSpace(payload)
	b.queued = append(b.queued, queuedInsert{idx: idx, seq: len(b.queued), clause: clause})
	return idx + 1, nil
}

// Len reports how many insertions were queued.
func (b *Batch) Len() int {
	return len(b.queued)
}

// Commit applies every queued insertion to the base snapshot and returns the
// new full text. The base snapshot is untouched; committing an empty batch
// returns it verbatim.
func (b *Batch) Commit() string {
	if len(b.queued) == 0 {
		return strings.Join(b.lines, "\n")
	}
	// Apply bottom-up so earlier insertion points stay valid. Ties on the
	// insertion point keep issue order in the output.
	queued := make([]queuedInsert, len(b.queued))
	copy(queued, b.queued)
	sort.Slice(queued, func(i, j int) bool {
		if queued[i].idx != queued[j].idx {
			return queued[i].idx > queued[j].idx
		}
		return queued[i].seq > queued[j].seq
	})
	out := make([]string, len(b.lines), len(b.lines)+len(queued))
	copy(out, b.lines)
	for _, q := range queued {
		out = append(out, "")
		copy(out[q.idx+1:], out[q.idx:])
		out[q.idx] = q.clause
	}
	return strings.Join(out, "\n")
}
