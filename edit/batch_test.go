package edit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const batchSnippet = `method Sum(n: int) returns (s: int)
{
  s := 0;
  var i := 0;
  while i < n
  {
    s := s + i;
    i := i + 1;
  }
}`

func TestBatchIndependentInsertionsBothLand(t *testing.T) {
	b := NewBatch(batchSnippet)

	line, err := b.Insert(HintInvariant, "0 <= i", ByContext("while i < n", ""))
	require.NoError(t, err)
	assert.Equal(t, 6, line)

	line, err = b.Insert(HintPostcondition, "s >= 0", ByContext("returns (s: int)", ""))
	require.NoError(t, err)
	assert.Equal(t, 2, line)

	out := b.Commit()
	assert.Contains(t, out, "invariant 0 <= i")
	assert.Contains(t, out, "ensures s >= 0")

	lines := strings.Split(out, "\n")
	assert.Equal(t, "ensures s >= 0", strings.TrimSpace(lines[1]))
	// The later ensures clause shifts the invariant down one line.
	assert.Equal(t, "invariant 0 <= i", strings.TrimSpace(lines[6]))
}

func TestBatchResolvesAgainstStartOfTurnSnapshot(t *testing.T) {
	b := NewBatch(batchSnippet)

	_, err := b.Insert(HintInvariant, "0 <= i", ByContext("while i < n", ""))
	require.NoError(t, err)

	// A location spec that only exists in the first insertion's output must
	// not resolve: insertions never observe each other within a batch.
	_, err = b.Insert(HintAssertion, "i <= n", ByContext("invariant 0 <= i", ""))
	require.Error(t, err)
	var rerr *ResolveError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, ErrNotFound, rerr.Kind)

	out := b.Commit()
	assert.Contains(t, out, "invariant 0 <= i")
	assert.NotContains(t, out, "assert i <= n")
}

func TestBatchSameAnchorKeepsIssueOrder(t *testing.T) {
	b := NewBatch(batchSnippet)

	_, err := b.Insert(HintInvariant, "0 <= i", ByContext("while i < n", ""))
	require.NoError(t, err)
	_, err = b.Insert(HintInvariant, "s >= 0", ByContext("while i < n", ""))
	require.NoError(t, err)

	lines := strings.Split(b.Commit(), "\n")
	assert.Equal(t, "invariant 0 <= i", strings.TrimSpace(lines[5]))
	assert.Equal(t, "invariant s >= 0", strings.TrimSpace(lines[6]))
}

func TestBatchCommitEmpty(t *testing.T) {
	b := NewBatch(batchSnippet)
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, batchSnippet, b.Commit())
}
