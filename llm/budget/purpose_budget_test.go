package budget

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeframe/codeframe/llm"
)

func TestTrackerExceedsFiresOnce(t *testing.T) {
	var calls int
	var lastUsed, lastLimit int64

	tr := NewTracker(Limits{llm.PurposeReview: 100}, func(purpose llm.Purpose, used, limit int64) {
		calls++
		lastUsed, lastLimit = used, limit
	}, nil)

	tr.Record(llm.PurposeReview, 60)
	used, limit := tr.Usage(llm.PurposeReview)
	assert.EqualValues(t, 60, used)
	assert.EqualValues(t, 100, limit)
	require.Zero(t, calls)

	tr.Record(llm.PurposeReview, 50)
	require.Equal(t, 1, calls)
	assert.EqualValues(t, 110, lastUsed)
	assert.EqualValues(t, 100, lastLimit)

	// further usage in the same window must not re-fire.
	tr.Record(llm.PurposeReview, 10)
	assert.Equal(t, 1, calls)
}

func TestTrackerUnboundedPurposeNeverFires(t *testing.T) {
	calls := 0
	tr := NewTracker(Limits{}, func(llm.Purpose, int64, int64) { calls++ }, nil)
	tr.Record(llm.PurposeExecution, 10_000_000)
	assert.Zero(t, calls)
}
