// Package budget tracks per-purpose token consumption against soft caps
// and reports a purpose that runs over its cap through a callback; it never
// throttles or rejects requests. It raises no blocker itself, and nothing
// in this module constructs a Tracker outside this package's tests.
package budget

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/codeframe/codeframe/llm"
)

// Limits is the soft per-purpose token ceiling for a rolling day window.
// A zero value means "unbounded".
type Limits map[llm.Purpose]int64

// DefaultLimits returns the budget the spec recommends out of the box: a
// generous ceiling for the interactive ReAct loop and tighter ones for the
// cheaper, more mechanical purposes.
func DefaultLimits() Limits {
	return Limits{
		llm.PurposePlanning:            2_000_000,
		llm.PurposeExecution:           8_000_000,
		llm.PurposeCorrection:          2_000_000,
		llm.PurposeReview:              1_000_000,
		llm.PurposeCompaction:          1_000_000,
		llm.PurposeDependencyInference: 500_000,
	}
}

// Exceeded is invoked when a purpose's rolling usage crosses its limit.
// The Tracker only reports the overrun through it; the request that
// crossed the limit is neither dropped nor delayed.
type Exceeded func(purpose llm.Purpose, used, limit int64)

// Tracker accumulates token usage per Purpose over a rolling 24h window and
// invokes an Exceeded callback the first time a purpose crosses its limit
// in the current window.
type Tracker struct {
	mu        sync.Mutex
	limits    Limits
	used      map[llm.Purpose]*int64
	windowEnd map[llm.Purpose]time.Time
	alerted   map[llm.Purpose]bool
	onExceed  Exceeded
	logger    *zap.Logger
}

// NewTracker builds a Tracker with the given per-purpose limits. A nil
// onExceed means overruns are tracked but never escalated — useful in tests.
func NewTracker(limits Limits, onExceed Exceeded, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		limits:    limits,
		used:      make(map[llm.Purpose]*int64),
		windowEnd: make(map[llm.Purpose]time.Time),
		alerted:   make(map[llm.Purpose]bool),
		onExceed:  onExceed,
		logger:    logger,
	}
}

// Record adds tokens to purpose's rolling usage, resetting the window if a
// day has elapsed since it started, and fires onExceed exactly once per
// window if the limit is crossed.
func (t *Tracker) Record(purpose llm.Purpose, tokens int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if end, ok := t.windowEnd[purpose]; !ok || now.After(end) {
		t.windowEnd[purpose] = now.Add(24 * time.Hour)
		counter := new(int64)
		t.used[purpose] = counter
		t.alerted[purpose] = false
	}

	counter := t.used[purpose]
	used := atomic.AddInt64(counter, int64(tokens))

	limit, hasLimit := t.limits[purpose]
	if !hasLimit || limit <= 0 {
		return
	}
	if used >= limit && !t.alerted[purpose] {
		t.alerted[purpose] = true
		t.logger.Warn("purpose token budget exceeded",
			zap.String("purpose", string(purpose)),
			zap.Int64("used", used),
			zap.Int64("limit", limit),
		)
		if t.onExceed != nil {
			t.onExceed(purpose, used, limit)
		}
	}
}

// Usage returns current usage and limit for purpose (limit 0 means unbounded).
func (t *Tracker) Usage(purpose llm.Purpose) (used, limit int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if counter, ok := t.used[purpose]; ok {
		used = atomic.LoadInt64(counter)
	}
	limit = t.limits[purpose]
	return used, limit
}
