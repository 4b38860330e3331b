// Package fixtracker deduplicates fix attempts during final verification:
// if the same failure-kind + touched-files signature recurs without
// resolution, the caller should stop retrying and escalate.
package fixtracker

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Tracker counts how many times each fix-attempt signature has been seen.
// It is scoped to a single final-verification invocation (one per Run) —
// a fresh Tracker is created per attempt at the sub-loop, not shared
// across Runs.
type Tracker struct {
	seen map[string]int
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{seen: make(map[string]int)}
}

// Signature returns the dedup key for a fix attempt: the gate name +
// failure kind, plus the sorted set of files touched by the attempted
// fix. Identical inputs always produce the identical signature
// regardless of file-slice ordering.
func Signature(gateName, failureKind string, filesTouched []string) string {
	sorted := append([]string(nil), filesTouched...)
	sort.Strings(sorted)
	h := sha256.New()
	h.Write([]byte(gateName))
	h.Write([]byte{0})
	h.Write([]byte(failureKind))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(sorted, ",")))
	return hex.EncodeToString(h.Sum(nil))
}

// Record notes one more attempt at signature and returns the new count.
func (t *Tracker) Record(signature string) int {
	t.seen[signature]++
	return t.seen[signature]
}

// Recurs reports whether signature has now been attempted at least
// twice, meaning the caller should escalate instead of retrying again.
func (t *Tracker) Recurs(signature string) bool {
	return t.seen[signature] >= 2
}
