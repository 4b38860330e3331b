package conductor

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/codeframe/codeframe/blockers"
	"github.com/codeframe/codeframe/internal/eventlog"
	"github.com/codeframe/codeframe/internal/store"
)

// Supervisor auto-resolves tactical-decision blockers raised during a
// batch run: a repo-backed "cache a decision keyed by its canonicalized
// kind, replay it" shape, so the same tactical question never needs a
// human answer twice within a batch.
type Supervisor struct {
	decisions *store.DecisionRepo
	blockers  *blockers.Service
	events    *eventlog.Log
}

// NewSupervisor wires a Supervisor against the shared decision cache.
func NewSupervisor(decisions *store.DecisionRepo, blockerSvc *blockers.Service, events *eventlog.Log) *Supervisor {
	return &Supervisor{decisions: decisions, blockers: blockerSvc, events: events}
}

// canonicalizeDecisionKind implements the decided canonicalization rule:
// lower(strip-punctuation(first 80 runes of the question)) + category.
func canonicalizeDecisionKind(question string, category store.BlockerCategory) string {
	runes := []rune(question)
	if len(runes) > 80 {
		runes = runes[:80]
	}
	var b strings.Builder
	for _, r := range runes {
		if unicode.IsPunct(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return strings.TrimSpace(b.String()) + "|" + string(category)
}

// TryResolve attempts to auto-resolve blocker. It returns true if the
// blocker was answered and resolved, meaning the caller should re-queue
// the owning task. Only CategoryTacticalDecision blockers are eligible;
// every other category is left open for a human.
func (s *Supervisor) TryResolve(ctx context.Context, workspaceID string, blocker *store.Blocker) (bool, error) {
	if blocker.Category != store.CategoryTacticalDecision {
		return false, nil
	}

	kind := canonicalizeDecisionKind(blocker.Question, blocker.Category)
	cached, found, err := s.decisions.Get(ctx, workspaceID, kind)
	if err != nil {
		return false, fmt.Errorf("conductor: supervisor lookup decision cache: %w", err)
	}

	answer := ""
	if found {
		answer = cached.Answer
	} else if heuristic, ok := resolveHeuristic(blocker.Question); ok {
		answer = heuristic
	} else {
		return false, nil
	}

	if _, err := s.blockers.Answer(ctx, workspaceID, blocker.ID, answer); err != nil {
		return false, fmt.Errorf("conductor: supervisor answer blocker: %w", err)
	}
	if _, err := s.blockers.Resolve(ctx, workspaceID, blocker.ID); err != nil {
		return false, fmt.Errorf("conductor: supervisor resolve blocker: %w", err)
	}

	if !found {
		if err := s.decisions.Put(ctx, &store.DecisionCache{
			WorkspaceID:  workspaceID,
			DecisionKind: kind,
			Answer:       answer,
		}); err != nil {
			return false, fmt.Errorf("conductor: supervisor cache decision: %w", err)
		}
	}
	return true, nil
}

// resolveHeuristic recognizes the one pattern the spec names explicitly:
// "which of {option-set} should I use" — answered by picking the first
// listed option, since any consistent tactical choice unblocks the task
// and a human can override it later via the cached decision.
func resolveHeuristic(question string) (string, bool) {
	lower := strings.ToLower(question)
	idx := strings.Index(lower, "which of")
	if idx == -1 {
		return "", false
	}
	open := strings.IndexByte(question[idx:], '{')
	shut := strings.IndexByte(question[idx:], '}')
	if open == -1 || shut == -1 || shut < open {
		return "", false
	}
	options := question[idx+open+1 : idx+shut]
	parts := strings.Split(options, ",")
	if len(parts) == 0 {
		return "", false
	}
	return strings.TrimSpace(parts[0]), true
}
