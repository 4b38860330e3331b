package react

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/codeframe/codeframe/internal/store"
	"github.com/codeframe/codeframe/llm"
)

// nudgeMessage is injected when the agent appears stuck: the first time
// three consecutive iterations issue identical tool-call signatures.
const nudgeMessage = "You appear to be repeating the same action without making progress. Try a materially different approach, or raise a blocker if you are missing information."

// loopDetector tracks consecutive identical tool-call signatures across
// iterations. It is scoped to a single Run.
type loopDetector struct {
	lastSignature string
	repeatCount   int
	nudged        bool
}

func newLoopDetector() *loopDetector {
	return &loopDetector{}
}

// signature computes the stuck-loop fingerprint of a single iteration's
// tool calls: each call's name plus its arguments re-marshaled through a
// canonical JSON encoding (so whitespace/key-order differences that carry
// no semantic weight don't defeat detection), joined in call order since
// order is itself part of what makes two iterations identical.
func signature(calls []llm.ToolCall) string {
	h := sha256.New()
	for _, c := range calls {
		fmt.Fprintf(h, "%s\x00%s\x00", c.Name, canonicalizeArgs(c.Arguments))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func canonicalizeArgs(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	canon, err := canonicalJSON(v)
	if err != nil {
		return string(raw)
	}
	return canon
}

// canonicalJSON marshals v with map keys sorted, so two logically
// identical argument objects always produce the same string regardless of
// how the model ordered its JSON fields.
func canonicalJSON(v any) (string, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := "{"
		for i, k := range keys {
			if i > 0 {
				out += ","
			}
			kb, _ := json.Marshal(k)
			vs, err := canonicalJSON(val[k])
			if err != nil {
				return "", err
			}
			out += string(kb) + ":" + vs
		}
		return out + "}", nil
	case []any:
		out := "["
		for i, item := range val {
			if i > 0 {
				out += ","
			}
			vs, err := canonicalJSON(item)
			if err != nil {
				return "", err
			}
			out += vs
		}
		return out + "]", nil
	default:
		b, err := json.Marshal(val)
		return string(b), err
	}
}

// checkLoopDetection applies the stuck-loop guard. On the first
// three-in-a-row repeat it injects a correction nudge and resets the
// counter; on a second consecutive three-in-a-row repeat after the nudge,
// it raises an escalation blocker and signals the caller to stop.
func (a *Agent) checkLoopDetection(ctx context.Context, workspaceID string, rc RunContext, d *loopDetector, sig string, messages *[]llm.Message) (RunOutcome, bool, error) {
	if sig == d.lastSignature {
		d.repeatCount++
	} else {
		d.lastSignature = sig
		d.repeatCount = 1
		d.nudged = false
	}

	if d.repeatCount < 3 {
		return RunOutcome{}, false, nil
	}

	if !d.nudged {
		*messages = append(*messages, llm.Message{Role: llm.RoleSystem, Content: nudgeMessage})
		req := &llm.ChatRequest{Purpose: llm.PurposeCorrection, Messages: *messages, Tools: a.registry.List()}
		resp, err := a.provider.Completion(ctx, req)
		if err == nil && len(resp.Choices) > 0 {
			*messages = append(*messages, resp.Choices[0].Message)
		}
		d.repeatCount = 0
		d.nudged = true
		return RunOutcome{}, false, nil
	}

	blocker, err := a.blockers.Create(ctx, workspaceID, rc.Task.ID, store.BlockerSync,
		"the agent repeated the same tool call three times even after a correction nudge",
		fmt.Sprintf("stuck signature: %s", sig), store.CategoryEscalation)
	if err != nil {
		return RunOutcome{}, false, fmt.Errorf("react: raise stuck-loop blocker: %w", err)
	}
	return RunOutcome{Kind: OutcomeBlocked, Blocker: blocker, Reason: "stuck in a repeated tool-call loop"}, true, nil
}
