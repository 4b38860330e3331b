package react

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/codeframe/codeframe/internal/store"
	"github.com/codeframe/codeframe/llm"
)

// toolSummary is the 1-line structured replacement tier 1 substitutes for
// a verbose tool result.
type toolSummary struct {
	Tool    string `json:"tool"`
	Outcome string `json:"outcome"`
	Size    int    `json:"size"`
}

// checkCompaction applies the three-tier compaction pipeline once
// the conversation crosses the soft token threshold, escalating to a
// blocker if usage is still above the hard threshold after all three
// tiers.
func (a *Agent) checkCompaction(ctx context.Context, workspaceID string, rc RunContext, messages *[]llm.Message) (RunOutcome, bool, error) {
	maxTokens := a.counter.MaxTokens()
	total, err := a.counter.CountMessages(*messages)
	if err != nil {
		return RunOutcome{}, false, fmt.Errorf("react: count tokens: %w", err)
	}
	if float64(total) <= a.config.CompactionSoftPct*float64(maxTokens) {
		return RunOutcome{}, false, nil
	}

	recompute := func() (int, error) { return a.counter.CountMessages(*messages) }

	*messages = tier1Compress(*messages, a.config.CompactionKeepRecent)
	if total, err = recompute(); err != nil {
		return RunOutcome{}, false, err
	}
	if float64(total) <= 0.60*float64(maxTokens) {
		return RunOutcome{}, false, nil
	}

	*messages = tier2Dedup(*messages)
	if total, err = recompute(); err != nil {
		return RunOutcome{}, false, err
	}
	if float64(total) <= 0.60*float64(maxTokens) {
		return RunOutcome{}, false, nil
	}

	*messages, err = a.tier3Summarize(ctx, *messages, a.config.CompactionKeepRecent)
	if err != nil {
		return RunOutcome{}, false, fmt.Errorf("react: tier 3 compaction: %w", err)
	}
	if total, err = recompute(); err != nil {
		return RunOutcome{}, false, err
	}

	if float64(total) <= a.config.CompactionHardPct*float64(maxTokens) {
		return RunOutcome{}, false, nil
	}

	blocker, err := a.blockers.Create(ctx, workspaceID, rc.Task.ID, store.BlockerSync,
		"the conversation still exceeds the context window after full compaction",
		fmt.Sprintf("tokens=%d max=%d", total, maxTokens), store.CategoryEscalation)
	if err != nil {
		return RunOutcome{}, false, fmt.Errorf("react: raise compaction-escalation blocker: %w", err)
	}
	return RunOutcome{Kind: OutcomeBlocked, Blocker: blocker, Reason: "context window exhausted after compaction"}, true, nil
}

// tier1Compress replaces tool-role message content in every message except
// the keepRecent most recent ones with a 1-line structured summary.
func tier1Compress(messages []llm.Message, keepRecent int) []llm.Message {
	cutoff := len(messages) - keepRecent
	out := make([]llm.Message, len(messages))
	copy(out, messages)
	for i := range out {
		if i >= cutoff {
			continue
		}
		msg := out[i]
		if msg.Role != llm.RoleTool || isSummarized(msg.Content) {
			continue
		}
		out[i].Content = summarizeToolContent(msg)
	}
	return out
}

func isSummarized(content string) bool {
	var s toolSummary
	return json.Unmarshal([]byte(content), &s) == nil && s.Tool != ""
}

func summarizeToolContent(msg llm.Message) string {
	outcome := "ok"
	if len(msg.Content) >= 7 && msg.Content[:7] == "Error: " {
		outcome = "error"
	}
	b, err := json.Marshal(toolSummary{Tool: msg.Name, Outcome: outcome, Size: len(msg.Content)})
	if err != nil {
		return msg.Content
	}
	return string(b)
}

// tier2Dedup drops tool results superseded by a later, more current result
// for the same subject: an older read_file of a path re-read later, and an
// older run_tests result superseded by a later one (the most recent test
// run is what matters to the agent's next decision either way).
func tier2Dedup(messages []llm.Message) []llm.Message {
	lastReadOf := map[string]int{}   // path -> last message index that reads it
	lastTestIdx := -1                // last run_tests result index

	for i, msg := range messages {
		if msg.Role != llm.RoleTool {
			continue
		}
		switch msg.Name {
		case "read_file":
			if path, ok := resultPath(msg.Content); ok {
				lastReadOf[path] = i
			}
		case "run_tests":
			lastTestIdx = i
		}
	}

	out := make([]llm.Message, len(messages))
	copy(out, messages)
	seenReadAt := map[string]bool{}
	for i := len(out) - 1; i >= 0; i-- {
		msg := out[i]
		if msg.Role != llm.RoleTool {
			continue
		}
		switch msg.Name {
		case "read_file":
			if path, ok := resultPath(msg.Content); ok {
				if i != lastReadOf[path] && seenReadAt[path] {
					out[i].Content = `{"superseded":true,"tool":"read_file"}`
				}
				seenReadAt[path] = true
			}
		case "run_tests":
			if i != lastTestIdx {
				out[i].Content = `{"superseded":true,"tool":"run_tests"}`
			}
		}
	}
	return out
}

func resultPath(content string) (string, bool) {
	var v struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal([]byte(content), &v); err != nil || v.Path == "" {
		return "", false
	}
	return v.Path, true
}

// tier3Summarize calls the provider with purpose=COMPACTION to collapse the
// oldest messages (everything but the system prompt, the first user
// message, and the messages of the keepRecent most recent iterations) into
// a single "[Summary]" system message. An iteration starts at an assistant
// message and includes the tool results that follow it.
func (a *Agent) tier3Summarize(ctx context.Context, messages []llm.Message, keepRecent int) ([]llm.Message, error) {
	if len(messages) <= keepRecent+2 {
		return messages, nil
	}

	head := messages[:2] // system prompt + initial user message
	middleEnd := len(messages)
	for seen := 0; middleEnd > 2 && seen < keepRecent; {
		middleEnd--
		if messages[middleEnd].Role == llm.RoleAssistant {
			seen++
		}
	}
	if middleEnd <= 2 {
		return messages, nil
	}
	middle := messages[2:middleEnd]
	tail := messages[middleEnd:]

	req := &llm.ChatRequest{
		Purpose: llm.PurposeCompaction,
		Messages: append(append([]llm.Message{}, middle...), llm.Message{
			Role: llm.RoleUser,
			Content: "Summarize the conversation above into a compact structured record capturing: " +
				"decisions made, files modified, blockers surfaced, and outstanding sub-goals. " +
				"Be terse; this replaces the full history.",
		}),
	}
	resp, err := a.provider.Completion(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return messages, nil
	}

	summary := llm.Message{Role: llm.RoleSystem, Content: "[Summary] " + resp.Choices[0].Message.Content}
	out := make([]llm.Message, 0, len(head)+1+len(tail))
	out = append(out, head...)
	out = append(out, summary)
	out = append(out, tail...)
	return out, nil
}
