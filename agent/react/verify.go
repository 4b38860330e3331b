package react

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/codeframe/codeframe/agent/fixtracker"
	"github.com/codeframe/codeframe/agent/gates"
	"github.com/codeframe/codeframe/agent/tools"
	"github.com/codeframe/codeframe/llm"
)

// finalVerifier runs the final-verification sub-loop: gates, then
// (on failure) a no-LLM quick-fix pass, then a bounded mini ReAct fix
// loop, deduplicated by fixtracker so the same failure signature never
// gets retried past twice.
type finalVerifier struct {
	agent   *Agent
	tracker *fixtracker.Tracker
}

// quickFixPattern matches a known, mechanically fixable failure in a
// gate's combined output and proposes a shell command that fixes it
// without involving the model.
type quickFixPattern struct {
	name    string
	match   *regexp.Regexp
	command func(workDir string, matches []string) string
}

var quickFixPatterns = []quickFixPattern{
	{
		name:  "gofmt delta",
		match: regexp.MustCompile(`(?m)^([\w./-]+\.go)$`),
		command: func(workDir string, matches []string) string {
			return "gofmt -w " + matches[1]
		},
	},
	{
		name:  "goimports missing import",
		match: regexp.MustCompile(`undefined: (\w+)`),
		command: func(workDir string, matches []string) string {
			return "goimports -w ."
		},
	},
}

// run executes the sub-loop and returns whether verification ultimately
// passed, along with the last set of gate reports observed.
func (fv *finalVerifier) run(ctx context.Context, workspaceID string, rc RunContext) (bool, []gates.Report, error) {
	reports := gates.RunAll(ctx, fv.agent.gateList)
	if gates.AllPassed(reports) {
		return true, reports, nil
	}

	if fixed, newReports := fv.tryQuickFix(ctx, reports); fixed {
		return true, newReports, nil
	} else if newReports != nil {
		reports = newReports
	}

	maxRetries := fv.agent.config.MaxFixRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		failing := gates.FailingReports(reports)
		failure := firstFailure(failing)
		sig := fixtracker.Signature(failure.Gate, failureKind(failure), touchedFiles(failing))
		fv.tracker.Record(sig)
		if fv.tracker.Recurs(sig) {
			// This exact failure signature has now recurred twice without
			// resolution — stop retrying, let the caller escalate.
			return false, reports, nil
		}

		if err := fv.miniFixAttempt(ctx, failing); err != nil {
			return false, reports, err
		}

		reports = gates.RunAll(ctx, fv.agent.gateList)
		if gates.AllPassed(reports) {
			return true, reports, nil
		}
	}

	return false, reports, nil
}

// tryQuickFix pattern-matches the combined failing output against a small
// registry of mechanically fixable patterns and applies at most one fix
// without any LLM call.
func (fv *finalVerifier) tryQuickFix(ctx context.Context, reports []gates.Report) (bool, []gates.Report) {
	combined := renderReports(gates.FailingReports(reports))
	for _, p := range quickFixPatterns {
		m := p.match.FindStringSubmatch(combined)
		if m == nil {
			continue
		}
		cmd := p.command("", m)
		if _, err := tools.RunHostCommand(ctx, "", "", cmd, fv.agent.config.RunCommandTimeout); err != nil {
			continue
		}
		newReports := gates.RunAll(ctx, fv.agent.gateList)
		if gates.AllPassed(newReports) {
			return true, newReports
		}
		return false, newReports
	}
	return false, nil
}

// miniFixAttempt runs one bounded ReAct mini-loop (at most FixLoopTurns
// provider turns, purpose=CORRECTION) scoped to the failing gate report.
func (fv *finalVerifier) miniFixAttempt(ctx context.Context, reports []gates.Report) error {
	a := fv.agent
	messages := []llm.Message{
		{
			Role: llm.RoleSystem,
			Content: "Fix exactly these verification failures; do not refactor unrelated code; " +
				"do not disable or delete tests.\n\n" + renderReports(reports),
		},
	}

	turns := a.config.FixLoopTurns
	if turns <= 0 {
		turns = 5
	}

	for i := 0; i < turns; i++ {
		req := &llm.ChatRequest{Purpose: llm.PurposeCorrection, Messages: messages, Tools: a.registry.List()}
		resp, err := a.provider.Completion(ctx, req)
		if err != nil {
			return fmt.Errorf("react: fix attempt LLM call failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			return nil
		}
		choice := resp.Choices[0]
		messages = append(messages, choice.Message)
		if len(choice.Message.ToolCalls) == 0 {
			return nil
		}
		results := a.executor.Execute(ctx, choice.Message.ToolCalls)
		for _, res := range results {
			messages = append(messages, res.ToMessage())
		}
	}
	return nil
}

func firstFailure(reports []gates.Report) gates.Report {
	for _, r := range reports {
		if !r.Passed {
			return r
		}
	}
	return gates.Report{}
}

func failureKind(r gates.Report) string {
	if r.Infra {
		return "infra:" + r.Reason
	}
	return fmt.Sprintf("exit:%d", r.ExitCode)
}

// touchedFiles supplies the file component of the fix signature. It returns
// the names of the failing gates; the files a fix attempt edits are not
// tracked.
func touchedFiles(reports []gates.Report) []string {
	var files []string
	for _, r := range reports {
		if r.Passed {
			continue
		}
		files = append(files, r.Gate)
	}
	return files
}

func renderReports(reports []gates.Report) string {
	var b strings.Builder
	for _, r := range reports {
		status := "PASS"
		if !r.Passed {
			status = "FAIL"
		}
		if r.Infra {
			status = "INFRA-FAIL"
		}
		fmt.Fprintf(&b, "=== %s: %s ===\n", r.Gate, status)
		if r.Reason != "" {
			fmt.Fprintf(&b, "reason: %s\n", r.Reason)
		}
		if r.Stdout != "" {
			fmt.Fprintf(&b, "stdout:\n%s\n", r.Stdout)
		}
		if r.Stderr != "" {
			fmt.Fprintf(&b, "stderr:\n%s\n", r.Stderr)
		}
	}
	return b.String()
}
