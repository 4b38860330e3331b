package react

import (
	"fmt"
	"strings"
)

// layer1BehavioralRules is the fixed first layer of the system prompt:
// rules that hold for every task regardless of project or task content.
const layer1BehavioralRules = `You are an autonomous coding agent working inside a single project workspace.
Follow these rules at all times:
- Never generate a whole file from scratch when an existing file can be edited in place.
- Read a file before you edit it.
- Prefer the smallest edit that satisfies the task.
- If the task's intent is ambiguous, report a blocker instead of guessing semantics.
- Never delete or disable a test to make a gate pass.
- When you are done, emit a terminal plain-text summary with no further tool calls.`

// buildSystemPrompt assembles the three-layer system prompt once per run:
// fixed behavioral rules, project-derived context, and task-derived
// context.
func buildSystemPrompt(rc RunContext) string {
	var b strings.Builder
	b.WriteString(layer1BehavioralRules)
	b.WriteString("\n\n")
	b.WriteString(layer2ProjectContext(rc.Project))
	b.WriteString("\n\n")
	b.WriteString(layer3TaskContext(rc))
	return b.String()
}

func layer2ProjectContext(p ProjectContext) string {
	var b strings.Builder
	b.WriteString("# Project\n")
	if p.TechStack != "" {
		fmt.Fprintf(&b, "Tech stack: %s\n", p.TechStack)
	}
	if p.PackageMgr != "" {
		fmt.Fprintf(&b, "Package manager: %s\n", p.PackageMgr)
	}
	if p.TestCommand != "" {
		fmt.Fprintf(&b, "Test command: %s\n", p.TestCommand)
	}
	if p.LintCommand != "" {
		fmt.Fprintf(&b, "Lint command: %s\n", p.LintCommand)
	}
	if len(p.FileTree) > 0 {
		b.WriteString("File tree:\n")
		for _, path := range p.FileTree {
			fmt.Fprintf(&b, "  %s\n", path)
		}
	}
	for path, excerpt := range p.Excerpts {
		fmt.Fprintf(&b, "\n--- excerpt: %s ---\n%s\n", path, excerpt)
	}
	return b.String()
}

func layer3TaskContext(rc RunContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Task #%d: %s\n", rc.Task.TaskNumber, rc.Task.Title)
	if rc.Task.Description != "" {
		fmt.Fprintf(&b, "%s\n", rc.Task.Description)
	}
	if rc.PRDExcerpt != "" {
		fmt.Fprintf(&b, "\nRelevant PRD section:\n%s\n", rc.PRDExcerpt)
	}
	if len(rc.AnsweredBlockers) > 0 {
		b.WriteString("\nPreviously answered questions for this task:\n")
		for _, blk := range rc.AnsweredBlockers {
			fmt.Fprintf(&b, "  Q: %s\n  A: %s\n", blk.Question, blk.Answer)
		}
	}
	return b.String()
}

// buildInitialUserMessage is the first user turn: a short
// imperative to read before acting and to end with a summary.
func buildInitialUserMessage(rc RunContext) string {
	return fmt.Sprintf(
		"Begin by reading the files relevant to task #%d, then make the minimum necessary changes. "+
			"End with a final plain-text summary of what you did and which files you touched.",
		rc.Task.TaskNumber,
	)
}
