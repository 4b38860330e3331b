// Package react implements the ReAct (Reasoning and Acting) agent loop that
// executes a single Task, with an adaptive iteration budget, a three-layer
// system prompt, loop detection, conversation compaction, and a
// gate-backed final verification sub-loop.
package react

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/codeframe/codeframe/agent/fixtracker"
	"github.com/codeframe/codeframe/agent/gates"
	"github.com/codeframe/codeframe/agent/tools"
	"github.com/codeframe/codeframe/blockers"
	"github.com/codeframe/codeframe/internal/eventlog"
	"github.com/codeframe/codeframe/internal/store"
	"github.com/codeframe/codeframe/llm"
	"github.com/codeframe/codeframe/llm/tokencount"
)

// OutcomeKind is the closed set of terminal states a Run can reach.
type OutcomeKind string

const (
	OutcomeCompleted OutcomeKind = "completed"
	OutcomeFailed    OutcomeKind = "failed"
	OutcomeBlocked   OutcomeKind = "blocked"
)

// RunOutcome is the agent's public contract: a run either completes with
// a summary and the files it touched, fails with a reason, or blocks on a
// question a human must answer.
type RunOutcome struct {
	Kind          OutcomeKind
	Summary       string
	FilesModified []string
	Reason        string
	Blocker       *store.Blocker
}

// ProjectContext is the project-derived material that feeds Layer 2 of the
// system prompt: detected stack, commands, and a snapshot of the tree.
type ProjectContext struct {
	TechStack   string
	PackageMgr  string
	TestCommand string
	LintCommand string
	FileTree    []string
	Excerpts    map[string]string // path -> snippet, keyed off the task description's hints
}

// RunContext comprises everything the loop needs about the task it is
// about to execute.
type RunContext struct {
	Task             store.Task
	Project          ProjectContext
	PRDExcerpt       string
	AnsweredBlockers []store.Blocker
}

// Config tunes the adaptive iteration budget and the sub-loops. Zero
// values resolve to DefaultConfig's defaults.
type Config struct {
	BaseIterations       int
	StepIterations       int
	MinIterations        int
	MaxIterationsCap     int
	CompactionSoftPct    float64 // trigger compaction above this fraction of the context window
	CompactionHardPct    float64 // escalate if still above this after tier 3
	CompactionKeepRecent int     // K most recent iterations tier 3 preserves verbatim
	MaxFixRetries        int
	FixLoopTurns         int
	RunCommandTimeout    time.Duration
}

// DefaultConfig returns the standard tuning: base=15, step=7, clamp
// [15,45], compaction at 75%/90%, K=8, maxFixRetries=5, 5-turn fix
// mini-loops.
func DefaultConfig() Config {
	return Config{
		BaseIterations:       15,
		StepIterations:       7,
		MinIterations:        15,
		MaxIterationsCap:     45,
		CompactionSoftPct:    0.75,
		CompactionHardPct:    0.90,
		CompactionKeepRecent: 8,
		MaxFixRetries:        5,
		FixLoopTurns:         5,
		RunCommandTimeout:    2 * time.Minute,
	}
}

// MaxIterations computes the adaptive iteration budget:
// base + step*(complexity-1), clamped to [15, 45]. A complexity of 0 or
// less is treated as the default of 2.
func (c Config) MaxIterations(complexity int) int {
	if complexity <= 0 {
		complexity = 2
	}
	n := c.BaseIterations + c.StepIterations*(complexity-1)
	if n < c.MinIterations {
		n = c.MinIterations
	}
	if n > c.MaxIterationsCap {
		n = c.MaxIterationsCap
	}
	return n
}

// Agent runs the ReAct loop for a single Task against a Provider, the fixed
// tool surface, the workspace's verification gates, and the blocker
// workflow.
type Agent struct {
	provider llm.Provider
	registry *tools.Registry
	executor *tools.Executor
	gateList []gates.Gate
	blockers *blockers.Service
	events   *eventlog.Log
	counter  *tokencount.Counter
	config   Config
	logger   *zap.Logger
}

// New builds an Agent. counter may be nil, in which case token-estimate
// driven compaction is skipped and only the iteration budget guards the
// loop.
func New(provider llm.Provider, registry *tools.Registry, gateList []gates.Gate, blockerSvc *blockers.Service, events *eventlog.Log, counter *tokencount.Counter, config Config, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		provider: provider,
		registry: registry,
		executor: tools.NewExecutor(registry, logger),
		gateList: gateList,
		blockers: blockerSvc,
		events:   events,
		counter:  counter,
		config:   config,
		logger:   logger,
	}
}

// Run executes the ReAct loop for rc.Task and returns its terminal outcome.
// workspaceID is carried only for event emission and blocker creation.
func (a *Agent) Run(ctx context.Context, workspaceID string, rc RunContext) (RunOutcome, error) {
	maxIterations := a.config.MaxIterations(rc.Task.Complexity)
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: buildSystemPrompt(rc)},
		{Role: llm.RoleUser, Content: buildInitialUserMessage(rc)},
	}

	detector := newLoopDetector()
	filesModified := map[string]struct{}{}

	for i := 0; i < maxIterations; i++ {
		a.emit(ctx, workspaceID, store.EventAgentStepStarted, rc.Task.ID, map[string]any{"iteration": i + 1})

		req := &llm.ChatRequest{
			Purpose:  llm.PurposeExecution,
			Messages: messages,
			Tools:    a.registry.List(),
		}
		resp, err := a.provider.Completion(ctx, req)
		if err != nil {
			return RunOutcome{Kind: OutcomeFailed, Reason: fmt.Sprintf("LLM call failed at iteration %d: %s", i+1, err)}, nil
		}
		if len(resp.Choices) == 0 {
			return RunOutcome{Kind: OutcomeFailed, Reason: "provider returned no choices"}, nil
		}
		choice := resp.Choices[0]
		messages = append(messages, choice.Message)

		if len(choice.Message.ToolCalls) == 0 {
			// Terminal text response: the agent believes it is done.
			return a.finalize(ctx, workspaceID, rc, choice.Message.Content, sortedKeys(filesModified))
		}

		results := a.executor.Execute(ctx, choice.Message.ToolCalls)
		for _, res := range results {
			messages = append(messages, res.ToMessage())
			a.emit(ctx, workspaceID, store.EventToolCalled, rc.Task.ID, map[string]any{
				"tool": res.Name, "error": res.Error, "duration_ms": res.Duration.Milliseconds(),
			})
			if res.Error == "" && isFileMutatingTool(res.Name) {
				if path, ok := mutatedPath(choice.Message.ToolCalls, res.ToolCallID); ok {
					filesModified[path] = struct{}{}
					a.emit(ctx, workspaceID, store.EventFilesModified, rc.Task.ID, map[string]any{"path": path, "tool": res.Name})
				}
			}
		}

		sig := signature(choice.Message.ToolCalls)
		if outcome, blocked, err := a.checkLoopDetection(ctx, workspaceID, rc, detector, sig, &messages); err != nil {
			return RunOutcome{}, err
		} else if blocked {
			return outcome, nil
		}

		if a.counter != nil {
			if outcome, blocked, err := a.checkCompaction(ctx, workspaceID, rc, &messages); err != nil {
				return RunOutcome{}, err
			} else if blocked {
				return outcome, nil
			}
		}
	}

	// Iteration cap reached without a terminal text response: fall back to
	// final verification before declaring failure.
	outcome, err := a.finalize(ctx, workspaceID, rc, "", sortedKeys(filesModified))
	if err != nil {
		return RunOutcome{}, err
	}
	if outcome.Kind == OutcomeCompleted {
		outcome.Summary = "iteration budget exhausted; verification gates passed"
		return outcome, nil
	}
	if outcome.Kind == OutcomeBlocked {
		return outcome, nil
	}
	return RunOutcome{Kind: OutcomeFailed, Reason: "iteration budget exhausted"}, nil
}

// finalize runs the verification sub-loop and builds the terminal
// outcome for a ReAct loop that produced a text response (or ran out of
// iterations).
func (a *Agent) finalize(ctx context.Context, workspaceID string, rc RunContext, summary string, filesModified []string) (RunOutcome, error) {
	if len(a.gateList) == 0 {
		return RunOutcome{Kind: OutcomeCompleted, Summary: firstNonEmpty(summary, "task completed"), FilesModified: filesModified}, nil
	}

	tracker := fixtracker.New()
	fv := &finalVerifier{agent: a, tracker: tracker}
	passed, lastReports, err := fv.run(ctx, workspaceID, rc)
	if err != nil {
		return RunOutcome{}, err
	}
	if passed {
		return RunOutcome{Kind: OutcomeCompleted, Summary: firstNonEmpty(summary, "task completed, all gates passed"), FilesModified: filesModified}, nil
	}

	blocker, err := a.blockers.Create(ctx, workspaceID, rc.Task.ID, store.BlockerSync,
		"verification gates failed after exhausting the fix sub-loop; human review required",
		renderReports(lastReports), store.CategoryEscalation)
	if err != nil {
		return RunOutcome{}, fmt.Errorf("react: raise escalation blocker: %w", err)
	}
	return RunOutcome{Kind: OutcomeBlocked, Blocker: blocker, Reason: "verification gates failed"}, nil
}

func (a *Agent) emit(ctx context.Context, workspaceID string, typ store.EventType, subjectID string, fields map[string]any) {
	if a.events == nil {
		return
	}
	if err := a.events.Emit(ctx, workspaceID, typ, subjectID, fields); err != nil {
		a.logger.Warn("emit event failed", zap.String("type", string(typ)), zap.Error(err))
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func isFileMutatingTool(name string) bool {
	return name == "create_file" || name == "edit_file"
}

func mutatedPath(calls []llm.ToolCall, toolCallID string) (string, bool) {
	for _, c := range calls {
		if c.ID != toolCallID {
			continue
		}
		var args struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal(c.Arguments, &args); err != nil || args.Path == "" {
			return "", false
		}
		return args.Path, true
	}
	return "", false
}
