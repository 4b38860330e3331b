// Package runtime is the single-task orchestrator invoked by both the CLI
// and the batch conductor: it owns the engine-name -> Agent mapping,
// drives a Task through its state-store transitions around a single Run,
// and supports cooperative cancellation via a mutex-guarded registry
// keyed by task ID.
package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codeframe/codeframe/agent/react"
	"github.com/codeframe/codeframe/blockers"
	"github.com/codeframe/codeframe/internal/eventlog"
	"github.com/codeframe/codeframe/internal/store"
)

// Engine runs a task to a terminal outcome. *react.Agent satisfies this
// directly; it exists as an interface so the legacy plan-then-execute
// engine the spec allows for can be registered without runtime depending
// on agent/react concretely.
type Engine interface {
	Run(ctx context.Context, workspaceID string, rc react.RunContext) (react.RunOutcome, error)
}

// ContextBuilder assembles the RunContext an Engine needs for a task:
// project preferences, file inventory, PRD excerpt, and answered
// blockers.
type ContextBuilder interface {
	Build(ctx context.Context, workspaceID string, task store.Task) (react.RunContext, error)
}

// DefaultEngine names the ReAct engine, the only one registered today.
const DefaultEngine = "react"

// Runtime drives single-task Runs against the state store.
type Runtime struct {
	store    *store.Store
	events   *eventlog.Log
	blockers *blockers.Service
	builder  ContextBuilder
	engines  map[string]Engine
	def      string

	mu      sync.Mutex
	cancels map[string]context.CancelFunc // taskID -> cancel for its in-flight Run

	logger *zap.Logger
}

// New builds a Runtime. engines must contain at least def; engines absent
// from the map are rejected by StartRun at call time.
func New(st *store.Store, events *eventlog.Log, blockerSvc *blockers.Service, builder ContextBuilder, engines map[string]Engine, def string, logger *zap.Logger) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	if def == "" {
		def = DefaultEngine
	}
	return &Runtime{
		store:    st,
		events:   events,
		blockers: blockerSvc,
		builder:  builder,
		engines:  engines,
		def:      def,
		cancels:  make(map[string]context.CancelFunc),
		logger:   logger,
	}
}

// StartRun transitions taskID to IN_PROGRESS, creates a Run, invokes the
// named engine (the empty string selects the default), records the
// outcome, and transitions the task to its terminal status. It blocks for
// the duration of the Run; callers wanting concurrency (the conductor)
// invoke it from their own goroutines.
func (rt *Runtime) StartRun(ctx context.Context, workspaceID, taskID, engine string) (*store.Run, react.RunOutcome, error) {
	if engine == "" {
		engine = rt.def
	}
	eng, ok := rt.engines[engine]
	if !ok {
		return nil, react.RunOutcome{}, fmt.Errorf("runtime: unknown engine %q", engine)
	}

	task, err := rt.store.Tasks.Get(ctx, taskID)
	if err != nil {
		return nil, react.RunOutcome{}, fmt.Errorf("runtime: load task: %w", err)
	}
	if !store.CanTransition(task.Status, store.TaskInProgress) {
		return nil, react.RunOutcome{}, fmt.Errorf("runtime: task %s cannot start from status %s", taskID, task.Status)
	}

	runCtx, cancel := context.WithCancel(ctx)
	rt.registerCancel(taskID, cancel)
	defer rt.clearCancel(taskID)

	if err := rt.transitionTask(ctx, workspaceID, task, store.TaskInProgress); err != nil {
		return nil, react.RunOutcome{}, err
	}

	run := &store.Run{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		Engine:    engine,
		Status:    store.RunRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := rt.store.Runs.Create(ctx, run); err != nil {
		return nil, react.RunOutcome{}, fmt.Errorf("runtime: create run: %w", err)
	}
	rt.emit(ctx, workspaceID, store.EventRunStarted, taskID, map[string]any{"run_id": run.ID, "engine": engine})

	rc, err := rt.builder.Build(runCtx, workspaceID, *task)
	if err != nil {
		return rt.finishRun(ctx, workspaceID, task, run, react.RunOutcome{Kind: react.OutcomeFailed, Reason: fmt.Sprintf("build context: %s", err)})
	}

	outcome, err := eng.Run(runCtx, workspaceID, rc)
	if err != nil {
		return rt.finishRun(ctx, workspaceID, task, run, react.RunOutcome{Kind: react.OutcomeFailed, Reason: err.Error()})
	}
	if runCtx.Err() != nil {
		outcome = react.RunOutcome{Kind: react.OutcomeFailed, Reason: "cancelled"}
	}
	return rt.finishRun(ctx, workspaceID, task, run, outcome)
}

// StopRun cooperatively cancels taskID's in-flight Run. The Agent observes
// cancellation between iterations; StopRun itself returns immediately
// without waiting for that to happen.
func (rt *Runtime) StopRun(taskID string) error {
	rt.mu.Lock()
	cancel, ok := rt.cancels[taskID]
	rt.mu.Unlock()
	if !ok {
		return fmt.Errorf("runtime: no in-flight run for task %s", taskID)
	}
	cancel()
	return nil
}

// ResumeRun re-enters a BLOCKED task whose blockers are all resolved and
// continues it via StartRun. It is an error to resume a task that still
// has an open sync blocker.
func (rt *Runtime) ResumeRun(ctx context.Context, workspaceID, taskID, engine string) (*store.Run, react.RunOutcome, error) {
	task, err := rt.store.Tasks.Get(ctx, taskID)
	if err != nil {
		return nil, react.RunOutcome{}, fmt.Errorf("runtime: load task: %w", err)
	}
	if task.Status != store.TaskBlocked {
		return nil, react.RunOutcome{}, fmt.Errorf("runtime: task %s is not BLOCKED (status=%s)", taskID, task.Status)
	}
	if rt.blockers != nil {
		open, err := rt.blockers.HasOpenSyncBlocker(ctx, taskID)
		if err != nil {
			return nil, react.RunOutcome{}, fmt.Errorf("runtime: check open blockers: %w", err)
		}
		if open {
			return nil, react.RunOutcome{}, fmt.Errorf("runtime: task %s still has an unresolved sync blocker", taskID)
		}
	}

	if err := rt.transitionTask(ctx, workspaceID, task, store.TaskReady); err != nil {
		return nil, react.RunOutcome{}, err
	}
	return rt.StartRun(ctx, workspaceID, taskID, engine)
}

func (rt *Runtime) finishRun(ctx context.Context, workspaceID string, task *store.Task, run *store.Run, outcome react.RunOutcome) (*store.Run, react.RunOutcome, error) {
	now := time.Now().UTC()
	run.FinishedAt = &now

	var nextStatus store.TaskStatus
	switch outcome.Kind {
	case react.OutcomeCompleted:
		run.Status = store.RunCompleted
		run.FinalSummary = outcome.Summary
		nextStatus = store.TaskDone
	case react.OutcomeBlocked:
		run.Status = store.RunBlocked
		run.LastError = outcome.Reason
		nextStatus = store.TaskBlocked
	default:
		run.Status = store.RunFailed
		run.LastError = outcome.Reason
		nextStatus = store.TaskFailed
	}

	if err := rt.store.Runs.Update(ctx, run); err != nil {
		return nil, outcome, fmt.Errorf("runtime: update run: %w", err)
	}
	if err := rt.transitionTask(ctx, workspaceID, task, nextStatus); err != nil {
		return run, outcome, err
	}
	if outcome.Kind == react.OutcomeCompleted {
		task.ResultSummary = outcome.Summary
		if err := rt.store.Tasks.Update(ctx, task); err != nil {
			rt.logger.Warn("persist task result summary failed", zap.Error(err))
		}
	}
	return run, outcome, nil
}

func (rt *Runtime) transitionTask(ctx context.Context, workspaceID string, task *store.Task, to store.TaskStatus) error {
	if err := rt.store.Tasks.TransitionStatus(ctx, task.ID, to); err != nil {
		return fmt.Errorf("runtime: transition task %s to %s: %w", task.ID, to, err)
	}
	from := task.Status
	task.Status = to
	rt.emit(ctx, workspaceID, store.EventTaskStatusChanged, task.ID, map[string]any{"from": from, "to": to})
	return nil
}

func (rt *Runtime) emit(ctx context.Context, workspaceID string, typ store.EventType, subjectID string, fields map[string]any) {
	if rt.events == nil {
		return
	}
	if err := rt.events.Emit(ctx, workspaceID, typ, subjectID, fields); err != nil {
		rt.logger.Warn("emit event failed", zap.String("type", string(typ)), zap.Error(err))
	}
}

func (rt *Runtime) registerCancel(taskID string, cancel context.CancelFunc) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.cancels[taskID] = cancel
}

func (rt *Runtime) clearCancel(taskID string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	delete(rt.cancels, taskID)
}
