package conductor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/codeframe/codeframe/agent/react"
	"github.com/codeframe/codeframe/internal/eventlog"
	"github.com/codeframe/codeframe/internal/store"
	"github.com/codeframe/codeframe/llm"
	"github.com/codeframe/codeframe/runtime"
	"github.com/codeframe/codeframe/types"
)

// Conductor schedules a batch's tasks against the shared Runtime, honoring
// strategy, dependency ordering, a bounded worker pool, retries, and
// cooperative cancellation. The worker pool is built on
// golang.org/x/sync/errgroup bounded by a semaphore-style channel rather
// than an unbounded goroutine-per-task fan-out, since a batch has a hard
// max-parallel cap.
type Conductor struct {
	store      *store.Store
	events     *eventlog.Log
	runtime    *runtime.Runtime
	provider   llm.Provider
	supervisor *Supervisor
	logger     *zap.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc // batchID -> cancel
}

// New wires a Conductor.
func New(st *store.Store, events *eventlog.Log, rt *runtime.Runtime, provider llm.Provider, supervisor *Supervisor, logger *zap.Logger) *Conductor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Conductor{
		store:      st,
		events:     events,
		runtime:    rt,
		provider:   provider,
		supervisor: supervisor,
		logger:     logger,
		cancels:    make(map[string]context.CancelFunc),
	}
}

// taskResult is the terminal outcome recorded for one task within a batch.
type taskResult struct {
	Status store.TaskStatus `json:"status"`
	Reason string           `json:"reason,omitempty"`
}

// StartBatch creates and runs a new batch over taskIDs under strategy,
// blocking until the batch reaches a terminal status.
func (c *Conductor) StartBatch(ctx context.Context, workspaceID string, taskIDs []string, strategy store.BatchStrategy, maxParallel int, onFailure store.OnFailure, retryBudget int, explicitDeps map[string][]string) (*store.Batch, error) {
	if _, err := c.store.Workspaces.Get(ctx, workspaceID); err != nil {
		return nil, types.NewError(types.ErrWorkspaceMissing, fmt.Sprintf("workspace %q not found", workspaceID)).WithCause(err)
	}
	if maxParallel <= 0 {
		maxParallel = 4
	}

	idsJSON, err := json.Marshal(taskIDs)
	if err != nil {
		return nil, fmt.Errorf("conductor: marshal task ids: %w", err)
	}

	batch := &store.Batch{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		TaskIDs:     string(idsJSON),
		Strategy:    strategy,
		MaxParallel: maxParallel,
		OnFailure:   onFailure,
		RetryBudget: retryBudget,
		Status:      store.BatchPending,
	}
	if err := c.store.Batches.Create(ctx, batch); err != nil {
		return nil, fmt.Errorf("conductor: create batch: %w", err)
	}

	return c.run(ctx, batch, explicitDeps, false)
}

// ResumeBatch reloads batchID and re-executes tasks whose per-task result
// is FAILED or BLOCKED (or every task, if force), preserving already-DONE
// results.
func (c *Conductor) ResumeBatch(ctx context.Context, batchID string, force bool) (*store.Batch, error) {
	batch, err := c.store.Batches.Get(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("conductor: load batch: %w", err)
	}
	return c.run(ctx, batch, nil, force)
}

// CancelBatch signals cooperative cancellation for an in-flight batch.
// Workers observe it between iterations; already-completed tasks are
// unaffected.
func (c *Conductor) CancelBatch(batchID string) error {
	c.mu.Lock()
	cancel, ok := c.cancels[batchID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("conductor: no in-flight batch %s", batchID)
	}
	cancel()
	return nil
}

func (c *Conductor) run(ctx context.Context, batch *store.Batch, explicitDeps map[string][]string, force bool) (*store.Batch, error) {
	var taskIDs []string
	if err := json.Unmarshal([]byte(batch.TaskIDs), &taskIDs); err != nil {
		return nil, fmt.Errorf("conductor: decode batch task ids: %w", err)
	}
	tasks := make([]store.Task, 0, len(taskIDs))
	for _, id := range taskIDs {
		t, err := c.store.Tasks.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("conductor: load task %s: %w", id, err)
		}
		tasks = append(tasks, *t)
	}

	depMap := explicitDeps
	if depMap == nil && batch.DependencyMap != "" {
		if err := json.Unmarshal([]byte(batch.DependencyMap), &depMap); err != nil {
			return nil, fmt.Errorf("conductor: decode dependency map: %w", err)
		}
	}
	resolved, err := resolveDependencyMap(ctx, c.provider, batch.Strategy, tasks, depMap)
	if err != nil {
		batch.Status = store.BatchFailed
		_ = c.store.Batches.Update(ctx, batch)
		return batch, err
	}

	dag, err := BuildDAG(tasks, resolved)
	if err != nil {
		batch.Status = store.BatchFailed
		_ = c.store.Batches.Update(ctx, batch)
		return batch, err
	}
	if batch.Strategy == store.StrategySerial {
		// SERIAL means "run tasks in submitted order, one at a time": cap
		// concurrency at 1 regardless of the batch's configured max-parallel.
		batch.MaxParallel = 1
	}

	depJSON, _ := json.Marshal(resolved)
	batch.DependencyMap = string(depJSON)
	batch.Status = store.BatchRunning
	now := time.Now().UTC()
	if batch.StartedAt == nil {
		batch.StartedAt = &now
	}
	if err := c.store.Batches.Update(ctx, batch); err != nil {
		return nil, fmt.Errorf("conductor: mark batch running: %w", err)
	}
	c.emit(ctx, batch.WorkspaceID, store.EventBatchStarted, batch.ID, map[string]any{"strategy": string(batch.Strategy)})

	results := c.loadResults(batch)
	runCtx, cancel := context.WithCancel(ctx)
	c.registerCancel(batch.ID, cancel)
	defer c.clearCancel(batch.ID)

	cancelled := c.schedule(runCtx, batch, dag, results, force)

	c.finalizeBatch(ctx, batch, dag, results, cancelled)
	return batch, nil
}

// schedule drives the ready/in-flight/done loop, honoring on-failure and
// retry-budget, and reports whether the run ended because of an explicit
// CancelBatch call.
func (c *Conductor) schedule(ctx context.Context, batch *store.Batch, dag *DAG, results map[string]taskResult, force bool) bool {
	done := map[string]bool{}
	inFlight := map[string]bool{}
	attempts := map[string]int{}
	var mu sync.Mutex
	stopScheduling := false
	cancelled := false

	eligible := func(id string) bool {
		r, ok := results[id]
		if !ok {
			return true
		}
		if force {
			return true
		}
		return r.Status == store.TaskFailed || r.Status == store.TaskBlocked
	}
	for id := range dag.tasks {
		if !eligible(id) {
			done[id] = true // preserve already-DONE results across a resume
		}
	}

	sem := make(chan struct{}, batch.MaxParallel)
	for {
		select {
		case <-ctx.Done():
			cancelled = true
		default:
		}

		mu.Lock()
		ready := dag.Ready(done, inFlight)
		allTerminal := len(done)+len(inFlight) >= len(dag.tasks)
		mu.Unlock()

		if cancelled || stopScheduling || allTerminal {
			break
		}
		if len(ready) == 0 && len(inFlight) == 0 {
			// no progress possible: remaining tasks are unsatisfiable
			mu.Lock()
			for id := range dag.tasks {
				if !done[id] && !inFlight[id] {
					c.markUnsatisfiable(ctx, batch, id, results)
					done[id] = true
				}
			}
			mu.Unlock()
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, id := range ready {
			id := id

			sem <- struct{}{}
			mu.Lock()
			if stopScheduling {
				mu.Unlock()
				<-sem
				break
			}
			inFlight[id] = true
			mu.Unlock()

			g.Go(func() error {
				defer func() { <-sem }()
				status := c.runTask(gctx, batch, id, attempts)

				mu.Lock()
				delete(inFlight, id)
				done[id] = true
				results[id] = status
				mu.Unlock()

				c.persistResults(ctx, batch, results)

				if status.Status == store.TaskFailed && batch.OnFailure == store.OnFailureStop {
					mu.Lock()
					stopScheduling = true
					mu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	return cancelled
}

// runTask executes one task (and its retries, up to batch.RetryBudget) via
// the shared Runtime, each attempt a fresh Run.
func (c *Conductor) runTask(ctx context.Context, batch *store.Batch, taskID string, attempts map[string]int) taskResult {
	c.emit(ctx, batch.WorkspaceID, store.EventBatchTaskStarted, taskID, nil)

	_, outcome, err := c.runtime.StartRun(ctx, batch.WorkspaceID, taskID, "")
	for {
		if err != nil {
			c.logger.Warn("conductor: task run failed to start", zap.String("task_id", taskID), zap.Error(err))
			return taskResult{Status: store.TaskFailed, Reason: err.Error()}
		}

		switch outcome.Kind {
		case react.OutcomeCompleted:
			c.emit(ctx, batch.WorkspaceID, store.EventBatchTaskComplete, taskID, map[string]any{"summary": outcome.Summary})
			return taskResult{Status: store.TaskDone}

		case react.OutcomeBlocked:
			if c.supervisor != nil && outcome.Blocker != nil {
				resolved, resErr := c.supervisor.TryResolve(ctx, batch.WorkspaceID, outcome.Blocker)
				if resErr != nil {
					c.logger.Warn("conductor: supervisor resolution failed", zap.String("task_id", taskID), zap.Error(resErr))
				}
				if resolved {
					_, outcome, err = c.runtime.ResumeRun(ctx, batch.WorkspaceID, taskID, "")
					continue
				}
			}
			c.emit(ctx, batch.WorkspaceID, store.EventBatchTaskFailed, taskID, map[string]any{"reason": "blocked"})
			return taskResult{Status: store.TaskBlocked, Reason: outcome.Reason}

		default:
			attempts[taskID]++
			c.emit(ctx, batch.WorkspaceID, store.EventBatchTaskFailed, taskID, map[string]any{"reason": outcome.Reason, "attempt": attempts[taskID]})
			if attempts[taskID] > batch.RetryBudget {
				return taskResult{Status: store.TaskFailed, Reason: outcome.Reason}
			}
			if transErr := c.store.Tasks.TransitionStatus(ctx, taskID, store.TaskReady); transErr != nil {
				return taskResult{Status: store.TaskFailed, Reason: outcome.Reason}
			}
			_, outcome, err = c.runtime.StartRun(ctx, batch.WorkspaceID, taskID, "")
		}
	}
}

func (c *Conductor) markUnsatisfiable(ctx context.Context, batch *store.Batch, taskID string, results map[string]taskResult) {
	_ = c.store.Tasks.TransitionStatus(ctx, taskID, store.TaskBlocked)
	results[taskID] = taskResult{Status: store.TaskBlocked, Reason: "unsatisfiable dependency"}
	c.emit(ctx, batch.WorkspaceID, store.EventBatchTaskFailed, taskID, map[string]any{"reason": "unsatisfiable dependency"})
}

// finalizeBatch computes the batch's terminal status from its per-task
// results, implementing the decided CANCELLED-wins-over-FAILED/PARTIAL
// status-priority rule.
func (c *Conductor) finalizeBatch(ctx context.Context, batch *store.Batch, dag *DAG, results map[string]taskResult, cancelled bool) {
	c.persistResults(ctx, batch, results)

	now := time.Now().UTC()
	batch.FinishedAt = &now

	switch {
	case cancelled:
		batch.Status = store.BatchCancelled
		c.emit(ctx, batch.WorkspaceID, store.EventBatchCancelled, batch.ID, nil)
	default:
		allDone, anySucceeded, anyFailed, anyBlocked := true, false, false, false
		for _, t := range dag.Tasks() {
			r, ok := results[t.ID]
			if !ok {
				allDone = false
				continue
			}
			switch r.Status {
			case store.TaskDone:
				anySucceeded = true
			case store.TaskFailed:
				anyFailed, allDone = true, false
			case store.TaskBlocked:
				anyBlocked, allDone = true, false
			default:
				allDone = false
			}
		}
		switch {
		case allDone:
			batch.Status = store.BatchCompleted
		case anySucceeded && (anyFailed || anyBlocked):
			batch.Status = store.BatchPartial
		default:
			batch.Status = store.BatchFailed
		}
		c.emit(ctx, batch.WorkspaceID, store.EventBatchCompleted, batch.ID, map[string]any{"status": string(batch.Status)})
	}

	if err := c.store.Batches.Update(ctx, batch); err != nil {
		c.logger.Warn("conductor: persist final batch status failed", zap.Error(err))
	}
}

func (c *Conductor) loadResults(batch *store.Batch) map[string]taskResult {
	results := map[string]taskResult{}
	if batch.TaskResults == "" {
		return results
	}
	_ = json.Unmarshal([]byte(batch.TaskResults), &results)
	return results
}

func (c *Conductor) persistResults(ctx context.Context, batch *store.Batch, results map[string]taskResult) {
	b, err := json.Marshal(results)
	if err != nil {
		return
	}
	batch.TaskResults = string(b)
	if err := c.store.Batches.Update(ctx, batch); err != nil {
		c.logger.Warn("conductor: persist task results failed", zap.Error(err))
	}
}

func (c *Conductor) emit(ctx context.Context, workspaceID string, typ store.EventType, subjectID string, fields map[string]any) {
	if c.events == nil {
		return
	}
	if err := c.events.Emit(ctx, workspaceID, typ, subjectID, fields); err != nil {
		c.logger.Warn("conductor: emit event failed", zap.String("type", string(typ)), zap.Error(err))
	}
}

func (c *Conductor) registerCancel(batchID string, cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancels[batchID] = cancel
}

func (c *Conductor) clearCancel(batchID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cancels, batchID)
}
