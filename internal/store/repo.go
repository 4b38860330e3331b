package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/codeframe/codeframe/types"
)

// Store bundles the pool with one typed repository per entity: projects,
// tasks, runs, blockers, batches, events, checkpoints, PRDs, and the
// decision cache.
type Store struct {
	Pool        *Pool
	Workspaces  *WorkspaceRepo
	PRDs        *PRDRepo
	Tasks       *TaskRepo
	Runs        *RunRepo
	Blockers    *BlockerRepo
	Batches     *BatchRepo
	Events      *EventRepo
	Checkpoints *CheckpointRepo
	Decisions   *DecisionRepo
}

// New wires every repository against pool.
func New(pool *Pool) *Store {
	return &Store{
		Pool:        pool,
		Workspaces:  &WorkspaceRepo{pool: pool},
		PRDs:        &PRDRepo{pool: pool},
		Tasks:       &TaskRepo{pool: pool},
		Runs:        &RunRepo{pool: pool},
		Blockers:    &BlockerRepo{pool: pool},
		Batches:     &BatchRepo{pool: pool},
		Events:      &EventRepo{pool: pool},
		Checkpoints: &CheckpointRepo{pool: pool},
		Decisions:   &DecisionRepo{pool: pool},
	}
}

func notFound(kind, id string) error {
	return types.NewError(types.ErrNotFound, fmt.Sprintf("%s %q not found", kind, id))
}

// --- WorkspaceRepo ---

type WorkspaceRepo struct{ pool *Pool }

func (r *WorkspaceRepo) Create(ctx context.Context, w *Workspace) error {
	return r.pool.WithWriteTx(ctx, func(tx *gorm.DB) error { return tx.Create(w).Error })
}

func (r *WorkspaceRepo) Get(ctx context.Context, id string) (*Workspace, error) {
	var w Workspace
	err := r.pool.WithReadTx(ctx, func(tx *gorm.DB) error { return tx.First(&w, "id = ?", id).Error })
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, notFound("workspace", id)
		}
		return nil, err
	}
	return &w, nil
}

// --- PRDRepo ---

type PRDRepo struct{ pool *Pool }

func (r *PRDRepo) Create(ctx context.Context, p *PRD) error {
	return r.pool.WithWriteTx(ctx, func(tx *gorm.DB) error { return tx.Create(p).Error })
}

func (r *PRDRepo) Get(ctx context.Context, id string) (*PRD, error) {
	var p PRD
	err := r.pool.WithReadTx(ctx, func(tx *gorm.DB) error { return tx.First(&p, "id = ?", id).Error })
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, notFound("prd", id)
		}
		return nil, err
	}
	return &p, nil
}

// LatestInChain returns the highest-version PRD sharing chainID.
func (r *PRDRepo) LatestInChain(ctx context.Context, chainID string) (*PRD, error) {
	var p PRD
	err := r.pool.WithReadTx(ctx, func(tx *gorm.DB) error {
		return tx.Where("chain_id = ?", chainID).Order("version DESC").First(&p).Error
	})
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, notFound("prd chain", chainID)
		}
		return nil, err
	}
	return &p, nil
}

func (r *PRDRepo) ListChain(ctx context.Context, chainID string) ([]PRD, error) {
	var prds []PRD
	err := r.pool.WithReadTx(ctx, func(tx *gorm.DB) error {
		return tx.Where("chain_id = ?", chainID).Order("version ASC").Find(&prds).Error
	})
	return prds, err
}

func (r *PRDRepo) ListByWorkspace(ctx context.Context, workspaceID string) ([]PRD, error) {
	var prds []PRD
	err := r.pool.WithReadTx(ctx, func(tx *gorm.DB) error {
		return tx.Where("workspace_id = ?", workspaceID).Order("created_at ASC").Find(&prds).Error
	})
	return prds, err
}

// --- TaskRepo ---

type TaskRepo struct{ pool *Pool }

func (r *TaskRepo) Create(ctx context.Context, t *Task) error {
	return r.pool.WithWriteTx(ctx, func(tx *gorm.DB) error { return tx.Create(t).Error })
}

func (r *TaskRepo) Get(ctx context.Context, id string) (*Task, error) {
	var t Task
	err := r.pool.WithReadTx(ctx, func(tx *gorm.DB) error { return tx.First(&t, "id = ?", id).Error })
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, notFound("task", id)
		}
		return nil, err
	}
	return &t, nil
}

func (r *TaskRepo) ListByWorkspace(ctx context.Context, workspaceID string, status TaskStatus) ([]Task, error) {
	var tasks []Task
	err := r.pool.WithReadTx(ctx, func(tx *gorm.DB) error {
		q := tx.Where("workspace_id = ?", workspaceID)
		if status != "" {
			q = q.Where("status = ?", status)
		}
		return q.Order("task_number ASC").Find(&tasks).Error
	})
	return tasks, err
}

// TransitionStatus enforces the task lifecycle's legal-transition table,
// rejecting with types.ErrInvalidTransition otherwise, and sets/clears
// completed_at to keep it consistent with the terminal-status invariant.
func (r *TaskRepo) TransitionStatus(ctx context.Context, id string, to TaskStatus) error {
	return r.pool.WithWriteTx(ctx, func(tx *gorm.DB) error {
		var t Task
		if err := tx.First(&t, "id = ?", id).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return notFound("task", id)
			}
			return err
		}
		if t.Status == to {
			return nil // idempotent re-application, e.g. "tasks set status READY" applied twice
		}
		if !CanTransition(t.Status, to) {
			return types.NewError(types.ErrInvalidTransition,
				fmt.Sprintf("task %s: illegal transition %s -> %s", id, t.Status, to))
		}
		updates := map[string]any{"status": to}
		if to.terminal() {
			now := time.Now().UTC()
			updates["completed_at"] = &now
		} else {
			updates["completed_at"] = nil
		}
		return tx.Model(&Task{}).Where("id = ?", id).Updates(updates).Error
	})
}

func (r *TaskRepo) Update(ctx context.Context, t *Task) error {
	return r.pool.WithWriteTx(ctx, func(tx *gorm.DB) error { return tx.Save(t).Error })
}

// --- RunRepo ---

type RunRepo struct{ pool *Pool }

func (r *RunRepo) Create(ctx context.Context, run *Run) error {
	return r.pool.WithWriteTx(ctx, func(tx *gorm.DB) error {
		var running int64
		if err := tx.Model(&Run{}).Where("task_id = ? AND status = ?", run.TaskID, RunRunning).Count(&running).Error; err != nil {
			return err
		}
		if running > 0 {
			return types.NewError(types.ErrInvalidTransition,
				fmt.Sprintf("task %s already has a RUNNING run", run.TaskID))
		}
		return tx.Create(run).Error
	})
}

func (r *RunRepo) Get(ctx context.Context, id string) (*Run, error) {
	var run Run
	err := r.pool.WithReadTx(ctx, func(tx *gorm.DB) error { return tx.First(&run, "id = ?", id).Error })
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, notFound("run", id)
		}
		return nil, err
	}
	return &run, nil
}

func (r *RunRepo) Update(ctx context.Context, run *Run) error {
	return r.pool.WithWriteTx(ctx, func(tx *gorm.DB) error { return tx.Save(run).Error })
}

func (r *RunRepo) ListByTask(ctx context.Context, taskID string) ([]Run, error) {
	var runs []Run
	err := r.pool.WithReadTx(ctx, func(tx *gorm.DB) error {
		return tx.Where("task_id = ?", taskID).Order("started_at DESC").Find(&runs).Error
	})
	return runs, err
}

// --- BlockerRepo ---

type BlockerRepo struct{ pool *Pool }

func (r *BlockerRepo) Create(ctx context.Context, b *Blocker) error {
	return r.pool.WithWriteTx(ctx, func(tx *gorm.DB) error { return tx.Create(b).Error })
}

func (r *BlockerRepo) Get(ctx context.Context, id string) (*Blocker, error) {
	var b Blocker
	err := r.pool.WithReadTx(ctx, func(tx *gorm.DB) error { return tx.First(&b, "id = ?", id).Error })
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, notFound("blocker", id)
		}
		return nil, err
	}
	return &b, nil
}

func (r *BlockerRepo) Update(ctx context.Context, b *Blocker) error {
	return r.pool.WithWriteTx(ctx, func(tx *gorm.DB) error { return tx.Save(b).Error })
}

func (r *BlockerRepo) ListOpenByWorkspace(ctx context.Context, workspaceID string) ([]Blocker, error) {
	var blockers []Blocker
	err := r.pool.WithReadTx(ctx, func(tx *gorm.DB) error {
		return tx.Joins("JOIN tasks ON tasks.id = blockers.task_id").
			Where("tasks.workspace_id = ? AND blockers.status = ?", workspaceID, BlockerOpen).
			Order("blockers.created_at ASC").Find(&blockers).Error
	})
	return blockers, err
}

func (r *BlockerRepo) ListByTask(ctx context.Context, taskID string) ([]Blocker, error) {
	var blockers []Blocker
	err := r.pool.WithReadTx(ctx, func(tx *gorm.DB) error {
		return tx.Where("task_id = ?", taskID).Order("created_at ASC").Find(&blockers).Error
	})
	return blockers, err
}

// ExpireOverdue transitions every OPEN blocker past its expiry to EXPIRED
// and returns the affected IDs.
func (r *BlockerRepo) ExpireOverdue(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	err := r.pool.WithWriteTx(ctx, func(tx *gorm.DB) error {
		var overdue []Blocker
		if err := tx.Where("status = ? AND expires_at <= ?", BlockerOpen, now).Find(&overdue).Error; err != nil {
			return err
		}
		for _, b := range overdue {
			ids = append(ids, b.ID)
		}
		if len(overdue) == 0 {
			return nil
		}
		return tx.Model(&Blocker{}).Where("status = ? AND expires_at <= ?", BlockerOpen, now).
			Update("status", BlockerExpired).Error
	})
	return ids, err
}

// --- BatchRepo ---

type BatchRepo struct{ pool *Pool }

func (r *BatchRepo) Create(ctx context.Context, b *Batch) error {
	return r.pool.WithWriteTx(ctx, func(tx *gorm.DB) error { return tx.Create(b).Error })
}

func (r *BatchRepo) Get(ctx context.Context, id string) (*Batch, error) {
	var b Batch
	err := r.pool.WithReadTx(ctx, func(tx *gorm.DB) error { return tx.First(&b, "id = ?", id).Error })
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, notFound("batch", id)
		}
		return nil, err
	}
	return &b, nil
}

func (r *BatchRepo) Update(ctx context.Context, b *Batch) error {
	return r.pool.WithWriteTx(ctx, func(tx *gorm.DB) error { return tx.Save(b).Error })
}

func (r *BatchRepo) ListByWorkspace(ctx context.Context, workspaceID string) ([]Batch, error) {
	var batches []Batch
	err := r.pool.WithReadTx(ctx, func(tx *gorm.DB) error {
		return tx.Where("workspace_id = ?", workspaceID).Order("started_at DESC").Find(&batches).Error
	})
	return batches, err
}

// --- EventRepo ---

type EventRepo struct{ pool *Pool }

// Append assigns a workspace-monotonic sequence number and a
// strictly-increasing timestamp (bumped past the prior event's
// timestamp if the wall clock hasn't advanced), then inserts the event
// atomically.
func (r *EventRepo) Append(ctx context.Context, e *Event) error {
	return r.pool.WithWriteTx(ctx, func(tx *gorm.DB) error {
		var last Event
		err := tx.Where("workspace_id = ?", e.WorkspaceID).Order("seq DESC").First(&last).Error
		switch err {
		case nil:
			e.Seq = last.Seq + 1
			now := time.Now().UTC()
			if !now.After(last.Timestamp) {
				now = last.Timestamp.Add(time.Microsecond)
			}
			e.Timestamp = now
		case gorm.ErrRecordNotFound:
			e.Seq = 1
			e.Timestamp = time.Now().UTC()
		default:
			return err
		}
		return tx.Create(e).Error
	})
}

func (r *EventRepo) ListRecent(ctx context.Context, workspaceID string, limit int) ([]Event, error) {
	var events []Event
	err := r.pool.WithReadTx(ctx, func(tx *gorm.DB) error {
		return tx.Where("workspace_id = ?", workspaceID).Order("seq DESC").Limit(limit).Find(&events).Error
	})
	// ListRecent returns newest-first per its name; reverse to chronological order.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, err
}

// Tail returns events after sinceSeq, in order, finite — callers poll
// again with the last event's Seq to continue.
func (r *EventRepo) Tail(ctx context.Context, workspaceID string, sinceSeq int64) ([]Event, error) {
	var events []Event
	err := r.pool.WithReadTx(ctx, func(tx *gorm.DB) error {
		return tx.Where("workspace_id = ? AND seq > ?", workspaceID, sinceSeq).Order("seq ASC").Find(&events).Error
	})
	return events, err
}

// --- CheckpointRepo ---

type CheckpointRepo struct{ pool *Pool }

func (r *CheckpointRepo) Create(ctx context.Context, c *Checkpoint) error {
	return r.pool.WithWriteTx(ctx, func(tx *gorm.DB) error { return tx.Create(c).Error })
}

func (r *CheckpointRepo) Get(ctx context.Context, id string) (*Checkpoint, error) {
	var c Checkpoint
	err := r.pool.WithReadTx(ctx, func(tx *gorm.DB) error { return tx.First(&c, "id = ?", id).Error })
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, notFound("checkpoint", id)
		}
		return nil, err
	}
	return &c, nil
}

func (r *CheckpointRepo) ListByWorkspace(ctx context.Context, workspaceID string) ([]Checkpoint, error) {
	var checkpoints []Checkpoint
	err := r.pool.WithReadTx(ctx, func(tx *gorm.DB) error {
		return tx.Where("workspace_id = ?", workspaceID).Order("created_at DESC").Find(&checkpoints).Error
	})
	return checkpoints, err
}

// --- DecisionRepo ---

// DecisionRepo backs the Supervisor's auto-resolution cache, keyed by
// (workspace, decision-kind); see DESIGN.md for the decision-kind
// canonicalization rule.
type DecisionRepo struct{ pool *Pool }

func (r *DecisionRepo) Get(ctx context.Context, workspaceID, decisionKind string) (*DecisionCache, bool, error) {
	var d DecisionCache
	var found bool
	err := r.pool.WithReadTx(ctx, func(tx *gorm.DB) error {
		err := tx.First(&d, "workspace_id = ? AND decision_kind = ?", workspaceID, decisionKind).Error
		if err == gorm.ErrRecordNotFound {
			return nil
		}
		found = err == nil
		return err
	})
	return &d, found, err
}

func (r *DecisionRepo) Put(ctx context.Context, d *DecisionCache) error {
	return r.pool.WithWriteTx(ctx, func(tx *gorm.DB) error {
		return tx.Save(d).Error
	})
}
