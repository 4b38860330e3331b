// Package store is the embedded relational state store: one SQLite file per
// workspace, holding workspaces, PRDs, tasks, runs, blockers, batches, the
// append-only event log, checkpoints, and the supervisor's decision cache.
package store

import (
	"time"

	"gorm.io/gorm"
)

// TaskStatus is the closed set of lifecycle states a Task may occupy.
type TaskStatus string

const (
	TaskBacklog    TaskStatus = "BACKLOG"
	TaskReady      TaskStatus = "READY"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskBlocked    TaskStatus = "BLOCKED"
	TaskDone       TaskStatus = "DONE"
	TaskFailed     TaskStatus = "FAILED"
	TaskMerged     TaskStatus = "MERGED"
)

// terminal reports whether a status marks a task as no longer active.
func (s TaskStatus) terminal() bool {
	switch s {
	case TaskDone, TaskFailed, TaskMerged:
		return true
	default:
		return false
	}
}

// allowedTaskTransitions encodes the task lifecycle's legal-transition table.
var allowedTaskTransitions = map[TaskStatus][]TaskStatus{
	TaskBacklog:    {TaskReady},
	TaskReady:      {TaskBacklog, TaskInProgress},
	TaskInProgress: {TaskBlocked, TaskDone, TaskFailed},
	TaskBlocked:    {TaskReady},
	TaskFailed:     {TaskReady},
	TaskDone:       {TaskMerged},
	TaskMerged:     {},
}

// CanTransition reports whether from->to is a legal Task status transition.
func CanTransition(from, to TaskStatus) bool {
	for _, allowed := range allowedTaskTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// RunStatus is the closed set of states a Run may occupy.
type RunStatus string

const (
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
	RunStopped   RunStatus = "STOPPED"
	RunBlocked   RunStatus = "BLOCKED"
)

// BlockerMode distinguishes whether a blocker halts the run.
type BlockerMode string

const (
	BlockerSync  BlockerMode = "SYNC"
	BlockerAsync BlockerMode = "ASYNC"
)

// BlockerCategory is the closed set of blocker reasons.
type BlockerCategory string

const (
	CategoryMissingInfo        BlockerCategory = "missing-info"
	CategoryAmbiguousSpec      BlockerCategory = "ambiguous-spec"
	CategoryExternalDependency BlockerCategory = "external-dependency"
	CategoryTacticalDecision   BlockerCategory = "tactical-decision"
	CategoryEscalation         BlockerCategory = "escalation"
)

// BlockerStatus is the closed set of blocker lifecycle states.
type BlockerStatus string

const (
	BlockerOpen      BlockerStatus = "OPEN"
	BlockerAnswered  BlockerStatus = "ANSWERED"
	BlockerResolved  BlockerStatus = "RESOLVED"
	BlockerExpired   BlockerStatus = "EXPIRED"
)

// BatchStrategy selects how the Conductor schedules a batch's tasks.
type BatchStrategy string

const (
	StrategySerial   BatchStrategy = "SERIAL"
	StrategyParallel BatchStrategy = "PARALLEL"
	StrategyAuto     BatchStrategy = "AUTO"
)

// OnFailure controls whether a batch keeps scheduling independent tasks
// after one fails.
type OnFailure string

const (
	OnFailureContinue OnFailure = "CONTINUE"
	OnFailureStop     OnFailure = "STOP"
)

// BatchStatus is the closed set of batch lifecycle states.
type BatchStatus string

const (
	BatchPending   BatchStatus = "PENDING"
	BatchRunning   BatchStatus = "RUNNING"
	BatchCompleted BatchStatus = "COMPLETED"
	BatchPartial   BatchStatus = "PARTIAL"
	BatchFailed    BatchStatus = "FAILED"
	BatchCancelled BatchStatus = "CANCELLED"
)

// EventType is the closed set of append-only event-log entries.
type EventType string

const (
	EventWorkspaceInit     EventType = "WORKSPACE_INIT"
	EventPRDAdded          EventType = "PRD_ADDED"
	EventPRDUpdated        EventType = "PRD_UPDATED"
	EventTasksGenerated    EventType = "TASKS_GENERATED"
	EventTaskStatusChanged EventType = "TASK_STATUS_CHANGED"
	EventRunStarted        EventType = "RUN_STARTED"
	EventAgentStepStarted  EventType = "AGENT_STEP_STARTED"
	EventAgentStepComplete EventType = "AGENT_STEP_COMPLETED"
	EventToolCalled        EventType = "TOOL_CALLED"
	EventFilesModified     EventType = "FILES_MODIFIED"
	EventGatesStarted      EventType = "GATES_STARTED"
	EventGatesCompleted    EventType = "GATES_COMPLETED"
	EventBlockerCreated    EventType = "BLOCKER_CREATED"
	EventBlockerAnswered   EventType = "BLOCKER_ANSWERED"
	EventBlockerResolved   EventType = "BLOCKER_RESOLVED"
	EventCheckpointCreated EventType = "CHECKPOINT_CREATED"
	EventBatchStarted      EventType = "BATCH_STARTED"
	EventBatchTaskStarted  EventType = "BATCH_TASK_STARTED"
	EventBatchTaskComplete EventType = "BATCH_TASK_COMPLETED"
	EventBatchTaskFailed   EventType = "BATCH_TASK_FAILED"
	EventBatchCompleted    EventType = "BATCH_COMPLETED"
	EventBatchCancelled    EventType = "BATCH_CANCELLED"
)

// Workspace is the root of a working copy. Created once by init, never
// deleted, and owns every other entity by workspace_id.
type Workspace struct {
	ID        string `gorm:"primaryKey"`
	RepoPath  string `gorm:"not null"`
	Config    string `gorm:"type:text"` // serialized config.yaml snapshot, informational only
	CreatedAt time.Time
}

// PRD is opaque textual content with a linear version chain.
type PRD struct {
	ID            string `gorm:"primaryKey"`
	WorkspaceID   string `gorm:"index;not null"`
	ChainID       string `gorm:"index;not null"`
	ParentID      string
	Version       int    `gorm:"not null"`
	Content       string `gorm:"type:text"`
	ChangeSummary string
	CreatedAt     time.Time
}

// Task is a unit of agent work.
type Task struct {
	ID            string `gorm:"primaryKey"`
	WorkspaceID   string `gorm:"index;not null"`
	TaskNumber    int    `gorm:"uniqueIndex:uq_workspace_task_number"`
	Title         string `gorm:"not null"`
	Description   string `gorm:"type:text"`
	Status        TaskStatus `gorm:"not null;index;check:status IN ('BACKLOG','READY','IN_PROGRESS','BLOCKED','DONE','FAILED','MERGED')"`
	Priority      int
	DependsOn     string `gorm:"type:text"` // JSON array of task IDs
	Complexity    int    `gorm:"default:2"`
	AssigneeHint  string
	ResultSummary string `gorm:"type:text"`
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// Run is one execution attempt of a Task.
type Run struct {
	ID           string `gorm:"primaryKey"`
	TaskID       string `gorm:"index;not null"`
	Engine       string `gorm:"not null"` // "react" | "plan"
	Status       RunStatus `gorm:"not null;index"`
	Iterations   int
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
	StartedAt    time.Time
	FinishedAt   *time.Time
	FinalSummary string `gorm:"type:text"`
	LastError    string `gorm:"type:text"`
}

// Blocker is an open question from the agent to a human.
type Blocker struct {
	ID         string `gorm:"primaryKey"`
	TaskID     string `gorm:"index;not null"`
	Mode       BlockerMode `gorm:"not null"`
	Question   string `gorm:"type:text;not null"`
	Context    string `gorm:"type:text"`
	Category   BlockerCategory `gorm:"not null"`
	Status     BlockerStatus `gorm:"not null;index"`
	Answer     string `gorm:"type:text"`
	CreatedAt  time.Time
	AnsweredAt *time.Time
	ExpiresAt  time.Time
}

// Batch is a scheduled group of tasks run under a strategy.
type Batch struct {
	ID             string `gorm:"primaryKey"`
	WorkspaceID    string `gorm:"index;not null"`
	TaskIDs        string `gorm:"type:text"` // JSON ordered array
	Strategy       BatchStrategy `gorm:"not null"`
	MaxParallel    int    `gorm:"default:4"`
	OnFailure      OnFailure `gorm:"not null"`
	RetryBudget    int
	Status         BatchStatus `gorm:"not null;index"`
	DependencyMap  string `gorm:"type:text"` // JSON map task-id -> []dependency-id
	TaskResults    string `gorm:"type:text"` // JSON map task-id -> {status, reason}; status is a TaskStatus (DONE, FAILED or BLOCKED), not a RunStatus
	StartedAt      *time.Time
	FinishedAt     *time.Time
}

// Event is an immutable, append-only record.
type Event struct {
	ID          string `gorm:"primaryKey"`
	WorkspaceID string `gorm:"index;not null"`
	Seq         int64  `gorm:"index;not null"` // workspace-monotonic, assigned by the store
	Timestamp   time.Time `gorm:"not null"`
	Type        EventType `gorm:"not null;index"`
	SubjectID   string `gorm:"index"`
	Payload     string `gorm:"type:text"` // opaque JSON map
}

// Checkpoint is a labelled snapshot: git ref + state-store copy + event cursor.
type Checkpoint struct {
	ID          string `gorm:"primaryKey"`
	WorkspaceID string `gorm:"index;not null"`
	Label       string `gorm:"not null"`
	GitRef      string `gorm:"not null"`
	StatePath   string `gorm:"not null"` // path to the copied state-store file
	EventCursor int64  `gorm:"not null"`
	CreatedAt   time.Time
}

// DecisionCache records a Supervisor auto-resolution, keyed by
// (workspace, decision-kind), so a recurring tactical question is answered
// from the cache instead of being resolved again.
type DecisionCache struct {
	WorkspaceID  string `gorm:"primaryKey"`
	DecisionKind string `gorm:"primaryKey"`
	Answer       string `gorm:"type:text;not null"`
	CreatedAt    time.Time
}

// AllModels lists every GORM model migrated into a workspace's state.db.
func AllModels() []any {
	return []any{
		&Workspace{}, &PRD{}, &Task{}, &Run{}, &Blocker{}, &Batch{}, &Event{},
		&Checkpoint{}, &DecisionCache{},
	}
}

// AutoMigrate runs GORM's schema sync for every model. Used by tests and by
// the idempotent bootstrap path; the migrator (migrator.go) is the
// authoritative, versioned migration path for production workspaces.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(AllModels()...)
}
