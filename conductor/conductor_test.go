package conductor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/codeframe/codeframe/agent/react"
	"github.com/codeframe/codeframe/blockers"
	"github.com/codeframe/codeframe/internal/eventlog"
	"github.com/codeframe/codeframe/internal/store"
	"github.com/codeframe/codeframe/runtime"
)

func TestBuildDAGRejectsCycle(t *testing.T) {
	tasks := []store.Task{{ID: "a"}, {ID: "b"}}
	_, err := BuildDAG(tasks, map[string][]string{"a": {"b"}, "b": {"a"}})
	assert.Error(t, err)
}

func TestBuildDAGReadyRespectsDependencies(t *testing.T) {
	tasks := []store.Task{{ID: "a"}, {ID: "b"}}
	dag, err := BuildDAG(tasks, map[string][]string{"b": {"a"}})
	require.NoError(t, err)

	ready := dag.Ready(map[string]bool{}, map[string]bool{})
	assert.ElementsMatch(t, []string{"a"}, ready)

	ready = dag.Ready(map[string]bool{"a": true}, map[string]bool{})
	assert.ElementsMatch(t, []string{"b"}, ready)
}

type stubBuilder struct{}

func (stubBuilder) Build(_ context.Context, _ string, task store.Task) (react.RunContext, error) {
	return react.RunContext{Task: task}, nil
}

// queueEngine returns the next queued outcome per task ID, defaulting to
// OutcomeCompleted once its queue is drained.
type queueEngine struct {
	mu     sync.Mutex
	queues map[string][]react.RunOutcome
}

func (e *queueEngine) Run(_ context.Context, _ string, rc react.RunContext) (react.RunOutcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	q := e.queues[rc.Task.ID]
	if len(q) == 0 {
		return react.RunOutcome{Kind: react.OutcomeCompleted, Summary: "done"}, nil
	}
	next := q[0]
	e.queues[rc.Task.ID] = q[1:]
	return next, nil
}

func newTestConductor(t *testing.T, engine *queueEngine) (*Conductor, *store.Store) {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, store.AutoMigrate(gdb))
	pool, err := store.NewPool(gdb, store.PoolConfig{}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	s := store.New(pool)

	ctx := context.Background()
	require.NoError(t, s.Workspaces.Create(ctx, &store.Workspace{ID: "ws1", RepoPath: "/tmp", CreatedAt: time.Now()}))

	events := eventlog.New(s.Events)
	rt := runtime.New(s, events, blockers.New(s.Blockers, events), stubBuilder{}, map[string]runtime.Engine{
		runtime.DefaultEngine: engine,
	}, runtime.DefaultEngine, zap.NewNop())

	supervisor := NewSupervisor(s.Decisions, blockers.New(s.Blockers, events), events)
	c := New(s, events, rt, nil, supervisor, zap.NewNop())
	return c, s
}

func mustCreateTask(t *testing.T, s *store.Store, id string, number int) {
	t.Helper()
	require.NoError(t, s.Tasks.Create(context.Background(), &store.Task{
		ID: id, WorkspaceID: "ws1", TaskNumber: number, Title: "task " + id,
		Status: store.TaskReady, CreatedAt: time.Now(),
	}))
}

func TestConductorParallelBatchCompletes(t *testing.T) {
	engine := &queueEngine{queues: map[string][]react.RunOutcome{}}
	c, s := newTestConductor(t, engine)
	mustCreateTask(t, s, "t1", 1)
	mustCreateTask(t, s, "t2", 2)

	batch, err := c.StartBatch(context.Background(), "ws1", []string{"t1", "t2"}, store.StrategyParallel, 2, store.OnFailureContinue, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, store.BatchCompleted, batch.Status)

	t1, err := s.Tasks.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, store.TaskDone, t1.Status)
}

func TestConductorRetryRecoversFailedTask(t *testing.T) {
	engine := &queueEngine{queues: map[string][]react.RunOutcome{
		"t1": {{Kind: react.OutcomeFailed, Reason: "transient"}},
	}}
	c, s := newTestConductor(t, engine)
	mustCreateTask(t, s, "t1", 1)

	batch, err := c.StartBatch(context.Background(), "ws1", []string{"t1"}, store.StrategyParallel, 1, store.OnFailureContinue, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, store.BatchCompleted, batch.Status)
}

func TestConductorOnFailureStopHaltsScheduling(t *testing.T) {
	engine := &queueEngine{queues: map[string][]react.RunOutcome{
		"t1": {{Kind: react.OutcomeFailed, Reason: "boom"}},
	}}
	c, s := newTestConductor(t, engine)
	mustCreateTask(t, s, "t1", 1)
	mustCreateTask(t, s, "t2", 2)

	batch, err := c.StartBatch(context.Background(), "ws1", []string{"t1", "t2"}, store.StrategySerial, 1, store.OnFailureStop, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, store.BatchFailed, batch.Status)
}

func TestSupervisorCachesTacticalDecision(t *testing.T) {
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, store.AutoMigrate(gdb))
	pool, err := store.NewPool(gdb, store.PoolConfig{}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	s := store.New(pool)
	ctx := context.Background()
	require.NoError(t, s.Workspaces.Create(ctx, &store.Workspace{ID: "ws1", RepoPath: "/tmp", CreatedAt: time.Now()}))
	require.NoError(t, s.Tasks.Create(ctx, &store.Task{ID: "t1", WorkspaceID: "ws1", TaskNumber: 1, Status: store.TaskInProgress, CreatedAt: time.Now()}))

	events := eventlog.New(s.Events)
	bsvc := blockers.New(s.Blockers, events)
	sup := NewSupervisor(s.Decisions, bsvc, events)

	b, err := bsvc.Create(ctx, "ws1", "t1", store.BlockerSync, "which of {npm, yarn} should I use for this install?", "", store.CategoryTacticalDecision)
	require.NoError(t, err)

	resolved, err := sup.TryResolve(ctx, "ws1", b)
	require.NoError(t, err)
	assert.True(t, resolved)

	_, found, err := s.Decisions.Get(ctx, "ws1", canonicalizeDecisionKind(b.Question, b.Category))
	require.NoError(t, err)
	assert.True(t, found)
}

func TestSupervisorLeavesNonTacticalBlockerOpen(t *testing.T) {
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, store.AutoMigrate(gdb))
	pool, err := store.NewPool(gdb, store.PoolConfig{}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	s := store.New(pool)
	ctx := context.Background()
	require.NoError(t, s.Workspaces.Create(ctx, &store.Workspace{ID: "ws1", RepoPath: "/tmp", CreatedAt: time.Now()}))
	require.NoError(t, s.Tasks.Create(ctx, &store.Task{ID: "t1", WorkspaceID: "ws1", TaskNumber: 1, Status: store.TaskInProgress, CreatedAt: time.Now()}))

	events := eventlog.New(s.Events)
	bsvc := blockers.New(s.Blockers, events)
	sup := NewSupervisor(s.Decisions, bsvc, events)

	b, err := bsvc.Create(ctx, "ws1", "t1", store.BlockerSync, "what API key should I use?", "", store.CategoryMissingInfo)
	require.NoError(t, err)

	resolved, err := sup.TryResolve(ctx, "ws1", b)
	require.NoError(t, err)
	assert.False(t, resolved)
}
