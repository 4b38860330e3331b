package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/codeframe/codeframe/agent/react"
	"github.com/codeframe/codeframe/internal/eventlog"
	"github.com/codeframe/codeframe/internal/store"
)

type stubBuilder struct{}

func (stubBuilder) Build(_ context.Context, _ string, task store.Task) (react.RunContext, error) {
	return react.RunContext{Task: task}, nil
}

type stubEngine struct {
	outcome react.RunOutcome
	err     error
	block   chan struct{} // if non-nil, Run waits on ctx.Done() or this channel
}

func (e *stubEngine) Run(ctx context.Context, _ string, _ react.RunContext) (react.RunOutcome, error) {
	if e.block != nil {
		select {
		case <-ctx.Done():
			return react.RunOutcome{}, nil
		case <-e.block:
		}
	}
	return e.outcome, e.err
}

func newTestRuntime(t *testing.T, engines map[string]Engine) (*Runtime, *store.Store) {
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
	require.NoError(t, s.Tasks.Create(ctx, &store.Task{ID: "t1", WorkspaceID: "ws1", TaskNumber: 1, Status: store.TaskReady, CreatedAt: time.Now()}))

	rt := New(s, eventlog.New(s.Events), nil, stubBuilder{}, engines, DefaultEngine, zap.NewNop())
	return rt, s
}

func TestStartRunCompletes(t *testing.T) {
	rt, s := newTestRuntime(t, map[string]Engine{
		DefaultEngine: &stubEngine{outcome: react.RunOutcome{Kind: react.OutcomeCompleted, Summary: "done"}},
	})
	ctx := context.Background()

	run, outcome, err := rt.StartRun(ctx, "ws1", "t1", "")
	require.NoError(t, err)
	assert.Equal(t, react.OutcomeCompleted, outcome.Kind)
	assert.Equal(t, store.RunCompleted, run.Status)

	task, err := s.Tasks.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, store.TaskDone, task.Status)
	assert.NotNil(t, task.CompletedAt)
}

func TestStartRunRejectsNonReadyTask(t *testing.T) {
	rt, s := newTestRuntime(t, map[string]Engine{DefaultEngine: &stubEngine{}})
	ctx := context.Background()
	require.NoError(t, s.Tasks.Create(ctx, &store.Task{ID: "t2", WorkspaceID: "ws1", TaskNumber: 2, Status: store.TaskDone, CreatedAt: time.Now()}))

	_, _, err := rt.StartRun(ctx, "ws1", "t2", "")
	assert.Error(t, err)
}

func TestStopRunCancelsInFlightRun(t *testing.T) {
	block := make(chan struct{})
	rt, s := newTestRuntime(t, map[string]Engine{DefaultEngine: &stubEngine{block: block}})
	ctx := context.Background()

	done := make(chan struct{})
	var outcome react.RunOutcome
	go func() {
		_, outcome, _ = rt.StartRun(ctx, "ws1", "t1", "")
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return rt.StopRun("t1") == nil
	}, time.Second, 5*time.Millisecond)

	<-done
	assert.Equal(t, react.OutcomeFailed, outcome.Kind)

	task, err := s.Tasks.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, store.TaskFailed, task.Status)
}
