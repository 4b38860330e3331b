package store

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(gdb))

	pool, err := NewPool(gdb, PoolConfig{}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return New(pool)
}

func TestTaskTransitionEnforcesTable(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Workspaces.Create(ctx, &Workspace{ID: "ws1", RepoPath: "/tmp/repo", CreatedAt: time.Now()}))
	task := &Task{ID: "t1", WorkspaceID: "ws1", TaskNumber: 1, Title: "x", Status: TaskBacklog, CreatedAt: time.Now()}
	require.NoError(t, s.Tasks.Create(ctx, task))

	require.NoError(t, s.Tasks.TransitionStatus(ctx, "t1", TaskReady))
	require.NoError(t, s.Tasks.TransitionStatus(ctx, "t1", TaskReady)) // idempotent re-application

	err := s.Tasks.TransitionStatus(ctx, "t1", TaskDone)
	assert.Error(t, err, "READY -> DONE is not a legal transition")

	require.NoError(t, s.Tasks.TransitionStatus(ctx, "t1", TaskInProgress))
	require.NoError(t, s.Tasks.TransitionStatus(ctx, "t1", TaskDone))

	got, err := s.Tasks.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, TaskDone, got.Status)
	assert.NotNil(t, got.CompletedAt)
}

func TestRunRepoRejectsConcurrentRunning(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Workspaces.Create(ctx, &Workspace{ID: "ws1", RepoPath: "/tmp/repo", CreatedAt: time.Now()}))
	require.NoError(t, s.Tasks.Create(ctx, &Task{ID: "t1", WorkspaceID: "ws1", TaskNumber: 1, Status: TaskInProgress, CreatedAt: time.Now()}))

	require.NoError(t, s.Runs.Create(ctx, &Run{ID: "r1", TaskID: "t1", Engine: "react", Status: RunRunning, StartedAt: time.Now()}))
	err := s.Runs.Create(ctx, &Run{ID: "r2", TaskID: "t1", Engine: "react", Status: RunRunning, StartedAt: time.Now()})
	assert.Error(t, err)
}

func TestEventRepoMonotonicSequence(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Workspaces.Create(ctx, &Workspace{ID: "ws1", RepoPath: "/tmp/repo", CreatedAt: time.Now()}))

	for i := 0; i < 5; i++ {
		e := &Event{ID: time.Now().Format(time.RFC3339Nano), WorkspaceID: "ws1", Type: EventTaskStatusChanged, SubjectID: "t1"}
		require.NoError(t, s.Events.Append(ctx, e))
	}

	events, err := s.Events.ListRecent(ctx, "ws1", 10)
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i := 1; i < len(events); i++ {
		assert.True(t, events[i].Seq > events[i-1].Seq)
		assert.True(t, events[i].Timestamp.After(events[i-1].Timestamp))
	}

	tail, err := s.Events.Tail(ctx, "ws1", events[2].Seq)
	require.NoError(t, err)
	assert.Len(t, tail, 2)

	emptyTail, err := s.Events.Tail(ctx, "ws1", events[len(events)-1].Seq)
	require.NoError(t, err)
	assert.Empty(t, emptyTail)
}

func TestBlockerExpireOverdue(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Workspaces.Create(ctx, &Workspace{ID: "ws1", RepoPath: "/tmp/repo", CreatedAt: time.Now()}))
	require.NoError(t, s.Tasks.Create(ctx, &Task{ID: "t1", WorkspaceID: "ws1", TaskNumber: 1, Status: TaskBlocked, CreatedAt: time.Now()}))

	past := time.Now().Add(-time.Hour)
	require.NoError(t, s.Blockers.Create(ctx, &Blocker{
		ID: "b1", TaskID: "t1", Mode: BlockerSync, Question: "q", Category: CategoryMissingInfo,
		Status: BlockerOpen, CreatedAt: past, ExpiresAt: past.Add(time.Minute),
	}))

	ids, err := s.Blockers.ExpireOverdue(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, ids)

	b, err := s.Blockers.Get(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, BlockerExpired, b.Status)
}
