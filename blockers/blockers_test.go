package blockers

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/codeframe/codeframe/internal/eventlog"
	"github.com/codeframe/codeframe/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
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
	require.NoError(t, s.Tasks.Create(ctx, &store.Task{ID: "t1", WorkspaceID: "ws1", TaskNumber: 1, Status: store.TaskInProgress, CreatedAt: time.Now()}))

	return New(s.Blockers, eventlog.New(s.Events)), s
}

func TestBlockerLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	b, err := svc.Create(ctx, "ws1", "t1", store.BlockerSync, "which auth?", "prd excerpt", store.CategoryAmbiguousSpec)
	require.NoError(t, err)

	has, err := svc.HasOpenSyncBlocker(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, has)

	_, err = svc.Answer(ctx, "ws1", b.ID, "Use JWT")
	require.NoError(t, err)

	has, err = svc.HasOpenSyncBlocker(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, has)

	resolved, err := svc.Resolve(ctx, "ws1", b.ID)
	require.NoError(t, err)
	assert.Equal(t, store.BlockerResolved, resolved.Status)
}

func TestExpireOverdueAttachesSentinelAnswer(t *testing.T) {
	ctx := context.Background()
	svc, s := newTestService(t)

	b, err := svc.Create(ctx, "ws1", "t1", store.BlockerAsync, "q", "", store.CategoryMissingInfo)
	require.NoError(t, err)

	stored, err := s.Blockers.Get(ctx, b.ID)
	require.NoError(t, err)
	stored.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, s.Blockers.Update(ctx, stored))

	ids, err := svc.ExpireOverdue(ctx, "ws1")
	require.NoError(t, err)
	require.Contains(t, ids, b.ID)

	got, err := s.Blockers.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, store.BlockerExpired, got.Status)
	assert.Equal(t, ExpiredAnswer, got.Answer)
}
