package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/codeframe/codeframe/internal/store"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, store.AutoMigrate(gdb))
	pool, err := store.NewPool(gdb, store.PoolConfig{}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	s := store.New(pool)
	require.NoError(t, s.Workspaces.Create(context.Background(), &store.Workspace{ID: "ws1", RepoPath: "/tmp", CreatedAt: time.Now()}))
	return New(s.Events)
}

func TestEmitAndTailRoundTrip(t *testing.T) {
	ctx := context.Background()
	log := newTestLog(t)

	require.NoError(t, log.Emit(ctx, "ws1", store.EventTaskStatusChanged, "t1", map[string]any{"to": "READY"}))
	require.NoError(t, log.Emit(ctx, "ws1", store.EventRunStarted, "t1", map[string]any{"run_id": "r1"}))

	recent, err := log.ListRecent(ctx, "ws1", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "READY", recent[0].Fields["to"])
	assert.Equal(t, "r1", recent[1].Fields["run_id"])

	tail, err := log.Tail(ctx, "ws1", recent[0].Seq)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, store.EventRunStarted, tail[0].Type)

	again, err := log.Tail(ctx, "ws1", tail[0].Seq)
	require.NoError(t, err)
	assert.Empty(t, again)
}
