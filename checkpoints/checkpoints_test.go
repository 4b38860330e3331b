package checkpoints

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/codeframe/codeframe/internal/store"
)

func initGitRepo(t *testing.T, dir string) {
	t.Helper()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoErrorf(t, err, "git %v: %s", args, out)
	}
	run("init")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	run("commit", "--allow-empty", "-m", "initial")
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, store.AutoMigrate(gdb))
	pool, err := store.NewPool(gdb, store.PoolConfig{}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return store.New(pool)
}

func TestCreateAndRestoreRoundtrip(t *testing.T) {
	repoDir := t.TempDir()
	initGitRepo(t, repoDir)

	statePath := filepath.Join(t.TempDir(), "state.db")
	require.NoError(t, os.WriteFile(statePath, []byte("v1"), 0o644))

	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Workspaces.Create(ctx, &store.Workspace{ID: "ws1", RepoPath: repoDir, CreatedAt: time.Now()}))

	cps := New(s.Checkpoints, s.Batches, repoDir, statePath)

	cp, err := cps.Create(ctx, "ws1", "before change", 7)
	require.NoError(t, err)
	assert.NotEmpty(t, cp.GitRef)
	assert.Equal(t, int64(7), cp.EventCursor)

	// mutate state after the checkpoint
	require.NoError(t, os.WriteFile(statePath, []byte("v2"), 0o644))
	cmd := exec.Command("git", "commit", "--allow-empty", "-m", "second")
	cmd.Dir = repoDir
	require.NoError(t, cmd.Run())

	restored, err := cps.Restore(ctx, cp.ID)
	require.NoError(t, err)
	assert.Equal(t, cp.ID, restored.ID)

	data, err := os.ReadFile(statePath)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))
}

func TestListReturnsNewestFirst(t *testing.T) {
	repoDir := t.TempDir()
	initGitRepo(t, repoDir)
	statePath := filepath.Join(t.TempDir(), "state.db")
	require.NoError(t, os.WriteFile(statePath, []byte("v1"), 0o644))

	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Workspaces.Create(ctx, &store.Workspace{ID: "ws1", RepoPath: repoDir, CreatedAt: time.Now()}))

	cps := New(s.Checkpoints, s.Batches, repoDir, statePath)
	_, err := cps.Create(ctx, "ws1", "first", 1)
	require.NoError(t, err)
	_, err = cps.Create(ctx, "ws1", "second", 2)
	require.NoError(t, err)

	list, err := cps.List(ctx, "ws1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "second", list[0].Label)
}

func TestBatchIdleReflectsRunningBatches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Workspaces.Create(ctx, &store.Workspace{ID: "ws1", RepoPath: "/tmp", CreatedAt: time.Now()}))

	cps := New(s.Checkpoints, s.Batches, "/tmp", "/tmp/state.db")

	idle, err := cps.BatchIdle(ctx, "ws1")
	require.NoError(t, err)
	assert.True(t, idle)

	require.NoError(t, s.Batches.Create(ctx, &store.Batch{ID: "b1", WorkspaceID: "ws1", Status: store.BatchRunning}))

	idle, err = cps.BatchIdle(ctx, "ws1")
	require.NoError(t, err)
	assert.False(t, idle)
}
