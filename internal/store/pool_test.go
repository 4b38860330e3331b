package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/codeframe/codeframe/types"
)

// newMockPool opens a Pool against a sqlmock connection instead of a real
// SQLite file, so WithWriteTx's DatabaseLocked retry/backoff path can be
// exercised deterministically without racing real file-lock contention.
func newMockPool(t *testing.T) (*Pool, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gdb, err := gorm.Open(sqlite.Dialector{Conn: db}, &gorm.Config{})
	require.NoError(t, err)

	pool, err := NewPool(gdb, PoolConfig{ConnMaxLifetime: time.Hour}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool, mock
}

func TestWithWriteTxRetriesOnDatabaseLocked(t *testing.T) {
	pool, mock := newMockPool(t)

	for i := 0; i < maxLockRetries; i++ {
		mock.ExpectBegin()
		mock.ExpectExec(".*").WillReturnError(errors.New("database is locked"))
		mock.ExpectRollback()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := pool.WithWriteTx(ctx, func(tx *gorm.DB) error {
		return tx.Exec("UPDATE tasks SET status = ?", "done").Error
	})

	require.Error(t, err)
	var typed *types.Error
	require.True(t, errors.As(err, &typed))
	assert.Equal(t, types.ErrDatabaseLocked, typed.Code)
	assert.True(t, typed.Retryable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithWriteTxFailsFastOnNonLockedError(t *testing.T) {
	pool, mock := newMockPool(t)

	mock.ExpectBegin()
	mock.ExpectExec(".*").WillReturnError(errors.New("no such table: tasks"))
	mock.ExpectRollback()

	err := pool.WithWriteTx(context.Background(), func(tx *gorm.DB) error {
		return tx.Exec("UPDATE tasks SET status = ?", "done").Error
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such table")
	require.NoError(t, mock.ExpectationsWereMet())
}
