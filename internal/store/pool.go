package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/codeframe/codeframe/types"
)

// PoolConfig tunes the single-file SQLite connection a workspace opens.
// WAL-journaled SQLite supports one writer and many concurrent readers,
// which is all a single-workspace, single-process CORE needs — there is
// no multi-database pool to manage here, just one file and one process.
type PoolConfig struct {
	ConnMaxLifetime     time.Duration
	HealthCheckInterval time.Duration
}

// DefaultPoolConfig returns sensible defaults for a workspace-local store.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		ConnMaxLifetime:     time.Hour,
		HealthCheckInterval: 30 * time.Second,
	}
}

// Pool wraps the workspace's *gorm.DB with single-writer discipline:
// writers are serialized (SQLite's own file lock plus a process-local
// mutex so DatabaseLocked retries stay inside the process instead of
// racing the OS lock). Readers do not take that mutex, but the pool keeps
// a single open connection, so reads and writes still take turns on it.
type Pool struct {
	db       *gorm.DB
	sqlDB    *sql.DB
	config   PoolConfig
	logger   *zap.Logger
	writeMu  sync.Mutex
	mu       sync.RWMutex
	closed   bool
	stopHealth chan struct{}
}

// NewPool wraps db (already opened against a workspace's state.db) with
// pool bookkeeping and a background health check.
func NewPool(db *gorm.DB, config PoolConfig, logger *zap.Logger) (*Pool, error) {
	if db == nil {
		return nil, fmt.Errorf("store: db cannot be nil")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("store: failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1) // WAL single-writer; GORM serializes on this handle
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)

	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		db:         db,
		sqlDB:      sqlDB,
		config:     config,
		logger:     logger.With(zap.String("component", "store_pool")),
		stopHealth: make(chan struct{}),
	}

	if config.HealthCheckInterval > 0 {
		go p.healthCheckLoop()
	}
	return p, nil
}

// DB returns the underlying GORM handle for ad-hoc queries.
func (p *Pool) DB() *gorm.DB {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.db
}

// Ping checks the connection is alive.
func (p *Pool) Ping(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("store: pool is closed")
	}
	return p.sqlDB.PingContext(ctx)
}

// Close releases the underlying connection and stops the health loop.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.stopHealth)
	return p.sqlDB.Close()
}

func (p *Pool) healthCheckLoop() {
	ticker := time.NewTicker(p.config.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopHealth:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := p.Ping(ctx); err != nil {
				p.logger.Error("state store health check failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// TxFunc is a unit of work run inside a transaction.
type TxFunc func(tx *gorm.DB) error

// maxLockRetries bounds the DatabaseLocked backoff: retryable, exponential
// backoff capped at 5 attempts.
const maxLockRetries = 5

// WithWriteTx runs fn inside a transaction, serialized against all other
// writers in this process via writeMu, and retries on SQLITE_BUSY /
// "database is locked" with bounded exponential backoff, surfacing
// types.ErrDatabaseLocked if every attempt is exhausted.
func (p *Pool) WithWriteTx(ctx context.Context, fn TxFunc) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	backoff := 50 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxLockRetries; attempt++ {
		err := p.DB().WithContext(ctx).Transaction(fn)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isLockedError(err) {
			return err
		}
		p.logger.Warn("state store locked, retrying",
			zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return types.NewError(types.ErrDatabaseLocked,
		fmt.Sprintf("state store locked after %d attempts", maxLockRetries)).
		WithCause(lastErr).WithRetryable(true)
}

// WithReadTx runs fn against the plain handle, outside any transaction and
// without taking writeMu; it still waits for the pool's single connection.
func (p *Pool) WithReadTx(ctx context.Context, fn TxFunc) error {
	return fn(p.DB().WithContext(ctx))
}

func isLockedError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "busy")
}
