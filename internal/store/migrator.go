package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/sqlite/*.sql
var migrationsFS embed.FS

// Migrator applies the ordered, idempotent schema migrations a
// workspace's state.db needs: the schema evolves via an ordered sequence
// of migrations, each idempotent and applied once per schema-version row.
// The state store is always a single SQLite file per workspace, so only
// the sqlite3 golang-migrate driver and migration set are wired; see
// DESIGN.md for why other dialects were dropped.
type Migrator struct {
	db      *sql.DB
	migrate *migrate.Migrate
}

// NewMigrator opens dbPath (a workspace's state.db) and prepares the
// embedded sqlite migration set against it.
func NewMigrator(dbPath string) (*Migrator, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=rwc&_journal_mode=WAL&_foreign_keys=on", dbPath))
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dbPath, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping %s: %w", dbPath, err)
	}

	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: sqlite3 driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations/sqlite")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate instance: %w", err)
	}
	return &Migrator{db: db, migrate: m}, nil
}

// Up applies all pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	if err := m.migrate.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store: migrate up: %w", err)
	}
	return nil
}

// Version returns the current schema version, or (0, false, nil) if no
// migration has ever been applied.
func (m *Migrator) Version(ctx context.Context) (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return version, dirty, nil
}

// Close releases the migrator's database handle.
func (m *Migrator) Close() error {
	sourceErr, dbErr := m.migrate.Close()
	if sourceErr != nil {
		return sourceErr
	}
	return dbErr
}
