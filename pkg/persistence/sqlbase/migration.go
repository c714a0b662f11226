// Package sqlbase holds the schema migrator shared by the SQL stores.
package sqlbase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
)

// MigrationLockID is the advisory lock that serializes migrators of
// processes starting at the same time.
const MigrationLockID int64 = 0x63726d666c6f77

var ErrMigrationVersion = errors.New("migration versions must be positive and unique")

type Migration struct {
	Version int
	Name    string
	SQL     string
}

type Migrator struct {
	db         *sql.DB
	migrations []Migration
	logger     *slog.Logger
}

func NewMigrator(db *sql.DB, migrations []Migration, logger *slog.Logger) (*Migrator, error) {
	sorted := slices.Clone(migrations)
	slices.SortFunc(sorted, func(a, b Migration) int { return a.Version - b.Version })

	for i, m := range sorted {
		if m.Version <= 0 || (i > 0 && sorted[i-1].Version == m.Version) {
			return nil, fmt.Errorf("%w: %d", ErrMigrationVersion, m.Version)
		}
	}

	return &Migrator{db: db, migrations: sorted, logger: logger.With("module", "migrator")}, nil
}

func (m *Migrator) Latest() int {
	if len(m.migrations) == 0 {
		return 0
	}

	return m.migrations[len(m.migrations)-1].Version
}

// Up applies every pending migration, each in its own transaction, and
// returns how many ran. The whole run holds MigrationLockID.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to reserve migration connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", MigrationLockID); err != nil {
		return 0, fmt.Errorf("failed to take migration lock: %w", err)
	}

	defer func() {
		if _, err := conn.ExecContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", MigrationLockID); err != nil {
			m.logger.WarnContext(ctx, "failed to release migration lock", "error", err)
		}
	}()

	_, err = conn.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`)
	if err != nil {
		return 0, fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	var current int
	if err := conn.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}

	applied := 0

	for _, migration := range m.migrations {
		if migration.Version <= current {
			continue
		}

		if err := m.apply(ctx, conn, migration); err != nil {
			return applied, err
		}

		applied++
	}

	m.logger.InfoContext(ctx, "schema up to date", "from", current, "to", max(current, m.Latest()), "applied", applied)

	return applied, nil
}

func (m *Migrator) apply(ctx context.Context, conn *sql.Conn, migration Migration) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration %d: %w", migration.Version, err)
	}

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		_ = tx.Rollback()

		return fmt.Errorf("migration %d (%s): %w", migration.Version, migration.Name, err)
	}

	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version, name) VALUES ($1, $2)",
		migration.Version, migration.Name); err != nil {
		_ = tx.Rollback()

		return fmt.Errorf("record migration %d: %w", migration.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", migration.Version, err)
	}

	m.logger.InfoContext(ctx, "migration applied", "version", migration.Version, "name", migration.Name)

	return nil
}
