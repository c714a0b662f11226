// Package postgresql provides the PostgreSQL persistence implementation.
package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/persistence/sqlbase"
	_ "github.com/lib/pq"
)

const defaultBatch = 1000

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger

	flows       *FlowRepository
	cadences    *CadenceRepository
	rules       *InactivityRuleRepository
	templates   *TemplateRepository
	enrollments *EnrollmentRepository
	executions  *ExecutionRepository
	attempts    *AttemptRepository
	truncations *TruncationRepository
}

// NewPersistence connects to databaseURL and runs pending migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrator, err := sqlbase.NewMigrator(database, migrations(), logger)
	if err != nil {
		return nil, err
	}

	if _, err := migrator.Up(ctx); err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return NewPersistenceWithDB(database, logger), nil
}

// NewPersistenceWithDB wraps an open database without running migrations.
func NewPersistenceWithDB(db *sql.DB, logger *slog.Logger) *Persistence {
	logger = logger.With("module", "postgresql")

	return &Persistence{
		db:          db,
		logger:      logger,
		flows:       &FlowRepository{db: db, logger: logger},
		cadences:    &CadenceRepository{db: db, logger: logger},
		rules:       &InactivityRuleRepository{db: db, logger: logger},
		templates:   &TemplateRepository{db: db},
		enrollments: &EnrollmentRepository{db: db, logger: logger},
		executions:  &ExecutionRepository{db: db, logger: logger},
		attempts:    &AttemptRepository{db: db, logger: logger},
		truncations: &TruncationRepository{db: db, logger: logger},
	}
}

// DB exposes the connection pool for components sharing it, such as the
// advisory lock backend.
func (p *Persistence) DB() *sql.DB {
	return p.db
}

func (p *Persistence) Flows() persistence.FlowRepository                     { return p.flows }
func (p *Persistence) Cadences() persistence.CadenceRepository               { return p.cadences }
func (p *Persistence) InactivityRules() persistence.InactivityRuleRepository { return p.rules }
func (p *Persistence) Templates() persistence.TemplateRepository             { return p.templates }
func (p *Persistence) Enrollments() persistence.EnrollmentRepository         { return p.enrollments }
func (p *Persistence) Executions() persistence.ExecutionRepository           { return p.executions }
func (p *Persistence) Attempts() persistence.AttemptRepository               { return p.attempts }
func (p *Persistence) Truncations() persistence.TruncationRepository         { return p.truncations }

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// where accumulates positional filter clauses.
type where struct {
	clauses []string
	args    []any
}

// add appends clause, whose single %d verb receives the argument position.
func (w *where) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(clause, len(w.args)))
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}

	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func (w *where) limit(n int) string {
	if n <= 0 {
		return ""
	}

	w.args = append(w.args, n)

	return fmt.Sprintf(" LIMIT $%d", len(w.args))
}

func batch(n int) int {
	if n <= 0 {
		return defaultBatch
	}

	return n
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument[T any](row scanner) (*T, error) {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		return nil, err
	}

	var doc T
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}

	return &doc, nil
}

func queryDocuments[T any](ctx context.Context, db *sql.DB, logger *slog.Logger, query string, args ...any) ([]*T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	docs := make([]*T, 0)

	for rows.Next() {
		doc, err := scanDocument[T](rows)
		if err != nil {
			return nil, err
		}

		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return docs, nil
}
