package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
)

// ExecutionRepository handles automation execution persistence.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

const executionColumns = `document, control`

// scanExecution overlays the control column, which SaveExecution never writes.
func scanExecution(row scanner) (*models.AutomationExecution, error) {
	var (
		raw     []byte
		control string
	)

	if err := row.Scan(&raw, &control); err != nil {
		return nil, err
	}

	var execution models.AutomationExecution
	if err := json.Unmarshal(raw, &execution); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}

	execution.Control = models.ControlRequest(control)

	return &execution, nil
}

func (r *ExecutionRepository) query(ctx context.Context, query string, args ...any) ([]*models.AutomationExecution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	executions := make([]*models.AutomationExecution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}

		executions = append(executions, execution)
	}

	return executions, rows.Err()
}

func (r *ExecutionRepository) CreateExecution(ctx context.Context, execution *models.AutomationExecution) (*models.AutomationExecution, bool, error) {
	document, err := json.Marshal(execution)
	if err != nil {
		return nil, false, persistence.NewRecordError("CreateExecution", "execution", execution.ID, err)
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO automation_executions
			(id, tenant_id, source, flow_id, enrollment_id, entity_id, idempotency_key, status, control, resume_at, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (tenant_id, idempotency_key) DO NOTHING`,
		execution.ID, execution.TenantID, string(execution.Source), nullable(execution.FlowID),
		nullable(execution.EnrollmentID), execution.EntityID, execution.IdempotencyKey,
		string(execution.Status), string(execution.Control), execution.ResumeAt, document,
		execution.CreatedAt, execution.UpdatedAt,
	)
	if err != nil {
		return nil, false, persistence.NewRecordError("CreateExecution", "execution", execution.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, false, persistence.NewRecordError("CreateExecution", "execution", execution.ID, err)
	}

	if affected == 1 {
		return execution, true, nil
	}

	row := r.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM automation_executions WHERE tenant_id = $1 AND idempotency_key = $2`,
		execution.TenantID, execution.IdempotencyKey)

	existing, err := scanExecution(row)
	if err != nil {
		return nil, false, persistence.NewRecordError("CreateExecution", "execution", execution.ID, err)
	}

	return existing, false, nil
}

func (r *ExecutionRepository) SaveExecution(ctx context.Context, execution *models.AutomationExecution) error {
	document, err := json.Marshal(execution)
	if err != nil {
		return persistence.NewRecordError("SaveExecution", "execution", execution.ID, err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE automation_executions
		SET status = $2, resume_at = $3, document = $4, updated_at = $5
		WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')`,
		execution.ID, string(execution.Status), execution.ResumeAt, document, execution.UpdatedAt,
	)
	if err != nil {
		return persistence.NewRecordError("SaveExecution", "execution", execution.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewRecordError("SaveExecution", "execution", execution.ID, err)
	}

	if affected == 1 {
		return nil
	}

	return r.missingOrImmutable(ctx, "SaveExecution", execution.ID)
}

func (r *ExecutionRepository) SetControl(ctx context.Context, id string, control models.ControlRequest) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE automation_executions SET control = $2
		WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')`, id, string(control))
	if err != nil {
		return persistence.NewRecordError("SetControl", "execution", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewRecordError("SetControl", "execution", id, err)
	}

	if affected == 1 {
		return nil
	}

	return r.missingOrImmutable(ctx, "SetControl", id)
}

func (r *ExecutionRepository) missingOrImmutable(ctx context.Context, op, id string) error {
	var exists bool

	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM automation_executions WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return persistence.NewRecordError(op, "execution", id, err)
	}

	if !exists {
		return persistence.NewRecordError(op, "execution", id, persistence.ErrExecutionNotFound)
	}

	return persistence.NewRecordError(op, "execution", id, persistence.ErrExecutionImmutable)
}

func (r *ExecutionRepository) ExecutionByID(ctx context.Context, id string) (*models.AutomationExecution, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM automation_executions WHERE id = $1`, id)

	execution, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewRecordError("ExecutionByID", "execution", id, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, persistence.NewRecordError("ExecutionByID", "execution", id, err)
	}

	return execution, nil
}

func (r *ExecutionRepository) DueExecutions(ctx context.Context, now time.Time, limit int) ([]*models.AutomationExecution, error) {
	executions, err := r.query(ctx, `
		SELECT `+executionColumns+` FROM automation_executions
		WHERE status IN ('pending', 'running') AND resume_at IS NOT NULL AND resume_at <= $1
		ORDER BY resume_at
		LIMIT $2`, now, batch(limit))
	if err != nil {
		return nil, persistence.NewRecordError("DueExecutions", "execution", "", err)
	}

	return executions, nil
}

func (r *ExecutionRepository) Executions(ctx context.Context, filter persistence.ExecutionFilter) ([]*models.AutomationExecution, error) {
	var w where

	if filter.TenantID != "" {
		w.add("tenant_id = $%d", filter.TenantID)
	}

	if filter.FlowID != "" {
		w.add("flow_id = $%d", filter.FlowID)
	}

	if filter.EntityID != "" {
		w.add("entity_id = $%d", filter.EntityID)
	}

	if filter.EnrollmentID != "" {
		w.add("enrollment_id = $%d", filter.EnrollmentID)
	}

	if filter.Status != "" {
		w.add("status = $%d", string(filter.Status))
	}

	query := `SELECT ` + executionColumns + ` FROM automation_executions` + w.String() + ` ORDER BY created_at DESC` + w.limit(filter.Limit)

	executions, err := r.query(ctx, query, w.args...)
	if err != nil {
		return nil, persistence.NewRecordError("Executions", "execution", "", err)
	}

	return executions, nil
}

// AttemptRepository appends step attempts to the ledger.
type AttemptRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *AttemptRepository) RecordAttempt(ctx context.Context, attempt *models.StepAttempt) error {
	document, err := json.Marshal(attempt)
	if err != nil {
		return persistence.NewRecordError("RecordAttempt", "step attempt", attempt.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO step_attempts (id, execution_id, tenant_id, step_order, attempt, status, document, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		attempt.ID, attempt.ExecutionID, attempt.TenantID, attempt.Order, attempt.Attempt,
		string(attempt.Status), document, attempt.StartedAt, attempt.FinishedAt,
	)
	if err != nil {
		return persistence.NewRecordError("RecordAttempt", "step attempt", attempt.ID, err)
	}

	return nil
}

func (r *AttemptRepository) Attempts(ctx context.Context, executionID string) ([]*models.StepAttempt, error) {
	attempts, err := queryDocuments[models.StepAttempt](ctx, r.db, r.logger, `
		SELECT document FROM step_attempts WHERE execution_id = $1 ORDER BY step_order, attempt`, executionID)
	if err != nil {
		return nil, persistence.NewRecordError("Attempts", "step attempt", "", err)
	}

	return attempts, nil
}

// TruncationRepository records causal chains cut by the depth guard.
type TruncationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *TruncationRepository) RecordTruncation(ctx context.Context, truncation *models.ChainTruncation) error {
	document, err := json.Marshal(truncation)
	if err != nil {
		return persistence.NewRecordError("RecordTruncation", "chain truncation", truncation.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO chain_truncations (id, tenant_id, root_event_id, document, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		truncation.ID, truncation.TenantID, truncation.RootEventID, document, truncation.CreatedAt,
	)
	if err != nil {
		return persistence.NewRecordError("RecordTruncation", "chain truncation", truncation.ID, err)
	}

	return nil
}

func (r *TruncationRepository) Truncations(ctx context.Context, tenantID string, limit int) ([]*models.ChainTruncation, error) {
	var w where

	if tenantID != "" {
		w.add("tenant_id = $%d", tenantID)
	}

	query := `SELECT document FROM chain_truncations` + w.String() + ` ORDER BY created_at DESC` + w.limit(limit)

	truncations, err := queryDocuments[models.ChainTruncation](ctx, r.db, r.logger, query, w.args...)
	if err != nil {
		return nil, persistence.NewRecordError("Truncations", "chain truncation", "", err)
	}

	return truncations, nil
}
