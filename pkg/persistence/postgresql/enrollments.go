package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/lib/pq"
)

// EnrollmentRepository handles cadence and inactivity enrollment persistence.
type EnrollmentRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func enrollmentArgs(e *models.CadenceEnrollment) ([]any, error) {
	document, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}

	return []any{
		e.ID, e.TenantID, string(e.ProgramKind), e.ProgramID, e.EntityID, string(e.Status),
		e.NextStepAt, e.EnrolledAt, document, e.CreatedAt, e.UpdatedAt,
	}, nil
}

func (r *EnrollmentRepository) CreateEnrollment(ctx context.Context, enrollment *models.CadenceEnrollment) (*models.CadenceEnrollment, bool, error) {
	args, err := enrollmentArgs(enrollment)
	if err != nil {
		return nil, false, persistence.NewRecordError("CreateEnrollment", "enrollment", enrollment.ID, err)
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO cadence_enrollments
			(id, tenant_id, program_kind, program_id, entity_id, status, next_step_at, enrolled_at, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (tenant_id, program_kind, program_id, entity_id) WHERE status IN ('active', 'paused') DO NOTHING`,
		args...)
	if err != nil {
		return nil, false, persistence.NewRecordError("CreateEnrollment", "enrollment", enrollment.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, false, persistence.NewRecordError("CreateEnrollment", "enrollment", enrollment.ID, err)
	}

	if affected == 1 {
		return enrollment, true, nil
	}

	existing, err := r.OpenEnrollment(ctx, enrollment.TenantID, enrollment.ProgramKind, enrollment.ProgramID, enrollment.EntityID)
	if err != nil {
		return nil, false, err
	}

	return existing, false, nil
}

func (r *EnrollmentRepository) SaveEnrollment(ctx context.Context, enrollment *models.CadenceEnrollment) error {
	args, err := enrollmentArgs(enrollment)
	if err != nil {
		return persistence.NewRecordError("SaveEnrollment", "enrollment", enrollment.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO cadence_enrollments
			(id, tenant_id, program_kind, program_id, entity_id, status, next_step_at, enrolled_at, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			next_step_at = EXCLUDED.next_step_at,
			document = EXCLUDED.document,
			updated_at = EXCLUDED.updated_at`,
		args...)
	if err != nil {
		return persistence.NewRecordError("SaveEnrollment", "enrollment", enrollment.ID, err)
	}

	return nil
}

func (r *EnrollmentRepository) EnrollmentByID(ctx context.Context, id string) (*models.CadenceEnrollment, error) {
	row := r.db.QueryRowContext(ctx, `SELECT document FROM cadence_enrollments WHERE id = $1`, id)

	enrollment, err := scanDocument[models.CadenceEnrollment](row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewRecordError("EnrollmentByID", "enrollment", id, persistence.ErrEnrollmentNotFound)
	}

	if err != nil {
		return nil, persistence.NewRecordError("EnrollmentByID", "enrollment", id, err)
	}

	return enrollment, nil
}

func (r *EnrollmentRepository) OpenEnrollment(ctx context.Context, tenantID string, kind models.ProgramKind, programID, entityID string) (*models.CadenceEnrollment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT document FROM cadence_enrollments
		WHERE tenant_id = $1 AND program_kind = $2 AND program_id = $3 AND entity_id = $4 AND status IN ('active', 'paused')`,
		tenantID, string(kind), programID, entityID)

	enrollment, err := scanDocument[models.CadenceEnrollment](row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewRecordError("OpenEnrollment", "enrollment", "", persistence.ErrEnrollmentNotFound)
	}

	if err != nil {
		return nil, persistence.NewRecordError("OpenEnrollment", "enrollment", "", err)
	}

	return enrollment, nil
}

func (r *EnrollmentRepository) DueEnrollments(ctx context.Context, now time.Time, limit int) ([]*models.CadenceEnrollment, error) {
	enrollments, err := queryDocuments[models.CadenceEnrollment](ctx, r.db, r.logger, `
		SELECT document FROM cadence_enrollments
		WHERE status = 'active' AND next_step_at IS NOT NULL AND next_step_at <= $1
		ORDER BY next_step_at
		LIMIT $2`, now, batch(limit))
	if err != nil {
		return nil, persistence.NewRecordError("DueEnrollments", "enrollment", "", err)
	}

	return enrollments, nil
}

func (r *EnrollmentRepository) Enrollments(ctx context.Context, filter persistence.EnrollmentFilter) ([]*models.CadenceEnrollment, error) {
	var w where

	if filter.TenantID != "" {
		w.add("tenant_id = $%d", filter.TenantID)
	}

	if filter.ProgramKind != "" {
		w.add("program_kind = $%d", string(filter.ProgramKind))
	}

	if filter.ProgramID != "" {
		w.add("program_id = $%d", filter.ProgramID)
	}

	if filter.EntityID != "" {
		w.add("entity_id = $%d", filter.EntityID)
	}

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}

		w.add("status = ANY($%d)", pq.Array(statuses))
	}

	query := `SELECT document FROM cadence_enrollments` + w.String() + ` ORDER BY enrolled_at DESC` + w.limit(filter.Limit)

	enrollments, err := queryDocuments[models.CadenceEnrollment](ctx, r.db, r.logger, query, w.args...)
	if err != nil {
		return nil, persistence.NewRecordError("Enrollments", "enrollment", "", err)
	}

	return enrollments, nil
}
