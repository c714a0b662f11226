package file

import (
	"context"
	"sort"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
)

type (
	executionDoc  = models.AutomationExecution
	attemptDoc    = models.StepAttempt
	truncationDoc = models.ChainTruncation
)

type executionRepository struct {
	p    *Persistence
	docs collection[executionDoc]
}

func (r *executionRepository) CreateExecution(_ context.Context, execution *models.AutomationExecution) (*models.AutomationExecution, bool, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	all, err := r.docs.all()
	if err != nil {
		return nil, false, persistence.NewRecordError("CreateExecution", "execution", execution.ID, err)
	}

	for _, existing := range all {
		if existing.TenantID == execution.TenantID && existing.IdempotencyKey == execution.IdempotencyKey {
			return existing, false, nil
		}
	}

	if err := r.docs.put(execution.ID, execution); err != nil {
		return nil, false, persistence.NewRecordError("CreateExecution", "execution", execution.ID, err)
	}

	return execution, true, nil
}

func (r *executionRepository) SaveExecution(_ context.Context, execution *models.AutomationExecution) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	stored, err := r.docs.get(execution.ID)
	if err != nil {
		return persistence.NewRecordError("SaveExecution", "execution", execution.ID, err)
	}

	if stored == nil {
		return persistence.NewRecordError("SaveExecution", "execution", execution.ID, persistence.ErrExecutionNotFound)
	}

	if stored.Status.Terminal() {
		return persistence.NewRecordError("SaveExecution", "execution", execution.ID, persistence.ErrExecutionImmutable)
	}

	doc := *execution
	doc.Control = stored.Control

	if err := r.docs.put(execution.ID, &doc); err != nil {
		return persistence.NewRecordError("SaveExecution", "execution", execution.ID, err)
	}

	return nil
}

func (r *executionRepository) SetControl(_ context.Context, id string, control models.ControlRequest) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	stored, err := r.docs.get(id)
	if err != nil {
		return persistence.NewRecordError("SetControl", "execution", id, err)
	}

	if stored == nil {
		return persistence.NewRecordError("SetControl", "execution", id, persistence.ErrExecutionNotFound)
	}

	if stored.Status.Terminal() {
		return persistence.NewRecordError("SetControl", "execution", id, persistence.ErrExecutionImmutable)
	}

	stored.Control = control

	if err := r.docs.put(id, stored); err != nil {
		return persistence.NewRecordError("SetControl", "execution", id, err)
	}

	return nil
}

func (r *executionRepository) ExecutionByID(_ context.Context, id string) (*models.AutomationExecution, error) {
	execution, err := r.docs.get(id)
	if err != nil {
		return nil, persistence.NewRecordError("ExecutionByID", "execution", id, err)
	}

	if execution == nil {
		return nil, persistence.NewRecordError("ExecutionByID", "execution", id, persistence.ErrExecutionNotFound)
	}

	return execution, nil
}

func (r *executionRepository) DueExecutions(_ context.Context, now time.Time, n int) ([]*models.AutomationExecution, error) {
	all, err := r.docs.all()
	if err != nil {
		return nil, persistence.NewRecordError("DueExecutions", "execution", "", err)
	}

	due := make([]*models.AutomationExecution, 0)

	for _, e := range all {
		if (e.Status == models.ExecutionPending || e.Status == models.ExecutionRunning) &&
			e.ResumeAt != nil && !e.ResumeAt.After(now) {
			due = append(due, e)
		}
	}

	sort.Slice(due, func(i, j int) bool { return due[i].ResumeAt.Before(*due[j].ResumeAt) })

	return limit(due, n), nil
}

func (r *executionRepository) Executions(_ context.Context, filter persistence.ExecutionFilter) ([]*models.AutomationExecution, error) {
	all, err := r.docs.all()
	if err != nil {
		return nil, persistence.NewRecordError("Executions", "execution", "", err)
	}

	out := make([]*models.AutomationExecution, 0, len(all))

	for _, e := range all {
		switch {
		case filter.TenantID != "" && e.TenantID != filter.TenantID,
			filter.FlowID != "" && e.FlowID != filter.FlowID,
			filter.EntityID != "" && e.EntityID != filter.EntityID,
			filter.EnrollmentID != "" && e.EnrollmentID != filter.EnrollmentID,
			filter.Status != "" && e.Status != filter.Status:
			continue
		}

		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	return limit(out, filter.Limit), nil
}

type attemptRepository struct {
	p    *Persistence
	docs collection[attemptDoc]
}

func (r *attemptRepository) RecordAttempt(_ context.Context, attempt *models.StepAttempt) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if err := r.docs.put(attempt.ID, attempt); err != nil {
		return persistence.NewRecordError("RecordAttempt", "step attempt", attempt.ID, err)
	}

	return nil
}

func (r *attemptRepository) Attempts(_ context.Context, executionID string) ([]*models.StepAttempt, error) {
	all, err := r.docs.all()
	if err != nil {
		return nil, persistence.NewRecordError("Attempts", "step attempt", "", err)
	}

	out := make([]*models.StepAttempt, 0)

	for _, a := range all {
		if a.ExecutionID == executionID {
			out = append(out, a)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Order == out[j].Order {
			return out[i].Attempt < out[j].Attempt
		}

		return out[i].Order < out[j].Order
	})

	return out, nil
}

type truncationRepository struct {
	p    *Persistence
	docs collection[truncationDoc]
}

func (r *truncationRepository) RecordTruncation(_ context.Context, truncation *models.ChainTruncation) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if err := r.docs.put(truncation.ID, truncation); err != nil {
		return persistence.NewRecordError("RecordTruncation", "chain truncation", truncation.ID, err)
	}

	return nil
}

func (r *truncationRepository) Truncations(_ context.Context, tenantID string, n int) ([]*models.ChainTruncation, error) {
	all, err := r.docs.all()
	if err != nil {
		return nil, persistence.NewRecordError("Truncations", "chain truncation", "", err)
	}

	out := make([]*models.ChainTruncation, 0)

	for _, t := range all {
		if tenantID == "" || t.TenantID == tenantID {
			out = append(out, t)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	return limit(out, n), nil
}
