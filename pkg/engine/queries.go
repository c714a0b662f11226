package engine

import (
	"context"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
)

func (e *Engine) GetExecution(ctx context.Context, id string) (*models.AutomationExecution, error) {
	return e.ledger.Execution(ctx, id)
}

func (e *Engine) ListExecutions(ctx context.Context, filter persistence.ExecutionFilter) ([]*models.AutomationExecution, error) {
	return e.ledger.Executions(ctx, filter)
}

// ListAttempts returns every attempt of every step of the execution, oldest first.
func (e *Engine) ListAttempts(ctx context.Context, executionID string) ([]*models.StepAttempt, error) {
	if _, err := e.ledger.Execution(ctx, executionID); err != nil {
		return nil, err
	}

	return e.ledger.Attempts(ctx, executionID)
}

func (e *Engine) ListTruncations(ctx context.Context, tenantID string, limit int) ([]*models.ChainTruncation, error) {
	return e.ledger.Truncations(ctx, tenantID, limit)
}

func (e *Engine) GetEnrollment(ctx context.Context, id string) (*models.CadenceEnrollment, error) {
	return e.store.Enrollments().EnrollmentByID(ctx, id)
}

func (e *Engine) ListEnrollments(ctx context.Context, filter persistence.EnrollmentFilter) ([]*models.CadenceEnrollment, error) {
	return e.store.Enrollments().Enrollments(ctx, filter)
}

func (e *Engine) GetFlow(ctx context.Context, tenantID, id string) (*models.AutomationFlow, error) {
	return e.store.Flows().FlowByID(ctx, tenantID, id)
}

func (e *Engine) ListFlows(ctx context.Context, filter persistence.FlowFilter) ([]*models.AutomationFlow, error) {
	return e.store.Flows().Flows(ctx, filter)
}

func (e *Engine) GetCadence(ctx context.Context, tenantID, id string) (*models.Cadence, error) {
	return e.store.Cadences().CadenceByID(ctx, tenantID, id)
}

func (e *Engine) ListCadences(ctx context.Context, filter persistence.ProgramFilter) ([]*models.Cadence, error) {
	return e.store.Cadences().Cadences(ctx, filter)
}

func (e *Engine) GetInactivityRule(ctx context.Context, tenantID, id string) (*models.InactivityRule, error) {
	return e.store.InactivityRules().InactivityRuleByID(ctx, tenantID, id)
}

func (e *Engine) ListInactivityRules(ctx context.Context, filter persistence.ProgramFilter) ([]*models.InactivityRule, error) {
	return e.store.InactivityRules().InactivityRules(ctx, filter)
}

func (e *Engine) GetTemplate(ctx context.Context, tenantID, id string) (*models.MessageTemplate, error) {
	return e.store.Templates().TemplateByID(ctx, tenantID, id)
}
