// Package persistence defines the storage contracts of the automation engine.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/crmflow/pkg/models"
)

type Persistence interface {
	Flows() FlowRepository
	Cadences() CadenceRepository
	InactivityRules() InactivityRuleRepository
	Enrollments() EnrollmentRepository
	Executions() ExecutionRepository
	Attempts() AttemptRepository
	Truncations() TruncationRepository
	Templates() TemplateRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// FlowFilter narrows flow listings. Zero values match everything.
type FlowFilter struct {
	TenantID     string
	ActiveOnly   bool
	TriggerTypes []models.TriggerType
}

type FlowRepository interface {
	SaveFlow(ctx context.Context, flow *models.AutomationFlow) error
	FlowByID(ctx context.Context, tenantID, id string) (*models.AutomationFlow, error)
	Flows(ctx context.Context, filter FlowFilter) ([]*models.AutomationFlow, error)
	// RecordFlowRun bumps the denormalized execution counters.
	RecordFlowRun(ctx context.Context, tenantID, id string, at time.Time) error
}

// ProgramFilter narrows cadence and inactivity rule listings.
type ProgramFilter struct {
	TenantID   string
	ActiveOnly bool
}

type CadenceRepository interface {
	SaveCadence(ctx context.Context, cadence *models.Cadence) error
	CadenceByID(ctx context.Context, tenantID, id string) (*models.Cadence, error)
	Cadences(ctx context.Context, filter ProgramFilter) ([]*models.Cadence, error)
}

type InactivityRuleRepository interface {
	SaveInactivityRule(ctx context.Context, rule *models.InactivityRule) error
	InactivityRuleByID(ctx context.Context, tenantID, id string) (*models.InactivityRule, error)
	InactivityRules(ctx context.Context, filter ProgramFilter) ([]*models.InactivityRule, error)
}

type EnrollmentFilter struct {
	TenantID    string
	ProgramKind models.ProgramKind
	ProgramID   string
	EntityID    string
	Statuses    []models.EnrollmentStatus
	Limit       int
}

type EnrollmentRepository interface {
	// CreateEnrollment inserts enrollment unless an open (active or paused)
	// enrollment exists for the same program and entity. It returns the stored
	// enrollment and whether it was created by this call.
	CreateEnrollment(ctx context.Context, enrollment *models.CadenceEnrollment) (*models.CadenceEnrollment, bool, error)
	SaveEnrollment(ctx context.Context, enrollment *models.CadenceEnrollment) error
	EnrollmentByID(ctx context.Context, id string) (*models.CadenceEnrollment, error)
	OpenEnrollment(ctx context.Context, tenantID string, kind models.ProgramKind, programID, entityID string) (*models.CadenceEnrollment, error)
	DueEnrollments(ctx context.Context, now time.Time, limit int) ([]*models.CadenceEnrollment, error)
	Enrollments(ctx context.Context, filter EnrollmentFilter) ([]*models.CadenceEnrollment, error)
}

type ExecutionFilter struct {
	TenantID     string
	FlowID       string
	EntityID     string
	EnrollmentID string
	Status       models.ExecutionStatus
	Limit        int
}

type ExecutionRepository interface {
	// CreateExecution inserts execution unless its idempotency key is taken.
	// It returns the stored execution and whether it was created by this call.
	CreateExecution(ctx context.Context, execution *models.AutomationExecution) (*models.AutomationExecution, bool, error)
	// SaveExecution updates a stored execution. Terminal executions are
	// immutable and return ErrExecutionImmutable. The control request is
	// never written here; it is owned by SetControl.
	SaveExecution(ctx context.Context, execution *models.AutomationExecution) error
	// SetControl records an operator request on a non-terminal execution.
	SetControl(ctx context.Context, id string, control models.ControlRequest) error
	ExecutionByID(ctx context.Context, id string) (*models.AutomationExecution, error)
	// DueExecutions returns pending or running executions whose resume time has passed.
	DueExecutions(ctx context.Context, now time.Time, limit int) ([]*models.AutomationExecution, error)
	Executions(ctx context.Context, filter ExecutionFilter) ([]*models.AutomationExecution, error)
}

type AttemptRepository interface {
	RecordAttempt(ctx context.Context, attempt *models.StepAttempt) error
	Attempts(ctx context.Context, executionID string) ([]*models.StepAttempt, error)
}

type TruncationRepository interface {
	RecordTruncation(ctx context.Context, truncation *models.ChainTruncation) error
	Truncations(ctx context.Context, tenantID string, limit int) ([]*models.ChainTruncation, error)
}

type TemplateRepository interface {
	SaveTemplate(ctx context.Context, tpl *models.MessageTemplate) error
	TemplateByID(ctx context.Context, tenantID, id string) (*models.MessageTemplate, error)
}
