// Package ledger records automation executions, every step attempt and the
// causal chains cut by the recursion guard.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/google/uuid"
)

// Ledger is the durable record of what the engine did.
type Ledger struct {
	store  persistence.Persistence
	logger *slog.Logger
}

func New(store persistence.Persistence, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		logger: logger.With("module", "ledger"),
	}
}

// Open stores execution unless its idempotency key already exists, in which
// case the stored execution is returned with created=false.
func (l *Ledger) Open(ctx context.Context, execution *models.AutomationExecution) (*models.AutomationExecution, bool, error) {
	if execution.ID == "" {
		execution.ID = uuid.NewString()
	}

	if execution.IdempotencyKey == "" {
		return nil, false, fmt.Errorf("execution %s has no idempotency key", execution.ID)
	}

	stored, created, err := l.store.Executions().CreateExecution(ctx, execution)
	if err != nil {
		return nil, false, err
	}

	if !created {
		l.logger.DebugContext(ctx, "execution already exists",
			"idempotency_key", execution.IdempotencyKey,
			"execution_id", stored.ID)
	}

	return stored, created, nil
}

func (l *Ledger) Save(ctx context.Context, execution *models.AutomationExecution) error {
	return l.store.Executions().SaveExecution(ctx, execution)
}

func (l *Ledger) Execution(ctx context.Context, id string) (*models.AutomationExecution, error) {
	return l.store.Executions().ExecutionByID(ctx, id)
}

func (l *Ledger) Executions(ctx context.Context, filter persistence.ExecutionFilter) ([]*models.AutomationExecution, error) {
	return l.store.Executions().Executions(ctx, filter)
}

// Due returns executions waiting on a delay or a retry.
func (l *Ledger) Due(ctx context.Context, now time.Time, limit int) ([]*models.AutomationExecution, error) {
	return l.store.Executions().DueExecutions(ctx, now, limit)
}

// RecordAttempt appends the outcome of one attempt of step.
func (l *Ledger) RecordAttempt(ctx context.Context, execution *models.AutomationExecution, step *models.ExecutionStep, startedAt, finishedAt time.Time) error {
	attempt := &models.StepAttempt{
		ID:          uuid.NewString(),
		TenantID:    execution.TenantID,
		ExecutionID: execution.ID,
		Order:       step.Order,
		Attempt:     step.RetryCount + 1,
		ActionType:  step.Action.Type,
		Status:      step.Status,
		Error:       step.Error,
		Output:      step.Result,
		StartedAt:   startedAt,
		FinishedAt:  finishedAt,
	}

	if err := l.store.Attempts().RecordAttempt(ctx, attempt); err != nil {
		l.logger.ErrorContext(ctx, "failed to record step attempt",
			"execution_id", execution.ID,
			"order", step.Order,
			"error", err)

		return err
	}

	return nil
}

func (l *Ledger) Attempts(ctx context.Context, executionID string) ([]*models.StepAttempt, error) {
	return l.store.Attempts().Attempts(ctx, executionID)
}

// RecordTruncation stores flows skipped because event reached the depth cap.
func (l *Ledger) RecordTruncation(ctx context.Context, event models.DomainEvent, skipped []string, at time.Time) (*models.ChainTruncation, error) {
	truncation := &models.ChainTruncation{
		ID:           uuid.NewString(),
		TenantID:     event.TenantID,
		RootEventID:  event.Chain.Root(event.ID),
		EventID:      event.ID,
		EventKind:    event.Kind,
		EntityID:     event.EntityID,
		Depth:        event.Chain.Depth,
		ChainFlows:   event.Chain.Flows,
		SkippedFlows: skipped,
		CreatedAt:    at,
	}

	if err := l.store.Truncations().RecordTruncation(ctx, truncation); err != nil {
		return nil, err
	}

	l.logger.WarnContext(ctx, "causal chain truncated",
		"root_event_id", truncation.RootEventID,
		"depth", truncation.Depth,
		"skipped", skipped)

	return truncation, nil
}

func (l *Ledger) Truncations(ctx context.Context, tenantID string, limit int) ([]*models.ChainTruncation, error) {
	return l.store.Truncations().Truncations(ctx, tenantID, limit)
}

// FlowKey identifies the execution of flowID caused by eventID.
func FlowKey(eventID, flowID string) string {
	return eventID + ":" + flowID
}

// EnrollmentKey identifies the one-off execution of one enrollment step.
func EnrollmentKey(enrollmentID string, order int) string {
	return enrollmentID + ":" + strconv.Itoa(order)
}

// InactivityKey identifies a scheduler-fired flow for one period of inactivity.
func InactivityKey(flowID, entityID string, lastActivity time.Time) string {
	return "inactivity:" + flowID + ":" + entityID + ":" + strconv.FormatInt(lastActivity.Unix(), 10)
}

// ReplayKey identifies one operator replay of one step.
func ReplayKey(executionID string, order int, replayID string) string {
	return "replay:" + executionID + ":" + strconv.Itoa(order) + ":" + replayID
}
