package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/crmflow/pkg/actions"
	"github.com/dukex/crmflow/pkg/lease"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/otelhelper"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// newExecution builds a pending execution with one step per action. Only the
// first step is scheduled; every later step is scheduled when its predecessor
// settles.
func newExecution(source models.ExecutionSource, tenantID, entityID string, entityKind models.EntityKind,
	key string, steps []models.AutomationAction, now time.Time,
) *models.AutomationExecution {
	execution := &models.AutomationExecution{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		Source:         source,
		EntityID:       entityID,
		EntityKind:     entityKind,
		IdempotencyKey: key,
		Status:         models.ExecutionPending,
		Steps:          make([]models.ExecutionStep, 0, len(steps)),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	for i, action := range steps {
		execution.Steps = append(execution.Steps, models.ExecutionStep{
			Order:  i,
			Action: action,
			Status: models.StepPending,
		})
	}

	if len(execution.Steps) > 0 {
		first := now.Add(execution.Steps[0].Action.Delay())
		execution.Steps[0].ScheduledAt = &first
		execution.ResumeAt = &first
	}

	return execution
}

// fireFlow opens the execution of flow for event under the flow/entity lease
// and runs the steps that are already due. A duplicate delivery finds the
// stored execution and does nothing.
func (e *Engine) fireFlow(ctx context.Context, flow *models.AutomationFlow, event models.DomainEvent, key string) (bool, []models.DomainEvent, error) {
	var (
		fired   bool
		emitted []models.DomainEvent
	)

	err := e.withLease(ctx, lease.FlowKey(flow.TenantID, flow.ID, event.EntityID), func(ctx context.Context) error {
		now := e.now()

		execution := newExecution(models.ExecutionFromFlow, event.TenantID, event.EntityID, event.EntityKind,
			key, flow.OrderedActions(), now)
		execution.FlowID = flow.ID
		execution.EventID = event.ID
		execution.StopOnError = flow.StopOnError
		execution.Chain = event.Chain.Next(event.ID, flow.ID)

		stored, created, err := e.ledger.Open(ctx, execution)
		if err != nil {
			return err
		}

		if !created {
			return nil
		}

		fired = true

		e.metrics.FlowFired(string(flow.Trigger.Type))
		e.logger.InfoContext(ctx, "flow fired",
			"flow_id", flow.ID,
			"execution_id", stored.ID,
			"entity_id", stored.EntityID,
			"depth", stored.Chain.Depth)

		if err := e.store.Flows().RecordFlowRun(ctx, flow.TenantID, flow.ID, now); err != nil {
			e.logger.WarnContext(ctx, "failed to bump flow counters", "flow_id", flow.ID, "error", err)
		}

		emitted, err = e.advanceLocked(ctx, stored)

		return err
	})

	return fired, emitted, err
}

// advance reloads execution under its pair lease and runs its due steps.
func (e *Engine) advance(ctx context.Context, id string) ([]models.DomainEvent, error) {
	execution, err := e.ledger.Execution(ctx, id)
	if err != nil {
		return nil, err
	}

	var emitted []models.DomainEvent

	err = e.withLease(ctx, executionLeaseKey(execution), func(ctx context.Context) error {
		current, err := e.ledger.Execution(ctx, id)
		if err != nil {
			return err
		}

		emitted, err = e.advanceLocked(ctx, current)

		return err
	})

	return emitted, err
}

// advanceLocked is the execution state machine. The caller holds the pair
// lease. It returns when the execution is terminal, paused or waiting for a
// delay or retry, and hands back the events its actions emitted.
func (e *Engine) advanceLocked(ctx context.Context, execution *models.AutomationExecution) ([]models.DomainEvent, error) {
	var emitted []models.DomainEvent

	for {
		if execution.Status.Terminal() {
			return emitted, nil
		}

		control, err := e.currentControl(ctx, execution.ID)
		if err != nil {
			return emitted, err
		}

		execution.Control = control

		switch execution.Control {
		case models.ControlCancel:
			return emitted, e.cancelLocked(ctx, execution)
		case models.ControlPause:
			if execution.Status != models.ExecutionPaused {
				return emitted, e.pauseLocked(ctx, execution)
			}

			return emitted, nil
		case models.ControlNone:
		}

		if execution.Status == models.ExecutionPaused {
			return emitted, nil
		}

		i := execution.NextStep()
		if i < 0 {
			return emitted, e.finalize(ctx, execution)
		}

		step := &execution.Steps[i]
		now := e.now()

		if step.Status == models.StepRunning {
			e.interrupted(ctx, execution, i, now)

			if err := e.ledger.Save(ctx, execution); err != nil {
				return emitted, err
			}

			continue
		}

		if due := dueAt(step); due != nil && due.After(now) {
			execution.ResumeAt = due
			execution.UpdatedAt = now

			return emitted, e.ledger.Save(ctx, execution)
		}

		out, err := e.runStep(ctx, execution, i)
		if err != nil {
			return emitted, err
		}

		emitted = append(emitted, out...)
	}
}

// recordAttempt appends to the attempt history. The step outcome lives on the
// execution itself, so a failed history write is counted and not propagated.
func (e *Engine) recordAttempt(ctx context.Context, execution *models.AutomationExecution, step *models.ExecutionStep, started, finished time.Time) {
	if err := e.ledger.RecordAttempt(ctx, execution, step, started, finished); err != nil {
		e.metrics.LedgerWriteFailed()
	}
}

func dueAt(step *models.ExecutionStep) *time.Time {
	if step.NextAttemptAt != nil {
		return step.NextAttemptAt
	}

	return step.ScheduledAt
}

func (e *Engine) currentControl(ctx context.Context, id string) (models.ControlRequest, error) {
	stored, err := e.ledger.Execution(ctx, id)
	if err != nil {
		return models.ControlNone, err
	}

	return stored.Control, nil
}

// runStep persists the step as running, executes it and settles the outcome.
func (e *Engine) runStep(ctx context.Context, execution *models.AutomationExecution, i int) ([]models.DomainEvent, error) {
	step := &execution.Steps[i]
	started := e.now()

	// A worker that dies mid-attempt leaves the step running; the sweep picks
	// it up again once the lease it held has expired.
	recovery := started.Add(e.cfg.Lease.TTL)

	step.Status = models.StepRunning
	step.StartedAt = &started
	execution.Status = models.ExecutionRunning
	execution.ResumeAt = &recovery
	execution.UpdatedAt = started

	if execution.StartedAt == nil {
		execution.StartedAt = &started
	}

	if err := e.ledger.Save(ctx, execution); err != nil {
		return nil, err
	}

	result := e.executeStep(ctx, execution, step, started)
	finished := e.now()

	e.metrics.StepAttempt(string(step.Action.Type), outcome(result), finished.Sub(started).Seconds())

	var emitted []models.DomainEvent

	if result.OK() {
		step.Status = models.StepCompleted
		step.Result = result.Output
		step.Error = nil
		step.NextAttemptAt = nil
		step.CompletedAt = &finished

		e.recordAttempt(ctx, execution, step, started, finished)

		e.scheduleNext(execution, i, finished)

		emitted = e.inherit(execution, result.Events)
	} else {
		step.Status = models.StepFailed
		step.Error = result.Error.Failure()

		e.recordAttempt(ctx, execution, step, started, finished)

		e.settleFailure(ctx, execution, i, finished)
	}

	execution.UpdatedAt = finished

	return emitted, e.ledger.Save(ctx, execution)
}

func (e *Engine) executeStep(ctx context.Context, execution *models.AutomationExecution, step *models.ExecutionStep, now time.Time) actions.Result {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.execute_step",
		attribute.String(otelhelper.TenantIDKey, execution.TenantID),
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.FlowIDKey, execution.FlowID),
		attribute.String(otelhelper.ActionTypeKey, string(step.Action.Type)),
		attribute.Int(otelhelper.StepOrderKey, step.Order),
	)
	defer span.End()

	entity, err := e.entities.GetEntity(ctx, execution.TenantID, execution.EntityID)
	if err != nil {
		e.logger.WarnContext(ctx, "entity unavailable for step",
			"execution_id", execution.ID,
			"entity_id", execution.EntityID,
			"error", err)

		entity = nil
	}

	result := e.executor.Execute(ctx, step.Action, entity, actions.ExecContext{
		TenantID:    execution.TenantID,
		ExecutionID: execution.ID,
		Order:       step.Order,
		Attempt:     step.RetryCount + 1,
		Now:         now,
	})

	if !result.OK() {
		otelhelper.SetFailure(span, result.Error.Message,
			attribute.String("crmflow.error.kind", string(result.Error.Kind)),
			attribute.Bool("crmflow.error.retryable", result.Error.Retryable))
	}

	return result
}

func outcome(result actions.Result) string {
	switch {
	case result.OK():
		return "success"
	case result.Error.Retryable:
		return "retryable"
	default:
		return "permanent"
	}
}

// interrupted settles a step left running by a crashed worker as a failed,
// retryable attempt.
func (e *Engine) interrupted(ctx context.Context, execution *models.AutomationExecution, i int, now time.Time) {
	step := &execution.Steps[i]

	started := now
	if step.StartedAt != nil {
		started = *step.StartedAt
	}

	step.Status = models.StepFailed
	step.Error = &models.StepFailure{
		Kind:      models.ErrorInterrupted,
		Message:   "attempt interrupted before completion",
		Retryable: true,
	}

	e.logger.WarnContext(ctx, "resuming interrupted step", "execution_id", execution.ID, "order", step.Order)

	e.recordAttempt(ctx, execution, step, started, now)

	e.settleFailure(ctx, execution, i, now)
	execution.UpdatedAt = now
}

// settleFailure applies the retry policy to the failed attempt of step i.
// Exhausted or permanent failures end the step; the rest of the execution
// then either continues or, with StopOnError, is skipped.
func (e *Engine) settleFailure(ctx context.Context, execution *models.AutomationExecution, i int, at time.Time) {
	step := &execution.Steps[i]
	attempts := step.RetryCount + 1

	if step.Error != nil && step.Error.Retryable {
		if delay, ok := e.cfg.Retry.Next(attempts); ok {
			next := at.Add(delay)

			step.RetryCount = attempts
			step.Status = models.StepPending
			step.NextAttemptAt = &next
			execution.ResumeAt = &next

			e.logger.InfoContext(ctx, "step scheduled for retry",
				"execution_id", execution.ID,
				"order", step.Order,
				"attempt", attempts,
				"next_attempt_at", next)

			return
		}
	}

	step.Status = models.StepFailed
	step.NextAttemptAt = nil
	step.CompletedAt = &at

	e.publishStepFailed(ctx, execution, step)

	if execution.StopOnError {
		for j := i + 1; j < len(execution.Steps); j++ {
			execution.Steps[j].Status = models.StepSkipped
		}

		return
	}

	e.scheduleNext(execution, i, at)
}

// scheduleNext anchors the delay of the step after i on the settlement time
// of step i.
func (e *Engine) scheduleNext(execution *models.AutomationExecution, i int, at time.Time) {
	if i+1 >= len(execution.Steps) {
		return
	}

	next := at.Add(execution.Steps[i+1].Action.Delay())
	execution.Steps[i+1].ScheduledAt = &next
	execution.ResumeAt = &next
}

// finalize ends an execution whose steps are all settled.
func (e *Engine) finalize(ctx context.Context, execution *models.AutomationExecution) error {
	now := e.now()
	failed := 0

	for _, step := range execution.Steps {
		if step.Status == models.StepFailed {
			failed++
		}
	}

	execution.Status = models.ExecutionCompleted
	if failed > 0 {
		execution.Status = models.ExecutionFailed
		execution.Error = fmt.Sprintf("%d of %d steps failed", failed, len(execution.Steps))
	}

	execution.ResumeAt = nil
	execution.CompletedAt = &now
	execution.UpdatedAt = now

	if err := e.ledger.Save(ctx, execution); err != nil {
		return err
	}

	e.finished(ctx, execution)

	return nil
}

// finished reports a terminal execution and mirrors it on its enrollment.
func (e *Engine) finished(ctx context.Context, execution *models.AutomationExecution) {
	e.metrics.ExecutionFinished(string(execution.Source), string(execution.Status))
	e.logger.InfoContext(ctx, "execution finished",
		"execution_id", execution.ID,
		"source", execution.Source,
		"status", execution.Status)

	e.publishFinished(ctx, execution)

	if err := e.syncProgress(ctx, execution); err != nil {
		e.logger.WarnContext(ctx, "failed to sync enrollment progress",
			"execution_id", execution.ID,
			"enrollment_id", execution.EnrollmentID,
			"error", err)
	}
}

// syncProgress copies the status of an enrollment step execution onto the
// enrollment progress entry that points at it.
func (e *Engine) syncProgress(ctx context.Context, execution *models.AutomationExecution) error {
	if execution.EnrollmentID == "" || len(execution.Steps) == 0 {
		return nil
	}

	enrollment, err := e.store.Enrollments().EnrollmentByID(ctx, execution.EnrollmentID)
	if errors.Is(err, persistence.ErrEnrollmentNotFound) {
		return nil
	}

	if err != nil {
		return err
	}

	for i := range enrollment.StepProgress {
		progress := &enrollment.StepProgress[i]
		if progress.ExecutionID != execution.ID {
			continue
		}

		progress.Status = execution.Steps[0].Status
		progress.UpdatedAt = e.now()
		enrollment.UpdatedAt = progress.UpdatedAt

		return e.store.Enrollments().SaveEnrollment(ctx, enrollment)
	}

	return nil
}

func (e *Engine) pauseLocked(ctx context.Context, execution *models.AutomationExecution) error {
	now := e.now()

	execution.Status = models.ExecutionPaused
	execution.ResumeAt = nil
	execution.UpdatedAt = now

	if err := e.ledger.Save(ctx, execution); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "execution paused", "execution_id", execution.ID)

	return nil
}

func (e *Engine) cancelLocked(ctx context.Context, execution *models.AutomationExecution) error {
	now := e.now()

	for i := range execution.Steps {
		if !execution.Steps[i].Status.Terminal() {
			execution.Steps[i].Status = models.StepCancelled
			execution.Steps[i].NextAttemptAt = nil
		}
	}

	execution.Status = models.ExecutionCancelled
	execution.ResumeAt = nil
	execution.CompletedAt = &now
	execution.UpdatedAt = now

	if err := e.ledger.Save(ctx, execution); err != nil {
		return err
	}

	e.finished(ctx, execution)

	return nil
}
