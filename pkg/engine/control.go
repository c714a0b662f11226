package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/crmflow/pkg/lease"
	"github.com/dukex/crmflow/pkg/ledger"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/google/uuid"
)

// PauseExecution records a pause request. It takes effect before the next
// step starts, never in the middle of a delegate call.
func (e *Engine) PauseExecution(ctx context.Context, id string) (*models.AutomationExecution, error) {
	return e.requestControl(ctx, id, models.ControlPause)
}

// CancelExecution records a cancel request, applied like a pause.
func (e *Engine) CancelExecution(ctx context.Context, id string) (*models.AutomationExecution, error) {
	return e.requestControl(ctx, id, models.ControlCancel)
}

func (e *Engine) requestControl(ctx context.Context, id string, control models.ControlRequest) (*models.AutomationExecution, error) {
	execution, err := e.ledger.Execution(ctx, id)
	if err != nil {
		return nil, err
	}

	if execution.Status.Terminal() {
		return nil, fmt.Errorf("%s: %w", id, ErrExecutionTerminal)
	}

	if err := e.store.Executions().SetControl(ctx, id, control); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "control requested", "execution_id", id, "control", control)

	// Apply right away when no worker is busy with the pair; otherwise the
	// worker picks the request up between steps.
	err = e.withLease(ctx, executionLeaseKey(execution), func(ctx context.Context) error {
		current, err := e.ledger.Execution(ctx, id)
		if err != nil {
			return err
		}

		if current.Status.Terminal() {
			return nil
		}

		switch current.Control {
		case models.ControlCancel:
			return e.cancelLocked(ctx, current)
		case models.ControlPause:
			if current.Status != models.ExecutionPaused {
				return e.pauseLocked(ctx, current)
			}
		case models.ControlNone:
		}

		return nil
	})
	if err != nil && !errors.Is(err, lease.ErrNotAcquired) {
		return nil, err
	}

	return e.ledger.Execution(ctx, id)
}

// ResumeExecution clears the pause of a paused execution and runs its steps
// that are already due.
func (e *Engine) ResumeExecution(ctx context.Context, id string) (*models.AutomationExecution, error) {
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

		if current.Status != models.ExecutionPaused {
			return fmt.Errorf("%s is %s: %w", id, current.Status, ErrExecutionNotPaused)
		}

		if err := e.store.Executions().SetControl(ctx, id, models.ControlNone); err != nil {
			return err
		}

		now := e.now()

		current.Control = models.ControlNone
		current.Status = models.ExecutionPending
		current.ResumeAt = &now

		if current.StartedAt != nil {
			current.Status = models.ExecutionRunning
		}
		current.UpdatedAt = now

		if err := e.ledger.Save(ctx, current); err != nil {
			return err
		}

		e.logger.InfoContext(ctx, "execution resumed", "execution_id", id)

		emitted, err = e.advanceLocked(ctx, current)

		return err
	})
	if err != nil {
		return nil, err
	}

	if err := e.cascade(ctx, emitted); err != nil {
		e.logger.WarnContext(ctx, "cascade after resume failed", "execution_id", id, "error", err)
	}

	return e.ledger.Execution(ctx, id)
}

// ReplayStep runs a failed step of a terminal execution again as a new one-step
// execution linked to the original.
func (e *Engine) ReplayStep(ctx context.Context, executionID string, order int) (*models.AutomationExecution, error) {
	original, err := e.ledger.Execution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if !original.Status.Terminal() {
		return nil, fmt.Errorf("%s is %s: %w", executionID, original.Status, ErrExecutionNotTerminal)
	}

	step := original.Step(order)
	if step == nil {
		return nil, fmt.Errorf("%s step %d: %w", executionID, order, ErrStepNotFound)
	}

	if step.Status != models.StepFailed {
		return nil, fmt.Errorf("%s step %d is %s: %w", executionID, order, step.Status, ErrStepNotFailed)
	}

	action := step.Action
	action.DelayMinutes = 0

	replay := newExecution(models.ExecutionFromReplay, original.TenantID, original.EntityID, original.EntityKind,
		ledger.ReplayKey(original.ID, order, uuid.NewString()), []models.AutomationAction{action}, e.now())
	replay.FlowID = original.FlowID
	replay.ProgramID = original.ProgramID
	replay.EventID = original.EventID
	replay.ReplayOf = original.ID
	replay.Chain = original.Chain

	var emitted []models.DomainEvent

	err = e.withLease(ctx, lease.ExecutionKey(replay.ID), func(ctx context.Context) error {
		stored, _, err := e.ledger.Open(ctx, replay)
		if err != nil {
			return err
		}

		e.logger.InfoContext(ctx, "replaying step",
			"execution_id", original.ID,
			"order", order,
			"replay_id", stored.ID)

		emitted, err = e.advanceLocked(ctx, stored)

		return err
	})
	if err != nil {
		return nil, err
	}

	if err := e.cascade(ctx, emitted); err != nil {
		e.logger.WarnContext(ctx, "cascade after replay failed", "replay_id", replay.ID, "error", err)
	}

	return e.ledger.Execution(ctx, replay.ID)
}

// PauseEnrollment stops an active enrollment until an operator resumes it.
func (e *Engine) PauseEnrollment(ctx context.Context, id string) (*models.CadenceEnrollment, error) {
	return e.updateEnrollment(ctx, id, func(ctx context.Context, enrollment *models.CadenceEnrollment) error {
		if enrollment.Status != models.EnrollmentActive {
			return fmt.Errorf("%s is %s: %w", id, enrollment.Status, ErrEnrollmentNotActive)
		}

		return e.pauseEnrollment(ctx, enrollment, models.PausedByOperator)
	})
}

// ResumeEnrollment resumes an enrollment paused by an operator and shifts its
// schedule by the time it spent paused.
func (e *Engine) ResumeEnrollment(ctx context.Context, id string) (*models.CadenceEnrollment, error) {
	return e.updateEnrollment(ctx, id, func(ctx context.Context, enrollment *models.CadenceEnrollment) error {
		if enrollment.Status != models.EnrollmentPaused || enrollment.PauseReason != models.PausedByOperator {
			return fmt.Errorf("%s: %w", id, ErrEnrollmentNotPaused)
		}

		return e.resumeEnrollment(ctx, enrollment)
	})
}

func (e *Engine) updateEnrollment(ctx context.Context, id string, fn func(ctx context.Context, enrollment *models.CadenceEnrollment) error) (*models.CadenceEnrollment, error) {
	enrollment, err := e.store.Enrollments().EnrollmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	err = e.withLease(ctx, enrollmentLeaseKey(enrollment), func(ctx context.Context) error {
		current, err := e.store.Enrollments().EnrollmentByID(ctx, id)
		if err != nil {
			return err
		}

		enrollment = current

		return fn(ctx, current)
	})
	if err != nil {
		return nil, err
	}

	return enrollment, nil
}
