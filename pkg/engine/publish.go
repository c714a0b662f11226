package engine

import (
	"context"
	"time"

	"github.com/dukex/crmflow/pkg/eventbus"
	"github.com/dukex/crmflow/pkg/events"
	"github.com/dukex/crmflow/pkg/models"
)

// publish emits a lifecycle event keyed by entity. Publishing is best effort:
// the ledger is the record of truth.
func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(ctx, key, event); err != nil {
		e.logger.WarnContext(ctx, "failed to publish event", "type", event.GetType(), "error", err)
	}
}

func (e *Engine) publishFinished(ctx context.Context, execution *models.AutomationExecution) {
	if execution.Status == models.ExecutionCompleted {
		var duration time.Duration
		if execution.StartedAt != nil && execution.CompletedAt != nil {
			duration = execution.CompletedAt.Sub(*execution.StartedAt)
		}

		e.publish(ctx, execution.EntityID, events.ExecutionCompleted{
			BaseEvent:    events.NewBaseEvent(events.ExecutionCompletedType, execution.TenantID),
			ExecutionID:  execution.ID,
			Source:       execution.Source,
			FlowID:       execution.FlowID,
			EnrollmentID: execution.EnrollmentID,
			EntityID:     execution.EntityID,
			Duration:     duration,
		})

		return
	}

	if execution.Status != models.ExecutionFailed {
		return
	}

	var failed []int

	for _, step := range execution.Steps {
		if step.Status == models.StepFailed {
			failed = append(failed, step.Order)
		}
	}

	e.publish(ctx, execution.EntityID, events.ExecutionFailed{
		BaseEvent:    events.NewBaseEvent(events.ExecutionFailedType, execution.TenantID),
		ExecutionID:  execution.ID,
		Source:       execution.Source,
		FlowID:       execution.FlowID,
		EnrollmentID: execution.EnrollmentID,
		EntityID:     execution.EntityID,
		FailedSteps:  failed,
		Error:        execution.Error,
	})
}

func (e *Engine) publishStepFailed(ctx context.Context, execution *models.AutomationExecution, step *models.ExecutionStep) {
	ev := events.StepFailed{
		BaseEvent:   events.NewBaseEvent(events.StepFailedType, execution.TenantID),
		ExecutionID: execution.ID,
		Order:       step.Order,
		ActionType:  step.Action.Type,
		Attempts:    step.RetryCount + 1,
	}

	if step.Error != nil {
		ev.ErrorKind = step.Error.Kind
		ev.Message = step.Error.Message
	}

	e.publish(ctx, execution.EntityID, ev)
}

func (e *Engine) publishTruncated(ctx context.Context, truncation *models.ChainTruncation) {
	e.publish(ctx, truncation.EntityID, events.ChainTruncated{
		BaseEvent:    events.NewBaseEvent(events.ChainTruncatedType, truncation.TenantID),
		TruncationID: truncation.ID,
		RootEventID:  truncation.RootEventID,
		EntityID:     truncation.EntityID,
		Depth:        truncation.Depth,
		SkippedFlows: truncation.SkippedFlows,
	})
}

func (e *Engine) publishEnrollment(ctx context.Context, enrollment *models.CadenceEnrollment) {
	switch enrollment.Status {
	case models.EnrollmentExited:
		e.publish(ctx, enrollment.EntityID, events.EnrollmentExited{
			BaseEvent:    events.NewBaseEvent(events.EnrollmentExitedType, enrollment.TenantID),
			EnrollmentID: enrollment.ID,
			ProgramKind:  enrollment.ProgramKind,
			ProgramID:    enrollment.ProgramID,
			EntityID:     enrollment.EntityID,
			Reason:       enrollment.ExitReason,
		})
	case models.EnrollmentCompleted:
		e.publish(ctx, enrollment.EntityID, events.EnrollmentCompleted{
			BaseEvent:    events.NewBaseEvent(events.EnrollmentCompletedType, enrollment.TenantID),
			EnrollmentID: enrollment.ID,
			ProgramKind:  enrollment.ProgramKind,
			ProgramID:    enrollment.ProgramID,
			EntityID:     enrollment.EntityID,
		})
	case models.EnrollmentFailed:
		e.publish(ctx, enrollment.EntityID, events.EnrollmentFailed{
			BaseEvent:    events.NewBaseEvent(events.EnrollmentFailedType, enrollment.TenantID),
			EnrollmentID: enrollment.ID,
			ProgramKind:  enrollment.ProgramKind,
			ProgramID:    enrollment.ProgramID,
			EntityID:     enrollment.EntityID,
			Reason:       enrollment.ExitReason,
		})
	}
}
