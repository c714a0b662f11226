package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dukex/crmflow/pkg/actions"
	"github.com/dukex/crmflow/pkg/ledger"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/google/uuid"
)

const (
	activeCadencesQuery = "active-cadences"
	day                 = 24 * time.Hour
)

// Enroll adds entity to the cadence. Enrolling an entity that already holds an
// open enrollment in the cadence returns that enrollment with created=false.
// Step 0 runs on the next tick.
func (e *Engine) Enroll(ctx context.Context, tenantID, cadenceID string, entity *models.Entity) (*models.CadenceEnrollment, bool, error) {
	cadence, err := e.store.Cadences().CadenceByID(ctx, tenantID, cadenceID)
	if err != nil {
		if errors.Is(err, persistence.ErrCadenceNotFound) {
			return nil, false, actions.Permanent("enroller", "enroll", err)
		}

		return nil, false, err
	}

	if !cadence.IsActive {
		return nil, false, actions.Permanent("enroller", "enroll", fmt.Errorf("cadence %s: %w", cadenceID, ErrProgramInactive))
	}

	if !entity.Kind.Enrollable() {
		return nil, false, actions.Permanent("enroller", "enroll", fmt.Errorf("%s %s: %w", entity.Kind, entity.ID, ErrEntityNotEnrollable))
	}

	now := e.now()

	return e.enroll(ctx, models.ProgramCadence, cadence.ID, cadence.Steps, entity, now, now, nil)
}

// EnrollEntity loads the entity from the CRM and enrolls it in the cadence.
func (e *Engine) EnrollEntity(ctx context.Context, tenantID, cadenceID, entityID string) (*models.CadenceEnrollment, bool, error) {
	entity, err := e.entities.GetEntity(ctx, tenantID, entityID)
	if err != nil {
		return nil, false, fmt.Errorf("load entity %s: %w", entityID, err)
	}

	return e.Enroll(ctx, tenantID, cadenceID, entity)
}

// enroll atomically inserts an active enrollment anchored at anchor unless the
// pair already has an open one.
func (e *Engine) enroll(ctx context.Context, kind models.ProgramKind, programID string, steps []models.CadenceStep,
	entity *models.Entity, anchor, now time.Time, activityAt *time.Time,
) (*models.CadenceEnrollment, bool, error) {
	ordered := models.OrderedSteps(steps)
	if len(ordered) == 0 {
		return nil, false, actions.Permanent("enroller", "enroll", fmt.Errorf("%s %s has no steps: %w", kind, programID, ErrInvalidDefinition))
	}

	next := anchor.Add(ordered[0].Offset())

	enrollment := &models.CadenceEnrollment{
		ID:                uuid.NewString(),
		TenantID:          entity.TenantID,
		ProgramKind:       kind,
		ProgramID:         programID,
		EntityID:          entity.ID,
		EntityKind:        entity.Kind,
		Status:            models.EnrollmentActive,
		NextStepAt:        &next,
		EnrolledAt:        anchor,
		StageAtEnrollment: entity.Stage,
		ActivityAt:        activityAt,
		StepProgress:      make([]models.StepProgress, 0, len(ordered)),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	for i := range ordered {
		enrollment.StepProgress = append(enrollment.StepProgress, models.StepProgress{
			Order:     i,
			Status:    models.StepPending,
			UpdatedAt: now,
		})
	}

	stored, created, err := e.store.Enrollments().CreateEnrollment(ctx, enrollment)
	if err != nil {
		return nil, false, err
	}

	if created {
		e.metrics.Enrollment(string(kind), string(models.EnrollmentActive))
		e.logger.InfoContext(ctx, "entity enrolled",
			"program_kind", kind,
			"program_id", programID,
			"entity_id", entity.ID,
			"enrollment_id", stored.ID,
			"next_step_at", next)
	}

	return stored, created, nil
}

func (e *Engine) activeCadences(ctx context.Context, tenantID string) ([]*models.Cadence, error) {
	return e.cadences.GetOrLoad(tenantID, activeCadencesQuery, func() ([]*models.Cadence, error) {
		return e.store.Cadences().Cadences(ctx, persistence.ProgramFilter{TenantID: tenantID, ActiveOnly: true})
	})
}

// autoEnroll enrolls the event entity in every active auto-enrolling cadence
// listening to the event kind whose criteria the snapshot meets.
func (e *Engine) autoEnroll(ctx context.Context, event models.DomainEvent) error {
	if !event.EntityKind.Enrollable() {
		return nil
	}

	cadences, err := e.activeCadences(ctx, event.TenantID)
	if err != nil {
		return fmt.Errorf("load cadences: %w", err)
	}

	var errs []error

	for _, cadence := range cadences {
		criteria := cadence.EnrollmentCriteria

		if !criteria.AutoEnroll || !criteria.ListensTo(event.Kind) || !criteria.AcceptsKind(event.EntityKind) {
			continue
		}

		if !e.evaluator.Evaluate(criteria.Conditions, event.Snapshot) {
			continue
		}

		current, err := e.store.Cadences().CadenceByID(ctx, cadence.TenantID, cadence.ID)
		if err != nil && !persistence.IsNotFound(err) {
			errs = append(errs, fmt.Errorf("reload cadence %s: %w", cadence.ID, err))

			continue
		}

		if current == nil || !current.IsActive {
			e.cadences.InvalidateTenant(cadence.TenantID)

			continue
		}

		now := e.now()

		if _, _, err := e.enroll(ctx, models.ProgramCadence, current.ID, current.Steps, event.Snapshot, now, now, nil); err != nil {
			errs = append(errs, fmt.Errorf("auto-enroll in %s: %w", cadence.ID, err))
		}
	}

	return errors.Join(errs...)
}

// eventExitReason is the exit criterion event satisfies on its own.
func eventExitReason(criteria models.ExitCriteria, enrollment *models.CadenceEnrollment, event models.DomainEvent) (models.ExitReason, bool) {
	switch event.Kind {
	case models.EventReplyReceived:
		return models.ExitReply, criteria.OnReply
	case models.EventTaskCompleted:
		return models.ExitTaskCompleted, criteria.OnTaskCompleted
	case models.EventKind(models.TriggerStageChange):
		to, _ := event.Data.String(models.DataToStage)

		return models.ExitStageChange, criteria.OnStageChange && to != enrollment.StageAtEnrollment
	case models.EventKind(models.TriggerTagApplied):
		tag, _ := event.Data.String(models.DataTagID)

		return models.ExitTagApplied, slices.Contains(criteria.TagIDs, tag)
	default:
		return "", false
	}
}

// exitReason checks the exit criteria against an entity snapshot.
func exitReason(criteria models.ExitCriteria, enrollment *models.CadenceEnrollment, entity *models.Entity, now time.Time) (models.ExitReason, bool) {
	if entity != nil {
		if criteria.OnReply && after(entity.LastReplyAt, enrollment.EnrolledAt) {
			return models.ExitReply, true
		}

		if criteria.OnTaskCompleted && after(entity.LastTaskCompletedAt, enrollment.EnrolledAt) {
			return models.ExitTaskCompleted, true
		}

		if criteria.OnStageChange && entity.Stage != enrollment.StageAtEnrollment {
			return models.ExitStageChange, true
		}

		for _, tag := range criteria.TagIDs {
			if entity.HasTag(tag) {
				return models.ExitTagApplied, true
			}
		}
	}

	if criteria.MaxDays > 0 && now.Sub(enrollment.EnrolledAt) >= time.Duration(criteria.MaxDays)*day {
		return models.ExitMaxDays, true
	}

	return "", false
}

func after(at *time.Time, reference time.Time) bool {
	return at != nil && at.After(reference)
}

func exitsOn(kind models.EventKind) bool {
	switch kind {
	case models.EventReplyReceived, models.EventTaskCompleted,
		models.EventKind(models.TriggerStageChange), models.EventKind(models.TriggerTagApplied):
		return true
	default:
		return false
	}
}

// checkExits re-checks the exit criteria of the open cadence enrollments of
// the event entity right away instead of waiting for the next due step.
func (e *Engine) checkExits(ctx context.Context, event models.DomainEvent) error {
	if !exitsOn(event.Kind) {
		return nil
	}

	open, err := e.store.Enrollments().Enrollments(ctx, persistence.EnrollmentFilter{
		TenantID:    event.TenantID,
		ProgramKind: models.ProgramCadence,
		EntityID:    event.EntityID,
		Statuses:    []models.EnrollmentStatus{models.EnrollmentActive, models.EnrollmentPaused},
	})
	if err != nil {
		return fmt.Errorf("load enrollments: %w", err)
	}

	var errs []error

	for _, enrollment := range open {
		err := e.withLease(ctx, enrollmentLeaseKey(enrollment), func(ctx context.Context) error {
			current, err := e.store.Enrollments().EnrollmentByID(ctx, enrollment.ID)
			if err != nil {
				return err
			}

			if !current.Status.Open() {
				return nil
			}

			cadence, err := e.store.Cadences().CadenceByID(ctx, current.TenantID, current.ProgramID)
			if persistence.IsNotFound(err) {
				return e.exitEnrollment(ctx, current, models.ExitProgramGone)
			}

			if err != nil {
				return err
			}

			reason, ok := eventExitReason(cadence.ExitCriteria, current, event)
			if !ok {
				reason, ok = exitReason(cadence.ExitCriteria, current, event.Snapshot, e.now())
			}

			if !ok {
				return nil
			}

			return e.exitEnrollment(ctx, current, reason)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("enrollment %s: %w", enrollment.ID, err))
		}
	}

	return errors.Join(errs...)
}

// exitEnrollment closes enrollment and cancels the executions still running
// its steps. The caller holds the enrollment lease.
func (e *Engine) exitEnrollment(ctx context.Context, enrollment *models.CadenceEnrollment, reason models.ExitReason) error {
	return e.closeEnrollment(ctx, enrollment, models.EnrollmentExited, reason)
}

// failEnrollment closes an enrollment that can never make progress again.
func (e *Engine) failEnrollment(ctx context.Context, enrollment *models.CadenceEnrollment, reason models.ExitReason) error {
	return e.closeEnrollment(ctx, enrollment, models.EnrollmentFailed, reason)
}

func (e *Engine) closeEnrollment(ctx context.Context, enrollment *models.CadenceEnrollment,
	status models.EnrollmentStatus, reason models.ExitReason,
) error {
	now := e.now()

	enrollment.Status = status
	enrollment.ExitReason = reason
	enrollment.NextStepAt = nil
	enrollment.CompletedAt = &now
	enrollment.UpdatedAt = now

	if err := e.store.Enrollments().SaveEnrollment(ctx, enrollment); err != nil {
		return err
	}

	executions, err := e.ledger.Executions(ctx, persistence.ExecutionFilter{EnrollmentID: enrollment.ID})
	if err != nil {
		return err
	}

	for _, execution := range executions {
		if execution.Status.Terminal() {
			continue
		}

		if err := e.cancelLocked(ctx, execution); err != nil {
			return err
		}
	}

	e.metrics.Enrollment(string(enrollment.ProgramKind), string(status))

	logger := e.logger.With(
		"enrollment_id", enrollment.ID,
		"program_id", enrollment.ProgramID,
		"entity_id", enrollment.EntityID,
		"reason", reason)

	if status == models.EnrollmentFailed {
		logger.WarnContext(ctx, "enrollment failed")
	} else {
		logger.InfoContext(ctx, "enrollment exited")
	}

	e.publishEnrollment(ctx, enrollment)

	return nil
}

// failEntityEnrollments closes every open enrollment of an entity the CRM no
// longer has, in cadences and inactivity rules alike.
func (e *Engine) failEntityEnrollments(ctx context.Context, tenantID, entityID string) error {
	open, err := e.store.Enrollments().Enrollments(ctx, persistence.EnrollmentFilter{
		TenantID: tenantID,
		EntityID: entityID,
		Statuses: []models.EnrollmentStatus{models.EnrollmentActive, models.EnrollmentPaused},
	})
	if err != nil {
		return fmt.Errorf("load enrollments: %w", err)
	}

	var errs []error

	for _, enrollment := range open {
		err := e.withLease(ctx, enrollmentLeaseKey(enrollment), func(ctx context.Context) error {
			current, err := e.store.Enrollments().EnrollmentByID(ctx, enrollment.ID)
			if err != nil {
				return err
			}

			if !current.Status.Open() {
				return nil
			}

			return e.failEnrollment(ctx, current, models.ExitEntityGone)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("enrollment %s: %w", enrollment.ID, err))
		}
	}

	return errors.Join(errs...)
}

// entityGone reports whether err says the CRM no longer has the entity.
func entityGone(err error) bool {
	return errors.Is(err, actions.ErrEntityNotFound)
}

func (e *Engine) completeEnrollment(ctx context.Context, enrollment *models.CadenceEnrollment) error {
	now := e.now()

	enrollment.Status = models.EnrollmentCompleted
	enrollment.NextStepAt = nil
	enrollment.CompletedAt = &now
	enrollment.UpdatedAt = now

	if err := e.store.Enrollments().SaveEnrollment(ctx, enrollment); err != nil {
		return err
	}

	e.metrics.Enrollment(string(enrollment.ProgramKind), string(models.EnrollmentCompleted))
	e.logger.InfoContext(ctx, "enrollment completed", "enrollment_id", enrollment.ID)

	e.publishEnrollment(ctx, enrollment)

	return nil
}

func (e *Engine) pauseEnrollment(ctx context.Context, enrollment *models.CadenceEnrollment, reason models.PauseReason) error {
	now := e.now()

	enrollment.Status = models.EnrollmentPaused
	enrollment.PausedAt = &now
	enrollment.PauseReason = reason
	enrollment.UpdatedAt = now

	if err := e.store.Enrollments().SaveEnrollment(ctx, enrollment); err != nil {
		return err
	}

	e.metrics.Enrollment(string(enrollment.ProgramKind), string(models.EnrollmentPaused))
	e.logger.InfoContext(ctx, "enrollment paused", "enrollment_id", enrollment.ID, "reason", reason)

	return nil
}

// resumeEnrollment reactivates enrollment and pushes its next step back by
// the paused duration.
func (e *Engine) resumeEnrollment(ctx context.Context, enrollment *models.CadenceEnrollment) error {
	now := e.now()

	if enrollment.PausedAt != nil && enrollment.NextStepAt != nil {
		next := enrollment.NextStepAt.Add(now.Sub(*enrollment.PausedAt))
		enrollment.NextStepAt = &next
	}

	enrollment.Status = models.EnrollmentActive
	enrollment.PausedAt = nil
	enrollment.PauseReason = ""
	enrollment.UpdatedAt = now

	if err := e.store.Enrollments().SaveEnrollment(ctx, enrollment); err != nil {
		return err
	}

	e.metrics.Enrollment(string(enrollment.ProgramKind), string(models.EnrollmentActive))
	e.logger.InfoContext(ctx, "enrollment resumed", "enrollment_id", enrollment.ID, "next_step_at", enrollment.NextStepAt)

	return nil
}

// program is the part of a cadence or inactivity rule an enrollment walks.
type program struct {
	steps  []models.CadenceStep
	exit   *models.ExitCriteria
	active bool
}

func (e *Engine) program(ctx context.Context, enrollment *models.CadenceEnrollment) (*program, error) {
	switch enrollment.ProgramKind {
	case models.ProgramCadence:
		cadence, err := e.store.Cadences().CadenceByID(ctx, enrollment.TenantID, enrollment.ProgramID)
		if err != nil {
			return nil, err
		}

		return &program{steps: models.OrderedSteps(cadence.Steps), exit: &cadence.ExitCriteria, active: cadence.IsActive}, nil
	case models.ProgramInactivity:
		rule, err := e.store.InactivityRules().InactivityRuleByID(ctx, enrollment.TenantID, enrollment.ProgramID)
		if err != nil {
			return nil, err
		}

		return &program{steps: models.OrderedSteps(rule.Steps), active: rule.IsActive}, nil
	default:
		return nil, fmt.Errorf("program kind %q: %w", enrollment.ProgramKind, ErrInvalidDefinition)
	}
}

// advanceEnrollment runs the due step of enrollment as a one-off execution
// and moves the enrollment to its next step.
func (e *Engine) advanceEnrollment(ctx context.Context, id string) (bool, []models.DomainEvent, error) {
	enrollment, err := e.store.Enrollments().EnrollmentByID(ctx, id)
	if err != nil {
		return false, nil, err
	}

	var (
		advanced bool
		emitted  []models.DomainEvent
	)

	err = e.withLease(ctx, enrollmentLeaseKey(enrollment), func(ctx context.Context) error {
		var err error

		advanced, emitted, err = e.advanceEnrollmentLocked(ctx, id)

		return err
	})

	return advanced, emitted, err
}

func (e *Engine) advanceEnrollmentLocked(ctx context.Context, id string) (bool, []models.DomainEvent, error) {
	enrollment, err := e.store.Enrollments().EnrollmentByID(ctx, id)
	if err != nil {
		return false, nil, err
	}

	now := e.now()

	if enrollment.Status != models.EnrollmentActive || enrollment.NextStepAt == nil || enrollment.NextStepAt.After(now) {
		return false, nil, nil
	}

	prog, err := e.program(ctx, enrollment)
	if err != nil && !persistence.IsNotFound(err) {
		return false, nil, err
	}

	if prog == nil || !prog.active {
		return true, nil, e.exitEnrollment(ctx, enrollment, models.ExitProgramGone)
	}

	entity, err := e.entities.GetEntity(ctx, enrollment.TenantID, enrollment.EntityID)
	if entityGone(err) {
		return true, nil, e.failEnrollment(ctx, enrollment, models.ExitEntityGone)
	}

	if err != nil {
		return false, nil, fmt.Errorf("resolve entity %s: %w", enrollment.EntityID, err)
	}

	if prog.exit != nil {
		if reason, ok := exitReason(*prog.exit, enrollment, entity, now); ok {
			return true, nil, e.exitEnrollment(ctx, enrollment, reason)
		}
	}

	if enrollment.CurrentStep >= len(prog.steps) {
		return true, nil, e.completeEnrollment(ctx, enrollment)
	}

	current := prog.steps[enrollment.CurrentStep]

	action := current.Action
	action.DelayMinutes = 0

	source := models.ExecutionFromCadence
	if enrollment.ProgramKind == models.ProgramInactivity {
		source = models.ExecutionFromInactivity
	}

	execution := newExecution(source, enrollment.TenantID, enrollment.EntityID, enrollment.EntityKind,
		ledger.EnrollmentKey(enrollment.ID, enrollment.CurrentStep), []models.AutomationAction{action}, now)
	execution.ProgramID = enrollment.ProgramID
	execution.EnrollmentID = enrollment.ID
	execution.Chain = models.CausalChain{RootEventID: enrollment.ID, Depth: 1}

	stored, _, err := e.ledger.Open(ctx, execution)
	if err != nil {
		return false, nil, err
	}

	if progress := enrollment.Progress(enrollment.CurrentStep); progress != nil {
		progress.ExecutionID = stored.ID
		progress.UpdatedAt = now
	}

	if err := e.store.Enrollments().SaveEnrollment(ctx, enrollment); err != nil {
		return false, nil, err
	}

	emitted, err := e.advanceLocked(ctx, stored)
	if err != nil {
		return false, emitted, err
	}

	// finalize may have refreshed the progress entry.
	enrollment, err = e.store.Enrollments().EnrollmentByID(ctx, id)
	if err != nil {
		return false, emitted, err
	}

	if latest, err := e.ledger.Execution(ctx, stored.ID); err == nil {
		if progress := enrollment.Progress(enrollment.CurrentStep); progress != nil && len(latest.Steps) > 0 {
			progress.Status = latest.Steps[0].Status
		}
	}

	e.logger.InfoContext(ctx, "enrollment step executed",
		"enrollment_id", enrollment.ID,
		"step", enrollment.CurrentStep,
		"execution_id", stored.ID)

	enrollment.CurrentStep++
	enrollment.UpdatedAt = e.now()

	if enrollment.CurrentStep >= len(prog.steps) {
		return true, emitted, e.completeEnrollment(ctx, enrollment)
	}

	next := enrollment.NextStepAt.Add(prog.steps[enrollment.CurrentStep].Offset() - current.Offset())
	enrollment.NextStepAt = &next

	return true, emitted, e.store.Enrollments().SaveEnrollment(ctx, enrollment)
}
