package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/crmflow/pkg/lease"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/persistence"
)

// sweepInactivity walks every active inactivity rule over the entities of its
// kind: inactive entities are enrolled, re-engaged ones are reset or paused
// and pause conditions are applied.
func (e *Engine) sweepInactivity(ctx context.Context) (int, error) {
	rules, err := e.store.InactivityRules().InactivityRules(ctx, persistence.ProgramFilter{ActiveOnly: true})
	if err != nil {
		return 0, fmt.Errorf("load inactivity rules: %w", err)
	}

	var (
		enrolled int
		errs     []error
	)

	for _, rule := range rules {
		if !rule.EntityKind.Enrollable() {
			continue
		}

		entities, err := e.entities.ListEntities(ctx, rule.TenantID, rule.EntityKind)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s: list entities: %w", rule.ID, err))

			continue
		}

		for _, entity := range entities {
			err := e.withLease(ctx, lease.InactivityKey(rule.TenantID, rule.ID, entity.ID), func(ctx context.Context) error {
				created, err := e.applyInactivity(ctx, rule, entity)
				if created {
					enrolled++
				}

				return err
			})
			if err != nil {
				errs = append(errs, fmt.Errorf("rule %s entity %s: %w", rule.ID, entity.ID, err))
			}
		}
	}

	return enrolled, errors.Join(errs...)
}

func (e *Engine) applyInactivity(ctx context.Context, rule *models.InactivityRule, entity *models.Entity) (bool, error) {
	now := e.now()
	last := entity.LastActivity(rule.Criteria.Kinds())
	threshold := rule.Threshold()

	open, err := e.store.Enrollments().OpenEnrollment(ctx, rule.TenantID, models.ProgramInactivity, rule.ID, entity.ID)
	if err != nil && !errors.Is(err, persistence.ErrEnrollmentNotFound) {
		return false, err
	}

	if open != nil {
		return false, e.reconcileInactivity(ctx, rule, open, entity, last)
	}

	// Entities without any recorded activity are never considered inactive.
	if last == nil || now.Sub(*last) < threshold {
		return false, nil
	}

	handled, err := e.inactivityHandled(ctx, rule, entity, *last)
	if err != nil || handled {
		return false, err
	}

	anchor := last.Add(threshold)
	activityAt := *last

	_, created, err := e.enroll(ctx, models.ProgramInactivity, rule.ID, rule.Steps, entity, anchor, now, &activityAt)

	return created, err
}

// inactivityHandled reports whether the inactivity period that started at last
// already produced an enrollment, whatever its outcome.
func (e *Engine) inactivityHandled(ctx context.Context, rule *models.InactivityRule, entity *models.Entity, last time.Time) (bool, error) {
	previous, err := e.store.Enrollments().Enrollments(ctx, persistence.EnrollmentFilter{
		TenantID:    rule.TenantID,
		ProgramKind: models.ProgramInactivity,
		ProgramID:   rule.ID,
		EntityID:    entity.ID,
	})
	if err != nil {
		return false, err
	}

	for _, enrollment := range previous {
		if enrollment.ActivityAt != nil && !enrollment.ActivityAt.Before(last) {
			return true, nil
		}
	}

	return false, nil
}

// reconcileInactivity applies onActivity and pause conditions to an open
// inactivity enrollment.
func (e *Engine) reconcileInactivity(ctx context.Context, rule *models.InactivityRule, enrollment *models.CadenceEnrollment,
	entity *models.Entity, last *time.Time,
) error {
	now := e.now()
	reengaged := last != nil && (enrollment.ActivityAt == nil || last.After(*enrollment.ActivityAt))

	if reengaged {
		if rule.OnActivity != models.OnActivityPause {
			return e.exitEnrollment(ctx, enrollment, models.ExitActivity)
		}

		if enrollment.Status == models.EnrollmentActive {
			return e.pauseEnrollment(ctx, enrollment, models.PausedByActivity)
		}
	}

	if enrollment.Status == models.EnrollmentPaused && enrollment.PauseReason == models.PausedByActivity {
		if last == nil || now.Sub(*last) < rule.Threshold() {
			return nil
		}

		enrollment.ActivityAt = last

		return e.resumeEnrollment(ctx, enrollment)
	}

	holds := len(rule.PauseConditions) > 0 && e.evaluator.Evaluate(rule.PauseConditions, entity)

	switch {
	case holds && enrollment.Status == models.EnrollmentActive:
		return e.pauseEnrollment(ctx, enrollment, models.PausedByConditions)
	case !holds && enrollment.Status == models.EnrollmentPaused && enrollment.PauseReason == models.PausedByConditions:
		return e.resumeEnrollment(ctx, enrollment)
	default:
		return nil
	}
}
