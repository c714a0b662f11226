package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/crmflow/pkg/ledger"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/otelhelper"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/triggers"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// TickReport counts what one sweep did.
type TickReport struct {
	Resumed  int `json:"resumed"`
	Enrolled int `json:"enrolled"`
	Advanced int `json:"advanced"`
	Fired    int `json:"fired"`
}

// Tick resumes due executions, sweeps inactivity rules, advances due
// enrollments and fires scheduler-only flows. Failures of one item never stop
// the sweep; they are joined into the returned error.
func (e *Engine) Tick(ctx context.Context) (TickReport, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.tick")
	defer span.End()

	start := time.Now()

	var (
		report TickReport
		errs   []error
		err    error
	)

	if report.Resumed, err = e.resumeDue(ctx); err != nil {
		errs = append(errs, err)
	}

	if report.Enrolled, err = e.sweepInactivity(ctx); err != nil {
		errs = append(errs, err)
	}

	if report.Advanced, err = e.advanceDue(ctx); err != nil {
		errs = append(errs, err)
	}

	if report.Fired, err = e.fireScheduled(ctx); err != nil {
		errs = append(errs, err)
	}

	e.metrics.Tick(time.Since(start).Seconds())

	span.SetAttributes(
		attribute.Int("crmflow.tick.resumed", report.Resumed),
		attribute.Int("crmflow.tick.enrolled", report.Enrolled),
		attribute.Int("crmflow.tick.advanced", report.Advanced),
		attribute.Int("crmflow.tick.fired", report.Fired),
	)

	err = errors.Join(errs...)
	if err != nil {
		otelhelper.SetError(span, err)
		e.logger.ErrorContext(ctx, "tick finished with errors", "error", err)
	}

	e.logger.DebugContext(ctx, "tick finished",
		"resumed", report.Resumed,
		"enrolled", report.Enrolled,
		"advanced", report.Advanced,
		"fired", report.Fired)

	return report, err
}

func (e *Engine) resumeDue(ctx context.Context) (int, error) {
	due, err := e.ledger.Due(ctx, e.now(), e.cfg.TickBatch)
	if err != nil {
		return 0, fmt.Errorf("load due executions: %w", err)
	}

	var (
		resumed int
		errs    []error
	)

	for _, execution := range due {
		emitted, err := e.advance(ctx, execution.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("execution %s: %w", execution.ID, err))

			continue
		}

		resumed++

		if err := e.cascade(ctx, emitted); err != nil {
			errs = append(errs, err)
		}
	}

	return resumed, errors.Join(errs...)
}

func (e *Engine) advanceDue(ctx context.Context) (int, error) {
	due, err := e.store.Enrollments().DueEnrollments(ctx, e.now(), e.cfg.TickBatch)
	if err != nil {
		return 0, fmt.Errorf("load due enrollments: %w", err)
	}

	var (
		advanced int
		errs     []error
	)

	for _, enrollment := range due {
		ok, emitted, err := e.advanceEnrollment(ctx, enrollment.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("enrollment %s: %w", enrollment.ID, err))
		}

		if ok {
			advanced++
		}

		if err := e.cascade(ctx, emitted); err != nil {
			errs = append(errs, err)
		}
	}

	return advanced, errors.Join(errs...)
}

// fireScheduled evaluates inactivity-elapsed and no-recent-task flows against
// every lead and client of their tenant. Each inactivity period fires a flow
// at most once per entity.
func (e *Engine) fireScheduled(ctx context.Context) (int, error) {
	flows, err := e.store.Flows().Flows(ctx, persistence.FlowFilter{
		ActiveOnly:   true,
		TriggerTypes: []models.TriggerType{models.TriggerInactivityElapsed, models.TriggerNoRecentTask},
	})
	if err != nil {
		return 0, fmt.Errorf("load scheduled flows: %w", err)
	}

	var (
		fired int
		errs  []error
	)

	entities := map[string][]*models.Entity{}

	for _, flow := range flows {
		population, ok := entities[flow.TenantID]
		if !ok {
			population, err = e.population(ctx, flow.TenantID)
			if err != nil {
				errs = append(errs, fmt.Errorf("tenant %s: %w", flow.TenantID, err))

				continue
			}

			entities[flow.TenantID] = population
		}

		for _, entity := range population {
			ok, emitted, err := e.fireScheduledFlow(ctx, flow, entity)
			if err != nil {
				errs = append(errs, fmt.Errorf("flow %s entity %s: %w", flow.ID, entity.ID, err))
			}

			if ok {
				fired++
			}

			if err := e.cascade(ctx, emitted); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return fired, errors.Join(errs...)
}

func (e *Engine) population(ctx context.Context, tenantID string) ([]*models.Entity, error) {
	var out []*models.Entity

	for _, kind := range []models.EntityKind{models.EntityLead, models.EntityClient} {
		entities, err := e.entities.ListEntities(ctx, tenantID, kind)
		if err != nil {
			return nil, err
		}

		out = append(out, entities...)
	}

	return out, nil
}

func (e *Engine) fireScheduledFlow(ctx context.Context, flow *models.AutomationFlow, entity *models.Entity) (bool, []models.DomainEvent, error) {
	event := models.DomainEvent{
		ID:         uuid.NewString(),
		TenantID:   flow.TenantID,
		Kind:       flow.Trigger.Type.EventKind(),
		EntityID:   entity.ID,
		EntityKind: entity.Kind,
		Source:     models.SourceScheduler,
		OccurredAt: e.now(),
		Snapshot:   entity,
	}

	if !e.matcher.Matches(flow.Trigger, event) || !e.evaluator.Evaluate(flow.Conditions, entity) {
		return false, nil, nil
	}

	reference := triggers.Reference(flow.Trigger, entity)
	if reference == nil {
		return false, nil, nil
	}

	return e.fireFlow(ctx, flow, event, ledger.InactivityKey(flow.ID, entity.ID, *reference))
}
