package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dukex/crmflow/pkg/ledger"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/otelhelper"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const activeFlowsQuery = "active-flows"

// SubmitEvent validates event and runs every flow, exit check and
// auto-enrollment it causes. Events emitted by the executed actions are
// processed in the same call, breadth first, until the chain dies out or hits
// the depth cap.
func (e *Engine) SubmitEvent(ctx context.Context, event models.DomainEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = e.now()
	}

	if err := e.validate.Struct(event); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	return e.cascade(ctx, []models.DomainEvent{event})
}

func (e *Engine) cascade(ctx context.Context, queue []models.DomainEvent) error {
	var errs []error

	for len(queue) > 0 {
		event := queue[0]
		queue = queue[1:]

		emitted, err := e.handleEvent(ctx, event)
		if err != nil {
			errs = append(errs, err)
		}

		queue = append(queue, emitted...)
	}

	return errors.Join(errs...)
}

func (e *Engine) handleEvent(ctx context.Context, event models.DomainEvent) ([]models.DomainEvent, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.handle_event",
		attribute.String(otelhelper.TenantIDKey, event.TenantID),
		attribute.String(otelhelper.EventIDKey, event.ID),
		attribute.String(otelhelper.EventKindKey, string(event.Kind)),
		attribute.String(otelhelper.EntityIDKey, event.EntityID),
		attribute.Int(otelhelper.ChainDepthKey, event.Chain.Depth),
	)
	defer span.End()

	e.metrics.Event(string(event.Kind), string(event.Source))

	logger := e.logger.With("event_id", event.ID, "kind", event.Kind, "entity_id", event.EntityID)
	logger.DebugContext(ctx, "handling event")

	if event.Snapshot == nil {
		entity, err := e.entities.GetEntity(ctx, event.TenantID, event.EntityID)
		if entityGone(err) {
			logger.WarnContext(ctx, "event entity no longer exists")

			return nil, e.failEntityEnrollments(ctx, event.TenantID, event.EntityID)
		}

		if err != nil {
			otelhelper.SetError(span, err)

			return nil, fmt.Errorf("resolve entity %s: %w", event.EntityID, err)
		}

		event.Snapshot = entity
	}

	var errs []error

	if err := e.checkExits(ctx, event); err != nil {
		errs = append(errs, err)
	}

	emitted, err := e.fireFlows(ctx, event)
	if err != nil {
		errs = append(errs, err)
	}

	if err := e.autoEnroll(ctx, event); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		otelhelper.SetError(span, err)
		logger.ErrorContext(ctx, "event handling failed", "error", err)

		return emitted, err
	}

	return emitted, nil
}

func (e *Engine) activeFlows(ctx context.Context, tenantID string) ([]*models.AutomationFlow, error) {
	return e.flows.GetOrLoad(tenantID, activeFlowsQuery, func() ([]*models.AutomationFlow, error) {
		return e.store.Flows().Flows(ctx, persistence.FlowFilter{TenantID: tenantID, ActiveOnly: true})
	})
}

// confirmFlow reloads a cached flow before it fires. Flows deactivated or
// removed since the cache was filled, possibly by another process, come back
// nil and the tenant's cached list is dropped.
func (e *Engine) confirmFlow(ctx context.Context, flow *models.AutomationFlow) (*models.AutomationFlow, error) {
	current, err := e.store.Flows().FlowByID(ctx, flow.TenantID, flow.ID)
	if err != nil && !persistence.IsNotFound(err) {
		return nil, err
	}

	if current == nil || !current.IsActive {
		e.flows.InvalidateTenant(flow.TenantID)

		return nil, nil
	}

	return current, nil
}

// fireFlows starts one execution per active flow whose trigger and conditions
// match event, unless the causal chain already reached the depth cap.
func (e *Engine) fireFlows(ctx context.Context, event models.DomainEvent) ([]models.DomainEvent, error) {
	flows, err := e.activeFlows(ctx, event.TenantID)
	if err != nil {
		return nil, fmt.Errorf("load flows: %w", err)
	}

	var matched []*models.AutomationFlow

	for _, flow := range flows {
		if !e.matcher.Matches(flow.Trigger, event) {
			continue
		}

		current, err := e.confirmFlow(ctx, flow)
		if err != nil {
			return nil, fmt.Errorf("reload flow %s: %w", flow.ID, err)
		}

		if current != nil && e.matcher.Matches(current.Trigger, event) {
			matched = append(matched, current)
		}
	}

	if len(matched) == 0 {
		return nil, nil
	}

	if event.Chain.Depth >= e.cfg.MaxChainDepth {
		return nil, e.truncate(ctx, event, matched)
	}

	var (
		emitted []models.DomainEvent
		errs    []error
	)

	for _, flow := range matched {
		if !e.evaluator.Evaluate(flow.Conditions, event.Snapshot) {
			e.logger.DebugContext(ctx, "flow conditions not met", "flow_id", flow.ID, "event_id", event.ID)

			continue
		}

		_, out, err := e.fireFlow(ctx, flow, event, ledger.FlowKey(event.ID, flow.ID))
		if err != nil {
			errs = append(errs, fmt.Errorf("flow %s: %w", flow.ID, err))
		}

		emitted = append(emitted, out...)
	}

	return emitted, errors.Join(errs...)
}

func (e *Engine) truncate(ctx context.Context, event models.DomainEvent, matched []*models.AutomationFlow) error {
	skipped := make([]string, 0, len(matched))
	for _, flow := range matched {
		skipped = append(skipped, flow.ID)
	}

	truncation, err := e.ledger.RecordTruncation(ctx, event, skipped, e.now())
	if err != nil {
		return fmt.Errorf("record truncation: %w", err)
	}

	e.metrics.Truncated()
	e.publishTruncated(ctx, truncation)

	return nil
}

// inherit stamps events emitted by an action of execution with the chain of
// the execution so the depth guard sees them.
func (e *Engine) inherit(execution *models.AutomationExecution, emitted []models.DomainEvent) []models.DomainEvent {
	out := make([]models.DomainEvent, 0, len(emitted))

	for _, event := range emitted {
		if event.ID == "" {
			event.ID = uuid.NewString()
		}

		if event.TenantID == "" {
			event.TenantID = execution.TenantID
		}

		if event.OccurredAt.IsZero() {
			event.OccurredAt = e.now()
		}

		if event.Source == "" {
			event.Source = models.SourceLive
		}

		event.Chain = models.CausalChain{
			RootEventID: execution.Chain.RootEventID,
			Depth:       execution.Chain.Depth,
			Flows:       slices.Clone(execution.Chain.Flows),
		}

		out = append(out, event)
	}

	return out
}
