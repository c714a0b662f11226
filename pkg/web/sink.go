package web

import (
	"context"

	"github.com/dukex/crmflow/pkg/eventbus"
	"github.com/dukex/crmflow/pkg/events"
	"github.com/dukex/crmflow/pkg/models"
)

// EventSink receives validated domain events. *engine.Engine handles them in
// process; BusSink hands them to the workers.
type EventSink interface {
	SubmitEvent(ctx context.Context, event models.DomainEvent) error
}

// BusSink publishes domain events keyed by entity so that the events of one
// entity are consumed in order.
type BusSink struct {
	publisher eventbus.EventPublisher
}

func NewBusSink(publisher eventbus.EventPublisher) *BusSink {
	return &BusSink{publisher: publisher}
}

func (s *BusSink) SubmitEvent(ctx context.Context, event models.DomainEvent) error {
	return s.publisher.Publish(ctx, event.EntityID, events.DomainEventReceived{
		BaseEvent: events.NewBaseEvent(events.DomainEventReceivedType, event.TenantID),
		Event:     event,
	})
}
