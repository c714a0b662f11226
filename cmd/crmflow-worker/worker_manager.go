package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/dukex/crmflow/pkg/cmd"
	"github.com/dukex/crmflow/pkg/engine"
	"github.com/dukex/crmflow/pkg/eventbus"
	"github.com/dukex/crmflow/pkg/events"
	"github.com/dukex/crmflow/pkg/scheduler"
)

type WorkerManager struct {
	id        string
	engine    *engine.Engine
	eventBus  eventbus.EventSubscriber
	scheduler *scheduler.Runner
	logger    *slog.Logger
}

// NewWorkerManager wires a worker. eventBus may be nil, in which case the
// worker only runs the periodic sweep.
func NewWorkerManager(
	id string,
	eng *engine.Engine,
	eventBus eventbus.EventSubscriber,
	runner *scheduler.Runner,
	logger *slog.Logger,
) *WorkerManager {
	return &WorkerManager{
		id:        id,
		engine:    eng,
		eventBus:  eventBus,
		scheduler: runner,
		logger:    logger.With("module", "crmflow-worker", "worker_id", id),
	}
}

// Start runs the worker until SIGINT or SIGTERM.
func (w *WorkerManager) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return w.Run(ctx)
}

// Run subscribes to domain events, starts the sweep and blocks until ctx is
// done.
func (w *WorkerManager) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager")

	if w.eventBus != nil {
		err := w.eventBus.Handle(events.DomainEventReceivedType, w.handleDomainEvent)
		if err != nil {
			return err
		}

		err = w.eventBus.Subscribe(ctx)
		if err != nil {
			w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

			return err
		}
	}

	if w.scheduler != nil {
		if err := w.scheduler.Start(ctx); err != nil {
			return err
		}
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	<-ctx.Done()

	w.logger.InfoContext(ctx, "Shutting down worker...")

	if w.scheduler != nil {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cmd.ShutdownTimeout)
		defer cancel()

		if err := w.scheduler.Stop(stopCtx); err != nil {
			w.logger.ErrorContext(ctx, "Failed to stop scheduler", "error", err)
		}
	}

	return nil
}

// handleDomainEvent returns an error only for failures worth redelivering.
// Malformed events are dropped since redelivery cannot fix them.
func (w *WorkerManager) handleDomainEvent(ctx context.Context, event any) error {
	received, ok := event.(*events.DomainEventReceived)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for DomainEventReceived")

		return nil
	}

	logger := w.logger.With(
		"tenant_id", received.Event.TenantID,
		"event_id", received.Event.ID,
		"event_kind", received.Event.Kind,
		"entity_id", received.Event.EntityID,
	)
	logger.DebugContext(ctx, "Processing domain event")

	err := w.engine.SubmitEvent(ctx, received.Event)
	if errors.Is(err, engine.ErrInvalidEvent) {
		logger.WarnContext(ctx, "Dropping invalid domain event", "error", err)

		return nil
	}

	if err != nil {
		logger.ErrorContext(ctx, "Failed to process domain event", "error", err)

		return err
	}

	return nil
}
