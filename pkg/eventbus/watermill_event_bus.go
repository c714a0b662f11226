package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/crmflow/pkg/events"
)

const DefaultRetryDelay = 250 * time.Millisecond

var ErrHandlerRegistered = errors.New("handler already registered")

// WatermillEventBus routes messages on events.Topic to one handler per event
// type. Messages that cannot be decoded are dropped; handler errors are
// retried after RetryDelay.
type WatermillEventBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     *slog.Logger

	// RetryDelay is waited before a failed message is released for redelivery.
	RetryDelay time.Duration

	mu       sync.RWMutex
	handlers map[events.EventType]EventHandler
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber, logger *slog.Logger) *WatermillEventBus {
	return &WatermillEventBus{
		publisher:  pub,
		subscriber: sub,
		logger:     logger.With("module", "event_bus"),
		RetryDelay: DefaultRetryDelay,
		handlers:   make(map[events.EventType]EventHandler),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

// Publish sends event with key as its partition key. Events sharing a key
// are delivered in publish order on transports that partition.
func (eb *WatermillEventBus) Publish(ctx context.Context, key string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event.GetType(), err)
	}

	msg := message.NewMessage(eb.GenerateID(), payload)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))
	msg.SetContext(ctx)

	if err := eb.publisher.Publish(events.Topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", event.GetType(), err)
	}

	return nil
}

func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if _, exists := eb.handlers[eventType]; exists {
		return fmt.Errorf("%w: %s", ErrHandlerRegistered, eventType)
	}

	eb.handlers[eventType] = handler

	return nil
}

// Subscribe starts consuming in the background until ctx is done.
func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	messages, err := eb.subscriber.Subscribe(ctx, events.Topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			if eb.dispatch(ctx, msg) {
				msg.Ack()

				continue
			}

			select {
			case <-time.After(eb.RetryDelay):
			case <-ctx.Done():
			}

			msg.Nack()
		}
	}()

	return nil
}

// dispatch reports whether msg is done with. False means redeliver.
func (eb *WatermillEventBus) dispatch(ctx context.Context, msg *message.Message) bool {
	eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))
	logger := eb.logger.With("event_type", eventType, "message_id", msg.UUID)

	eb.mu.RLock()
	handler, exists := eb.handlers[eventType]
	eb.mu.RUnlock()

	if !exists {
		return true
	}

	event, ok := events.New(eventType)
	if !ok {
		logger.ErrorContext(ctx, "dropping message of unknown event type")

		return true
	}

	if err := json.Unmarshal(msg.Payload, event); err != nil {
		logger.ErrorContext(ctx, "dropping undecodable message", "error", err)

		return true
	}

	if err := handler(ctx, event); err != nil {
		logger.WarnContext(ctx, "event handler failed, message will be redelivered", "error", err)

		return false
	}

	return true
}

func (eb *WatermillEventBus) Close() error {
	return errors.Join(eb.subscriber.Close(), eb.publisher.Close())
}
