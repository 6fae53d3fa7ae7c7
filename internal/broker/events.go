package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"catering-service/internal/models"
	"catering-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher writes keyed messages. *Producer implements it.
type Publisher interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing order lifecycle events
type EventPublisher struct {
	producer Publisher
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer Publisher) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishOrderEvent publishes event keyed by its merchant reference
func (ep *EventPublisher) PublishOrderEvent(ctx context.Context, event *models.OrderEvent) error {
	return ep.producer.PublishEvent(ctx, "order-"+event.MerchantReference, event)
}

// OrderEventFunc handles one decoded order event
type OrderEventFunc func(context.Context, *models.OrderEvent) error

// EventHandler routes incoming events by type
type EventHandler struct {
	handlers map[string]OrderEventFunc
	logger   *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{handlers: map[string]OrderEventFunc{}, logger: util.Logger("events")}
}

// On registers handler for eventType
func (eh *EventHandler) On(eventType string, handler OrderEventFunc) {
	eh.handlers[eventType] = handler
}

// HandleMessage routes messages to appropriate handlers. Undecodable
// messages are logged and skipped so they do not block the partition.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		eh.logger.Error("Skipping malformed event", zap.Int64("offset", msg.Offset), zap.Error(err))
		return nil
	}

	handler, ok := eh.handlers[baseEvent.EventType]
	if !ok {
		eh.logger.Debug("Unhandled event type", zap.String("event_type", baseEvent.EventType))
		return nil
	}

	var event models.OrderEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		eh.logger.Error("Skipping malformed order event",
			zap.String("event_id", baseEvent.EventID), zap.Error(err))
		return nil
	}

	if err := handler(ctx, &event); err != nil {
		return fmt.Errorf("failed to handle %s event %s: %w", baseEvent.EventType, baseEvent.EventID, err)
	}
	return nil
}
