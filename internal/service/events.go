package service

import (
	"context"
	"time"

	"catering-service/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// eventEmitter publishes lifecycle events after the ledger has committed.
// Publishing is best effort: the ledger is the source of truth.
type eventEmitter struct {
	publisher EventPublisher
	logger    *zap.Logger
}

func (e eventEmitter) emit(ctx context.Context, eventType string, order *models.Order, previous models.PaymentStatus) {
	if e.publisher == nil {
		return
	}

	event := &models.OrderEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: eventType,
			Timestamp: time.Now(),
		},
		MerchantReference: order.MerchantReference,
		PaymentStatus:     order.PaymentStatus,
		PreviousStatus:    previous,
		TotalAmount:       order.TotalAmount.StringFixed(2),
		UUID:              order.UUID,
	}

	if err := e.publisher.PublishOrderEvent(ctx, event); err != nil {
		e.logger.Error("Failed to publish order event",
			zap.String("event_type", eventType),
			zap.String("merchant_reference", order.MerchantReference),
			zap.Error(err))
	}
}
