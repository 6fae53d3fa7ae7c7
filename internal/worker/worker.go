package worker

import (
	"context"
	"fmt"

	"catering-service/internal/broker"
	"catering-service/internal/models"
	"catering-service/internal/util"

	"go.uber.org/zap"
)

// EventRecorder stores processed events idempotently. *store.Store implements it.
type EventRecorder interface {
	RecordOrderEvent(ctx context.Context, event *models.ProcessedEvent) (bool, error)
}

// AuditWorker writes every order lifecycle event into the audit log
type AuditWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	recorder     EventRecorder
	logger       *zap.Logger
}

// NewAuditWorker creates a new audit worker
func NewAuditWorker(consumer *broker.Consumer, recorder EventRecorder) *AuditWorker {
	w := &AuditWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		recorder:     recorder,
		logger:       util.Logger("audit-worker"),
	}

	for _, eventType := range []string{
		models.EventTypeCheckoutCreated,
		models.EventTypeCheckoutUpdated,
		models.EventTypePaymentStatusChanged,
		models.EventTypeOrderAbandoned,
	} {
		w.eventHandler.On(eventType, w.record)
	}

	return w
}

// Start starts the worker
func (w *AuditWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting audit worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *AuditWorker) Stop() error {
	w.logger.Info("Stopping audit worker")
	return w.consumer.Close()
}

func (w *AuditWorker) record(ctx context.Context, event *models.OrderEvent) error {
	ctx, span := util.StartSpan(ctx, "AuditWorker.record")
	defer span.End()

	inserted, err := w.recorder.RecordOrderEvent(ctx, &models.ProcessedEvent{
		EventID:           event.EventID,
		EventType:         event.EventType,
		MerchantReference: event.MerchantReference,
		PaymentStatus:     string(event.PaymentStatus),
	})
	if err != nil {
		return util.RecordError(span, fmt.Errorf("failed to record event: %w", err))
	}

	if !inserted {
		w.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	util.OrderEventsAuditedTotal.WithLabelValues(event.EventType).Inc()
	return nil
}
