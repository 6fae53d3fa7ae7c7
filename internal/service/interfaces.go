package service

import (
	"context"
	"time"

	"catering-service/internal/models"
	"catering-service/internal/notify"
	"catering-service/internal/payment"
)

// OrderLedger is the persistence the checkout and settlement flows need.
// *store.Store implements it.
type OrderLedger interface {
	UpsertPendingOrder(ctx context.Context, order *models.Order) (bool, error)
	SetPaymentURL(ctx context.Context, merchantReference string, checkoutVersion int64, paymentURL string) error
	GetOrderByReference(ctx context.Context, merchantReference string) (*models.Order, error)
	TransitionPaymentStatus(ctx context.Context, merchantReference string, status models.PaymentStatus, processorUUID string) (*models.Order, error)
	AbandonOrder(ctx context.Context, merchantReference, processorUUID string) (*models.UnpaidOrder, error)
}

// PaymentProcessor issues payment links. *payment.Client implements it.
type PaymentProcessor interface {
	BuildRequest(order *models.Order, billing payment.BillingAddress) payment.OrderRequest
	CreatePaymentLink(ctx context.Context, req payment.OrderRequest) (string, error)
}

// CheckoutLocker serializes submissions of the same checkout intent.
// *redisclient.Client implements it.
type CheckoutLocker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// EventPublisher emits order lifecycle events. *broker.EventPublisher implements it.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event *models.OrderEvent) error
}

// PaidNotifier delivers paid-order notifications. *notify.Dispatcher implements it.
type PaidNotifier interface {
	NotifyPaid(ctx context.Context, summary notify.OrderSummary) error
}
