package models

import "time"

// Event types
const (
	EventTypeCheckoutCreated      = "CHECKOUT_CREATED"
	EventTypeCheckoutUpdated      = "CHECKOUT_UPDATED"
	EventTypePaymentStatusChanged = "PAYMENT_STATUS_CHANGED"
	EventTypeOrderAbandoned       = "ORDER_ABANDONED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderEvent is published after every committed ledger change.
// It never carries customer data.
type OrderEvent struct {
	BaseEvent
	MerchantReference string        `json:"merchant_reference"`
	PaymentStatus     PaymentStatus `json:"payment_status"`
	PreviousStatus    PaymentStatus `json:"previous_status,omitempty"`
	TotalAmount       string        `json:"total_amount"`
	UUID              string        `json:"uuid,omitempty"`
}
