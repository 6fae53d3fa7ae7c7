package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DeliveryType is how the customer receives the order
type DeliveryType string

const (
	DeliveryTypeDelivery DeliveryType = "delivery"
	DeliveryTypePickup   DeliveryType = "pickup"
)

func ToDeliveryType(s string) (DeliveryType, error) {
	switch DeliveryType(s) {
	case DeliveryTypeDelivery, DeliveryTypePickup:
		return DeliveryType(s), nil
	}
	return "", fmt.Errorf("invalid delivery type: %q", s)
}

// DeliveryTimeOption tells the kitchen when to fulfil the order
type DeliveryTimeOption string

const (
	DeliveryTimeASAP      DeliveryTimeOption = "asap"
	DeliveryTimeScheduled DeliveryTimeOption = "scheduled"
)

// Order statuses
const (
	OrderStatusNonCompleted = "non-completed"
	OrderStatusCompleted    = "completed"
)

// LineItem is one priced row of an order
type LineItem struct {
	ProductID      string          `json:"productId"`
	Title          string          `json:"title"`
	UnitPrice      decimal.Decimal `json:"price"`
	Quantity       int             `json:"quantity"`
	IsDeliveryLine bool            `json:"isDeliveryLine,omitempty"`
}

// Subtotal returns unit price times quantity
func (li LineItem) Subtotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// LineItems is stored as a JSONB column
type LineItems []LineItem

// Value implements driver.Valuer
func (l LineItems) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner
func (l *LineItems) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	case nil:
		*l = nil
		return nil
	default:
		return errors.New("line_items: unsupported column type")
	}
	return json.Unmarshal(data, l)
}

// Customer holds the personally identifying fields of an order.
// Inside an Order these values are ciphertext.
type Customer struct {
	Name      string `db:"name" json:"name"`
	Surname   string `db:"surname" json:"surname"`
	Phone     string `db:"phone" json:"phone"`
	Email     string `db:"email" json:"email"`
	Address   string `db:"address" json:"address"`
	Notes     string `db:"notes" json:"notes"`
	PromoCode string `db:"promo_code" json:"promoCode"`
}

// Order represents a checkout in the primary ledger
type Order struct {
	ID                int64  `db:"id" json:"-"`
	MerchantReference string `db:"merchant_reference" json:"merchantReference"`
	UUID              string `db:"uuid" json:"uuid,omitempty"`

	Customer

	DeliveryType       DeliveryType       `db:"delivery_type" json:"deliveryType"`
	DeliveryTimeOption DeliveryTimeOption `db:"delivery_time_option" json:"deliveryTimeOption"`
	DeliveryDate       string             `db:"delivery_date" json:"deliveryDate,omitempty"`
	DeliveryTime       string             `db:"delivery_time" json:"deliveryTime,omitempty"`
	Locale             string             `db:"locale" json:"locale"`

	LineItems    LineItems       `db:"line_items" json:"lineItems"`
	ProductTotal decimal.Decimal `db:"product_total" json:"productTotal"`
	DeliveryFee  decimal.Decimal `db:"delivery_fee" json:"deliveryFee"`
	TotalAmount  decimal.Decimal `db:"total_amount" json:"totalAmount"`

	Paid          bool          `db:"paid" json:"paid"`
	PaymentStatus PaymentStatus `db:"payment_status" json:"paymentStatus"`
	OrderStatus   string        `db:"order_status" json:"orderStatus"`
	PaymentURL    string        `db:"payment_url" json:"paymentUrl,omitempty"`
	ClientHash    string        `db:"client_hash" json:"-"`

	// CheckoutVersion is bumped by every resubmission of the pending order
	CheckoutVersion int64 `db:"checkout_version" json:"-"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// UnpaidOrder is an abandoned checkout moved out of the primary ledger
type UnpaidOrder struct {
	Order
	ArchivedAt time.Time `db:"archived_at" json:"archivedAt"`
}

// ProductLines returns the line items excluding the delivery line
func (o *Order) ProductLines() LineItems {
	lines := make(LineItems, 0, len(o.LineItems))
	for _, li := range o.LineItems {
		if !li.IsDeliveryLine {
			lines = append(lines, li)
		}
	}
	return lines
}

// ProcessedEvent for idempotent event auditing
type ProcessedEvent struct {
	EventID           string    `db:"event_id"`
	EventType         string    `db:"event_type"`
	MerchantReference string    `db:"merchant_reference"`
	PaymentStatus     string    `db:"payment_status"`
	ProcessedAt       time.Time `db:"processed_at"`
}
