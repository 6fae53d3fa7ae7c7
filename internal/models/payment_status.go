package models

import (
	"database/sql/driver"
	"fmt"
)

// PaymentStatus is the settlement state of an order
type PaymentStatus string

// remember to add new statuses to validPaymentStatuses and, when reachable
// from a notification, to processorCodes and transitions
const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusAuthorized        PaymentStatus = "authorized"
	PaymentStatusCompleted         PaymentStatus = "completed"
	PaymentStatusVoided            PaymentStatus = "voided"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
	PaymentStatusRefunded          PaymentStatus = "refunded"
	PaymentStatusAbandoned         PaymentStatus = "abandoned"
	PaymentStatusReturned          PaymentStatus = "returned"
	PaymentStatusPartiallyReturned PaymentStatus = "partially_returned"
)

var validPaymentStatuses = map[PaymentStatus]struct{}{
	PaymentStatusPending:           {},
	PaymentStatusAuthorized:        {},
	PaymentStatusCompleted:         {},
	PaymentStatusVoided:            {},
	PaymentStatusPartiallyRefunded: {},
	PaymentStatusRefunded:          {},
	PaymentStatusAbandoned:         {},
	PaymentStatusReturned:          {},
	PaymentStatusPartiallyReturned: {},
}

// processorCodes maps the codes sent by the payment processor
var processorCodes = map[string]PaymentStatus{
	"PAID":               PaymentStatusCompleted,
	"AUTHORIZED":         PaymentStatusAuthorized,
	"VOIDED":             PaymentStatusVoided,
	"PARTIALLY_REFUNDED": PaymentStatusPartiallyRefunded,
	"REFUNDED":           PaymentStatusRefunded,
	"ABANDONED":          PaymentStatusAbandoned,
}

// transitions lists, per target status, the statuses it may be reached from.
// A status missing from a list is either the target itself (idempotent replay)
// or a newer state that a stale notification must not overwrite.
var transitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusAuthorized: {PaymentStatusPending},
	PaymentStatusCompleted:  {PaymentStatusPending, PaymentStatusAuthorized},
	PaymentStatusVoided:     {PaymentStatusPending, PaymentStatusAuthorized, PaymentStatusCompleted},
	PaymentStatusPartiallyRefunded: {
		PaymentStatusPending, PaymentStatusAuthorized, PaymentStatusCompleted,
	},
	PaymentStatusRefunded: {
		PaymentStatusPending, PaymentStatusAuthorized, PaymentStatusCompleted, PaymentStatusPartiallyRefunded,
	},
	PaymentStatusAbandoned: {PaymentStatusPending, PaymentStatusAuthorized},
}

func ToPaymentStatus(s string) (PaymentStatus, error) {
	status := PaymentStatus(s)
	if _, ok := validPaymentStatuses[status]; ok {
		return status, nil
	}
	return "", fmt.Errorf("invalid payment status: %q", s)
}

// FromProcessorCode converts a notification status code such as PAID.
// Codes must match exactly; anything else is rejected rather than defaulted.
func FromProcessorCode(code string) (PaymentStatus, error) {
	status, ok := processorCodes[code]
	if !ok {
		return "", fmt.Errorf("unknown payment status: %q", code)
	}
	return status, nil
}

// AllowedFrom returns the statuses from which target can be entered
func AllowedFrom(target PaymentStatus) []PaymentStatus {
	from := transitions[target]
	out := make([]PaymentStatus, len(from))
	copy(out, from)
	return out
}

// CanTransition reports whether from -> to is a real state change
func CanTransition(from, to PaymentStatus) bool {
	for _, s := range transitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further settlement side effects fire
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusCompleted, PaymentStatusAbandoned, PaymentStatusVoided,
		PaymentStatusPartiallyRefunded, PaymentStatusRefunded:
		return true
	}
	return false
}

func (s PaymentStatus) String() string {
	return string(s)
}

// Value implements driver.Valuer
func (s PaymentStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// Scan implements sql.Scanner, refusing values outside the enum
func (s *PaymentStatus) Scan(src interface{}) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("payment_status: unsupported column type %T", src)
	}
	status, err := ToPaymentStatus(raw)
	if err != nil {
		return err
	}
	*s = status
	return nil
}
