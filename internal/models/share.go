package models

import "time"

// PaymentShare is one participant's slice of a purchase. A share is
// created UNPAID (the buyer's own share is settled immediately) and is
// mutated only under a row lock held by the reconciliation service.
type PaymentShare struct {
	ID               int64       `json:"id"`
	PurchaseID       int64       `json:"purchase_id"`
	UserID           int64       `json:"user_id"`
	Amount           int64       `json:"amount"`
	Status           ShareStatus `json:"status"`
	PaymentReference string      `json:"payment_reference"`
	PaidAt           *time.Time  `json:"paid_at,omitempty"`
	PaidByID         *int64      `json:"paid_by_id,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

type ShareStatus string

const (
	StatusUnpaid   ShareStatus = "UNPAID"
	StatusPaid     ShareStatus = "PAID"
	StatusFailed   ShareStatus = "FAILED"
	StatusRefunded ShareStatus = "REFUNDED"
)

// Valid reports whether s is one of the known share statuses.
func (s ShareStatus) Valid() bool {
	switch s {
	case StatusUnpaid, StatusPaid, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

// CanTransition reports whether the state machine permits from -> to.
// The only legal transitions are UNPAID->PAID, FAILED->PAID and
// PAID->REFUNDED. Nothing ever returns to UNPAID.
func CanTransition(from, to ShareStatus) bool {
	switch {
	case to == StatusPaid:
		return from == StatusUnpaid || from == StatusFailed
	case to == StatusRefunded:
		return from == StatusPaid
	}
	return false
}
