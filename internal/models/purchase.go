package models

import "time"

// Purchase is a coffee purchase to be split among participants.
// GroupID is nil for personal purchases. All monetary fields are
// integers in the minor currency unit.
type Purchase struct {
	ID              int64      `json:"id"`
	GroupID         *int64     `json:"group_id,omitempty"`
	BuyerID         int64      `json:"buyer_id"`
	BeanRef         string     `json:"bean_ref"`
	TotalAmount     int64      `json:"total_amount"`
	PurchasedOn     time.Time  `json:"purchased_on"`
	CollectedAmount int64      `json:"collected_amount"`
	IsFullyPaid     bool       `json:"is_fully_paid"`
	CreatedAt       time.Time  `json:"created_at"`
}

// PurchaseSummary is the read model returned to callers: the purchase
// totals plus the current state of every share.
type PurchaseSummary struct {
	PurchaseID  int64          `json:"purchase_id"`
	Total       int64          `json:"total"`
	Collected   int64          `json:"collected"`
	Outstanding int64          `json:"outstanding"`
	IsFullyPaid bool           `json:"is_fully_paid"`
	Shares      []PaymentShare `json:"shares"`
}
