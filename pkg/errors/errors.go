package errors

import "errors"

var (
	ErrNoParticipants          = errors.New("no participants resolved for purchase")
	ErrInvalidParticipantCount = errors.New("participant count must be at least one")
	ErrNegativeAmount          = errors.New("amount must not be negative")
	ErrInvalidSplit            = errors.New("split shares do not sum to the purchase total")
	ErrPurchaseNotFound        = errors.New("purchase not found")
	ErrPaymentShareNotFound    = errors.New("payment share not found")
	ErrPaymentAlreadyPaid      = errors.New("payment share already paid")
	ErrInvalidStateTransition  = errors.New("invalid payment share state transition")
	ErrDuplicateReference      = errors.New("payment reference already exists")
	ErrGroupNotFound           = errors.New("group not found or has no members")
	ErrNilPurchase             = errors.New("purchase is nil")
	ErrNilShare                = errors.New("payment share is nil")
	ErrInternal                = errors.New("internal error")
)
