package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

// Order/inventory error taxonomy. All of these are recoverable: handlers surface
// the message and the caller retries with corrected input.
var (
	ErrOrderNotFound           = errors.New("order not found")
	ErrInsufficientInventory   = errors.New("requested quantity is more than the lot's available stock")
	ErrInvalidMovementQuantity = errors.New("stock movement quantity must be greater than zero")

	ErrOrderLocked       = errors.New("order is locked and cannot be modified")
	ErrOrderCancelled    = errors.New("order is cancelled and cannot be modified")
	ErrPaymentImmutable  = errors.New("payment has been posted to income and cannot be modified")

	ErrAlreadyLocked       = errors.New("order is already locked")
	ErrOrderNotCompleted   = errors.New("only completed orders can be locked")
	ErrNotLocked           = errors.New("order is not locked")
	ErrUnlockWindowExpired = errors.New("the unlock window for this order has expired")
	ErrReasonRequired      = errors.New("an unlock reason is required")
)
