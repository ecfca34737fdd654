package models

import (
	"errors"

	"github.com/shopspring/decimal"
)

// StockItemType distinguishes the two ledger-tracked item families.
// Produced/sellable goods are NOT ledger-tracked (see ProductLot).
type StockItemType string

const (
	StockItemTypeRawMaterial StockItemType = "RawMaterial"
	StockItemTypeRecurring   StockItemType = "RecurringProduct"
)

func (t StockItemType) Valid() bool {
	switch t {
	case StockItemTypeRawMaterial, StockItemTypeRecurring:
		return true
	}
	return false
}

func ParseStockItemType(s string) (StockItemType, error) {
	t := StockItemType(s)
	if !t.Valid() {
		return "", errors.New("invalid stock item type")
	}
	return t, nil
}

// MovementKind is the closed set of ledger movement kinds. Quantity on a
// movement row is always positive; the kind implies the sign.
type MovementKind string

const (
	MovementKindIn          MovementKind = "In"
	MovementKindConsumption MovementKind = "Consumption"
	MovementKindWaste       MovementKind = "Waste"
	MovementKindTransferOut MovementKind = "TransferOut"
	MovementKindTransferIn  MovementKind = "TransferIn"
)

func (k MovementKind) Valid() bool {
	switch k {
	case MovementKindIn, MovementKindConsumption, MovementKindWaste,
		MovementKindTransferOut, MovementKindTransferIn:
		return true
	}
	return false
}

func (k MovementKind) IsInbound() bool {
	return k == MovementKindIn || k == MovementKindTransferIn
}

// SignedQty applies the kind's sign to a (positive) movement quantity.
func (k MovementKind) SignedQty(qty decimal.Decimal) decimal.Decimal {
	if k.IsInbound() {
		return qty
	}
	return qty.Neg()
}

func ParseMovementKind(s string) (MovementKind, error) {
	k := MovementKind(s)
	if !k.Valid() {
		return "", errors.New("invalid movement kind")
	}
	return k, nil
}

// MovementRefType names the causing record of a ledger movement, when any.
type MovementRefType string

const (
	MovementRefTypeWasteRecord     MovementRefType = "WasteRecord"
	MovementRefTypeTransferRecord  MovementRefType = "TransferRecord"
	MovementRefTypeProductionBatch MovementRefType = "ProductionBatch"
)

func (t MovementRefType) Valid() bool {
	switch t {
	case MovementRefTypeWasteRecord, MovementRefTypeTransferRecord,
		MovementRefTypeProductionBatch:
		return true
	}
	return false
}

// OrderStatus is derived by the status calculator; callers never set it
// directly except through the hold/lock workflows.
type OrderStatus string

const (
	OrderStatusDraft     OrderStatus = "Draft"
	OrderStatusConfirmed OrderStatus = "Confirmed"
	OrderStatusHold      OrderStatus = "Hold"
	OrderStatusCompleted OrderStatus = "Completed"
	OrderStatusCancelled OrderStatus = "Cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusDraft, OrderStatusConfirmed, OrderStatusHold,
		OrderStatusCompleted, OrderStatusCancelled:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusReady   PaymentStatus = "ReadyForPayment"
	PaymentStatusPartial PaymentStatus = "PartialPayment"
	PaymentStatusFull    PaymentStatus = "FullPayment"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusReady, PaymentStatusPartial, PaymentStatusFull:
		return true
	}
	return false
}

type PaymentModeType string

const (
	PaymentModeCash         PaymentModeType = "Cash"
	PaymentModeBankTransfer PaymentModeType = "BankTransfer"
	PaymentModeMobileWallet PaymentModeType = "MobileWallet"
	PaymentModeCheque       PaymentModeType = "Cheque"
)

func (m PaymentModeType) Valid() bool {
	switch m {
	case PaymentModeCash, PaymentModeBankTransfer, PaymentModeMobileWallet, PaymentModeCheque:
		return true
	}
	return false
}

type LockAction string

const (
	LockActionLock   LockAction = "Lock"
	LockActionUnlock LockAction = "Unlock"
)

// AuditEventKind enumerates every audited order mutation.
type AuditEventKind string

const (
	AuditOrderCreated    AuditEventKind = "ORDER_CREATED"
	AuditItemAdded       AuditEventKind = "ITEM_ADDED"
	AuditItemUpdated     AuditEventKind = "ITEM_UPDATED"
	AuditItemDeleted     AuditEventKind = "ITEM_DELETED"
	AuditPaymentAdded    AuditEventKind = "PAYMENT_ADDED"
	AuditPaymentDeleted  AuditEventKind = "PAYMENT_DELETED"
	AuditStatusChanged   AuditEventKind = "STATUS_CHANGED"
	AuditDiscountChanged AuditEventKind = "DISCOUNT_CHANGED"
	AuditHoldPlaced      AuditEventKind = "HOLD_PLACED"
	AuditHoldRemoved     AuditEventKind = "HOLD_REMOVED"
	AuditOrderLocked     AuditEventKind = "ORDER_LOCKED"
	AuditOrderUnlocked   AuditEventKind = "ORDER_UNLOCKED"
	AuditOrderCompleted  AuditEventKind = "ORDER_COMPLETED"
	AuditOrderCancelled  AuditEventKind = "ORDER_CANCELLED"
)

type UserRole string

const (
	UserRoleAdmin UserRole = "A"
	UserRoleOwner UserRole = "O"
	UserRoleClerk UserRole = "C"
)

// OutboxPublishStatus tracks income fan-out publishing.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)
