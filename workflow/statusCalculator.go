package workflow

import (
	"fmt"
	"time"

	"github.com/mmdatafocus/salesdesk_backend/models"
	"github.com/mmdatafocus/salesdesk_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// overridable in tests
var timeNow = time.Now

// statusEpsilon absorbs currency rounding when comparing paid against net total.
var statusEpsilon = decimal.NewFromFloat(0.01)

// OrderFacts is everything the status calculation depends on. Building it is
// the caller's job; the calculation itself never touches the database.
type OrderFacts struct {
	HasItems bool
	OnHold   bool
	Total    decimal.Decimal
	Discount decimal.Decimal
	Paid     decimal.Decimal
}

// CalculateStatus derives (order status, payment status) from the facts. It is
// the single source of truth: callers never set these fields by hand, and it
// runs after every item, payment, discount and hold mutation.
//
// Payment status: net = total - discount; FullPayment when paid >= net - ε and
// net > 0; PartialPayment when 0 < paid < net; ReadyForPayment otherwise.
//
// Order status priority: Hold always wins, then Completed on full payment,
// then Confirmed when the order has items, else Draft.
func CalculateStatus(facts OrderFacts) (models.OrderStatus, models.PaymentStatus) {
	net := facts.Total.Sub(facts.Discount)

	paymentStatus := models.PaymentStatusReady
	switch {
	case net.GreaterThan(decimal.Zero) && facts.Paid.GreaterThanOrEqual(net.Sub(statusEpsilon)):
		paymentStatus = models.PaymentStatusFull
	case facts.Paid.GreaterThan(decimal.Zero) && facts.Paid.LessThan(net):
		paymentStatus = models.PaymentStatusPartial
	}

	var orderStatus models.OrderStatus
	switch {
	case facts.OnHold:
		orderStatus = models.OrderStatusHold
	case paymentStatus == models.PaymentStatusFull:
		orderStatus = models.OrderStatusCompleted
	case facts.HasItems:
		orderStatus = models.OrderStatusConfirmed
	default:
		orderStatus = models.OrderStatusDraft
	}

	return orderStatus, paymentStatus
}

// recomputeOrderStatus rebuilds the order's facts inside the caller's
// transaction, applies CalculateStatus, stamps completed_at on the first
// transition to Completed (never overwritten) and audits the change.
// Cancelled is terminal and is never recomputed away.
func recomputeOrderStatus(tx *gorm.DB, order *models.SalesOrder) error {
	if order.CurrentStatus == models.OrderStatusCancelled {
		return nil
	}

	itemCount, err := models.CountOrderItems(tx, order.ID)
	if err != nil {
		return err
	}
	paid, err := models.SumOrderPayments(tx, order.ID)
	if err != nil {
		return err
	}

	facts := OrderFacts{
		HasItems: itemCount > 0,
		OnHold:   utils.DereferencePtr(order.OnHold),
		Total:    order.TotalAmount,
		Discount: order.DiscountAmount,
		Paid:     paid,
	}
	newStatus, newPaymentStatus := CalculateStatus(facts)

	oldStatus := order.CurrentStatus
	oldPaymentStatus := order.PaymentStatus

	updates := map[string]interface{}{
		"total_amount":   order.TotalAmount,
		"current_status": newStatus,
		"payment_status": newPaymentStatus,
	}

	completedNow := false
	if newStatus == models.OrderStatusCompleted && order.CompletedAt == nil {
		now := timeNow()
		order.CompletedAt = &now
		updates["completed_at"] = &now
		completedNow = true
	}

	if err := tx.Model(&models.SalesOrder{}).Where("id = ?", order.ID).
		Updates(updates).Error; err != nil {
		return err
	}
	order.CurrentStatus = newStatus
	order.PaymentStatus = newPaymentStatus

	if newStatus != oldStatus || newPaymentStatus != oldPaymentStatus {
		before := map[string]interface{}{"current_status": oldStatus, "payment_status": oldPaymentStatus}
		after := map[string]interface{}{"current_status": newStatus, "payment_status": newPaymentStatus}
		description := fmt.Sprintf("Order status changed from %s to %s.", oldStatus, newStatus)
		if err := models.CreateOrderAudit(tx, models.AuditStatusChanged, order.ID, before, after, description); err != nil {
			return err
		}
	}

	if completedNow {
		if err := models.CreateOrderAudit(tx, models.AuditOrderCompleted, order.ID, nil,
			map[string]interface{}{"completed_at": order.CompletedAt},
			fmt.Sprintf("Order %s completed.", order.OrderNumber)); err != nil {
			return err
		}
	}

	return nil
}
