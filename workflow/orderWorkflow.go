package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmdatafocus/salesdesk_backend/config"
	"github.com/mmdatafocus/salesdesk_backend/models"
	"github.com/mmdatafocus/salesdesk_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Every order mutation runs inside one transaction under the per-order
// advisory lock: lot deduction/restoration, the item/payment write, the total
// refresh, the status recompute and the audit append commit or roll back
// together. No partial application.

// withOrderMutation acquires the posting lock, loads the order inside the
// transaction and runs fn. checkChange enforces the locked/cancelled guard.
func withOrderMutation(ctx context.Context, orderId int, checkChange bool,
	fn func(tx *gorm.DB, order *models.SalesOrder) error) (*models.SalesOrder, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var order models.SalesOrder

	// GET_LOCK is connection-scoped, so the lock and the transaction must run
	// on the same pinned connection. The release defers until after COMMIT:
	// releasing inside the transaction would let a competitor acquire the lock
	// and read the pre-commit order header.
	err := db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if err := acquireOrderPostingLock(conn, businessId, orderId); err != nil {
			return err
		}
		defer releaseOrderPostingLock(conn, businessId, orderId)

		return conn.Transaction(func(tx *gorm.DB) error {
			if checkChange {
				fetched, err := utils.FetchModelForChange[models.SalesOrder](tx, ctx, businessId, orderId)
				if err != nil {
					if errors.Is(err, utils.ErrorRecordNotFound) {
						return utils.ErrOrderNotFound
					}
					return err
				}
				order = *fetched
			} else if err := tx.Where("business_id = ?", businessId).
				First(&order, orderId).Error; err != nil {
				return utils.ErrOrderNotFound
			}
			return fn(tx, &order)
		})
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// refreshOrderTotal reloads the monetary total from the lines.
func refreshOrderTotal(tx *gorm.DB, order *models.SalesOrder) error {
	var total decimal.NullDecimal
	err := tx.Model(&models.SalesOrderItem{}).
		Select("COALESCE(SUM(line_total), 0)").
		Where("sales_order_id = ?", order.ID).
		Scan(&total).Error
	if err != nil {
		return err
	}
	order.TotalAmount = total.Decimal
	return nil
}

func fetchOrderItemTx(tx *gorm.DB, orderId, itemId int) (*models.SalesOrderItem, error) {
	var item models.SalesOrderItem
	err := tx.Where("sales_order_id = ?", orderId).First(&item, itemId).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &item, nil
}

// AddOrderItem deducts from the lot (failing before any write when stock is
// short), inserts the line and recomputes status.
func AddOrderItem(ctx context.Context, orderId int, input *models.NewSalesOrderItem) (*models.SalesOrderItem, error) {
	logger := config.GetLogger()

	if input.Quantity.LessThanOrEqual(decimal.Zero) {
		return nil, utils.ErrInvalidMovementQuantity
	}
	if input.UnitPrice.IsNegative() {
		return nil, errors.New("unit price cannot be negative")
	}

	var item models.SalesOrderItem
	_, err := withOrderMutation(ctx, orderId, true, func(tx *gorm.DB, order *models.SalesOrder) error {
		lot, err := models.DeductLotQuantity(tx, order.BusinessId, input.ProductLotId, input.Quantity)
		if err != nil {
			return err
		}

		item = models.SalesOrderItem{
			SalesOrderId: order.ID,
			ProductLotId: lot.ID,
			Name:         lot.Name,
			Quantity:     input.Quantity,
			UnitPrice:    input.UnitPrice,
			LineTotal:    input.Quantity.Mul(input.UnitPrice),
		}
		if err := tx.Create(&item).Error; err != nil {
			return err
		}

		if err := models.CreateOrderAudit(tx, models.AuditItemAdded, order.ID, nil, item,
			fmt.Sprintf("Item %s x%v added to order %s.", item.Name, item.Quantity, order.OrderNumber)); err != nil {
			return err
		}

		if err := refreshOrderTotal(tx, order); err != nil {
			return err
		}
		return recomputeOrderStatus(tx, order)
	})
	if err != nil {
		config.LogError(logger, "workflow", "AddOrderItem", "orderId", orderId, err)
		return nil, err
	}
	return &item, nil
}

// UpdateOrderItem adjusts quantity/price and, when the target lot changes,
// restores the old lot then deducts from the new one as two audited sub-events.
func UpdateOrderItem(ctx context.Context, orderId, itemId int, input *models.NewSalesOrderItem) (*models.SalesOrderItem, error) {
	logger := config.GetLogger()

	if input.Quantity.LessThanOrEqual(decimal.Zero) {
		return nil, utils.ErrInvalidMovementQuantity
	}
	if input.UnitPrice.IsNegative() {
		return nil, errors.New("unit price cannot be negative")
	}

	var updated *models.SalesOrderItem
	_, err := withOrderMutation(ctx, orderId, true, func(tx *gorm.DB, order *models.SalesOrder) error {
		item, err := fetchOrderItemTx(tx, orderId, itemId)
		if err != nil {
			return err
		}
		before := *item

		if input.ProductLotId != 0 && input.ProductLotId != item.ProductLotId {
			// lot change: restore old then deduct new
			if _, err := models.RestoreLotQuantity(tx, order.BusinessId, item.ProductLotId, item.Quantity); err != nil {
				return err
			}
			if err := models.CreateOrderAudit(tx, models.AuditItemUpdated, order.ID, before, nil,
				fmt.Sprintf("Item %s: quantity %v restored to lot %d.", item.Name, item.Quantity, item.ProductLotId)); err != nil {
				return err
			}
			lot, err := models.DeductLotQuantity(tx, order.BusinessId, input.ProductLotId, input.Quantity)
			if err != nil {
				return err
			}
			item.ProductLotId = lot.ID
			item.Name = lot.Name
			if err := models.CreateOrderAudit(tx, models.AuditItemUpdated, order.ID, nil, item,
				fmt.Sprintf("Item %s: quantity %v deducted from lot %d.", item.Name, input.Quantity, lot.ID)); err != nil {
				return err
			}
		} else {
			diff := input.Quantity.Sub(item.Quantity)
			if diff.GreaterThan(decimal.Zero) {
				if _, err := models.DeductLotQuantity(tx, order.BusinessId, item.ProductLotId, diff); err != nil {
					return err
				}
			} else if diff.LessThan(decimal.Zero) {
				if _, err := models.RestoreLotQuantity(tx, order.BusinessId, item.ProductLotId, diff.Neg()); err != nil {
					return err
				}
			}
		}

		item.Quantity = input.Quantity
		item.UnitPrice = input.UnitPrice
		item.LineTotal = input.Quantity.Mul(input.UnitPrice)
		if err := tx.Model(&models.SalesOrderItem{}).Where("id = ?", item.ID).
			Updates(map[string]interface{}{
				"product_lot_id": item.ProductLotId,
				"name":           item.Name,
				"quantity":       item.Quantity,
				"unit_price":     item.UnitPrice,
				"line_total":     item.LineTotal,
			}).Error; err != nil {
			return err
		}

		if err := models.CreateOrderAudit(tx, models.AuditItemUpdated, order.ID, before, item,
			fmt.Sprintf("Item %s updated on order %s.", item.Name, order.OrderNumber)); err != nil {
			return err
		}

		if err := refreshOrderTotal(tx, order); err != nil {
			return err
		}
		updated = item
		return recomputeOrderStatus(tx, order)
	})
	if err != nil {
		config.LogError(logger, "workflow", "UpdateOrderItem", "itemId", itemId, err)
		return nil, err
	}
	return updated, nil
}

// DeleteOrderItem restores the line quantity to its lot and removes the line.
func DeleteOrderItem(ctx context.Context, orderId, itemId int) (*models.SalesOrder, error) {
	logger := config.GetLogger()

	order, err := withOrderMutation(ctx, orderId, true, func(tx *gorm.DB, order *models.SalesOrder) error {
		item, err := fetchOrderItemTx(tx, orderId, itemId)
		if err != nil {
			return err
		}

		if _, err := models.RestoreLotQuantity(tx, order.BusinessId, item.ProductLotId, item.Quantity); err != nil {
			return err
		}
		if err := tx.Delete(&models.SalesOrderItem{}, item.ID).Error; err != nil {
			return err
		}
		if err := models.CreateOrderAudit(tx, models.AuditItemDeleted, order.ID, item, nil,
			fmt.Sprintf("Item %s removed from order %s.", item.Name, order.OrderNumber)); err != nil {
			return err
		}

		if err := refreshOrderTotal(tx, order); err != nil {
			return err
		}
		return recomputeOrderStatus(tx, order)
	})
	if err != nil {
		config.LogError(logger, "workflow", "DeleteOrderItem", "itemId", itemId, err)
		return nil, err
	}
	return order, nil
}

// CancelOrder restores every line's quantity to its lot and moves the order to
// its terminal Cancelled status.
func CancelOrder(ctx context.Context, orderId int) (*models.SalesOrder, error) {
	logger := config.GetLogger()

	order, err := withOrderMutation(ctx, orderId, true, func(tx *gorm.DB, order *models.SalesOrder) error {
		var items []models.SalesOrderItem
		if err := tx.Where("sales_order_id = ?", order.ID).Find(&items).Error; err != nil {
			return err
		}
		for _, item := range items {
			if _, err := models.RestoreLotQuantity(tx, order.BusinessId, item.ProductLotId, item.Quantity); err != nil {
				return err
			}
		}

		before := order.CurrentStatus
		order.CurrentStatus = models.OrderStatusCancelled
		if err := tx.Model(&models.SalesOrder{}).Where("id = ?", order.ID).
			Update("current_status", models.OrderStatusCancelled).Error; err != nil {
			return err
		}

		return models.CreateOrderAudit(tx, models.AuditOrderCancelled, order.ID,
			map[string]interface{}{"current_status": before},
			map[string]interface{}{"current_status": models.OrderStatusCancelled},
			fmt.Sprintf("Order %s cancelled.", order.OrderNumber))
	})
	if err != nil {
		config.LogError(logger, "workflow", "CancelOrder", "orderId", orderId, err)
		return nil, err
	}
	return order, nil
}

// AddOrderPayment records a payment, queues the income fan-out in the same
// transaction and recomputes status. A payment on an already completed order
// does not change status and does not error.
func AddOrderPayment(ctx context.Context, orderId int, input *models.NewOrderPayment) (*models.OrderPayment, error) {
	logger := config.GetLogger()

	if err := input.Validate(); err != nil {
		return nil, err
	}

	var payment models.OrderPayment
	_, err := withOrderMutation(ctx, orderId, true, func(tx *gorm.DB, order *models.SalesOrder) error {
		userId, _ := utils.GetUserIdFromContext(ctx)

		paymentDateTime := input.PaymentDateTime
		if paymentDateTime.IsZero() {
			paymentDateTime = timeNow()
		}
		paymentMode := input.PaymentMode
		if paymentMode == "" {
			paymentMode = models.PaymentModeCash
		}

		payment = models.OrderPayment{
			BusinessId:      order.BusinessId,
			SalesOrderId:    order.ID,
			Amount:          input.Amount,
			PaymentMode:     paymentMode,
			ReferenceNumber: input.ReferenceNumber,
			PaidTo:          input.PaidTo,
			PaymentDateTime: paymentDateTime,
			CreatedBy:       userId,
		}
		if err := tx.Create(&payment).Error; err != nil {
			return err
		}

		if config.IncomeFanoutEnabled() {
			if _, err := models.QueueIncomeMessage(tx, &payment, models.OutboxActionCreate); err != nil {
				return err
			}
			now := timeNow()
			if err := tx.Model(&models.OrderPayment{}).Where("id = ?", payment.ID).
				Update("income_queued_at", &now).Error; err != nil {
				return err
			}
			payment.IncomeQueuedAt = &now
		}

		if err := models.CreateOrderAudit(tx, models.AuditPaymentAdded, order.ID, nil, payment,
			fmt.Sprintf("Payment of %v received for order %s.", payment.Amount, order.OrderNumber)); err != nil {
			return err
		}
		return recomputeOrderStatus(tx, order)
	})
	if err != nil {
		config.LogError(logger, "workflow", "AddOrderPayment", "orderId", orderId, err)
		return nil, err
	}
	return &payment, nil
}

// DeleteOrderPayment removes a payment that has not yet been fanned out to
// income, then recomputes status.
func DeleteOrderPayment(ctx context.Context, orderId, paymentId int) (*models.SalesOrder, error) {
	logger := config.GetLogger()

	order, err := withOrderMutation(ctx, orderId, true, func(tx *gorm.DB, order *models.SalesOrder) error {
		var payment models.OrderPayment
		if err := tx.Where("sales_order_id = ?", orderId).
			First(&payment, paymentId).Error; err != nil {
			return utils.ErrorRecordNotFound
		}
		if payment.IncomeQueuedAt != nil && config.StrictPaymentImmutability() {
			return utils.ErrPaymentImmutable
		}
		if payment.IncomeQueuedAt != nil {
			// income already fanned out; queue the reversal alongside the delete
			if _, err := models.QueueIncomeMessage(tx, &payment, models.OutboxActionDelete); err != nil {
				return err
			}
		}

		if err := tx.Delete(&payment).Error; err != nil {
			return err
		}
		if err := models.CreateOrderAudit(tx, models.AuditPaymentDeleted, order.ID, payment, nil,
			fmt.Sprintf("Payment of %v removed from order %s.", payment.Amount, order.OrderNumber)); err != nil {
			return err
		}
		return recomputeOrderStatus(tx, order)
	})
	if err != nil {
		config.LogError(logger, "workflow", "DeleteOrderPayment", "paymentId", paymentId, err)
		return nil, err
	}
	return order, nil
}

// SetOrderDiscount validates the discount at input time (a discount above the
// order total would make the net total negative) and recomputes status.
func SetOrderDiscount(ctx context.Context, orderId int, discount decimal.Decimal) (*models.SalesOrder, error) {
	logger := config.GetLogger()

	if discount.IsNegative() {
		return nil, errors.New("discount amount cannot be negative")
	}

	order, err := withOrderMutation(ctx, orderId, true, func(tx *gorm.DB, order *models.SalesOrder) error {
		if err := refreshOrderTotal(tx, order); err != nil {
			return err
		}
		if discount.GreaterThan(order.TotalAmount) {
			return errors.New("discount amount cannot exceed the order total")
		}

		before := order.DiscountAmount
		order.DiscountAmount = discount
		if err := tx.Model(&models.SalesOrder{}).Where("id = ?", order.ID).
			Update("discount_amount", discount).Error; err != nil {
			return err
		}

		if err := models.CreateOrderAudit(tx, models.AuditDiscountChanged, order.ID,
			map[string]interface{}{"discount_amount": before},
			map[string]interface{}{"discount_amount": discount},
			fmt.Sprintf("Discount on order %s changed from %v to %v.", order.OrderNumber, before, discount)); err != nil {
			return err
		}
		return recomputeOrderStatus(tx, order)
	})
	if err != nil {
		config.LogError(logger, "workflow", "SetOrderDiscount", "orderId", orderId, err)
		return nil, err
	}
	return order, nil
}

// PlaceHold freezes the displayed status at Hold regardless of payments.
func PlaceHold(ctx context.Context, orderId int, reason string) (*models.SalesOrder, error) {
	logger := config.GetLogger()

	order, err := withOrderMutation(ctx, orderId, true, func(tx *gorm.DB, order *models.SalesOrder) error {
		if utils.DereferencePtr(order.OnHold) {
			return errors.New("order is already on hold")
		}
		userId, _ := utils.GetUserIdFromContext(ctx)
		now := timeNow()

		order.OnHold = utils.NewTrue()
		order.HoldReason = reason
		order.HoldBy = userId
		order.HoldAt = &now
		if err := tx.Model(&models.SalesOrder{}).Where("id = ?", order.ID).
			Updates(map[string]interface{}{
				"on_hold":     true,
				"hold_reason": reason,
				"hold_by":     userId,
				"hold_at":     &now,
			}).Error; err != nil {
			return err
		}

		if err := models.CreateOrderAudit(tx, models.AuditHoldPlaced, order.ID, nil,
			map[string]interface{}{"hold_reason": reason},
			fmt.Sprintf("Order %s placed on hold.", order.OrderNumber)); err != nil {
			return err
		}
		return recomputeOrderStatus(tx, order)
	})
	if err != nil {
		config.LogError(logger, "workflow", "PlaceHold", "orderId", orderId, err)
		return nil, err
	}
	return order, nil
}

// RemoveHold lifts the hold; the recompute then reports the underlying status.
func RemoveHold(ctx context.Context, orderId int) (*models.SalesOrder, error) {
	logger := config.GetLogger()

	order, err := withOrderMutation(ctx, orderId, true, func(tx *gorm.DB, order *models.SalesOrder) error {
		if !utils.DereferencePtr(order.OnHold) {
			return errors.New("order is not on hold")
		}
		before := order.HoldReason

		order.OnHold = utils.NewFalse()
		order.HoldReason = ""
		order.HoldBy = 0
		order.HoldAt = nil
		if err := tx.Model(&models.SalesOrder{}).Where("id = ?", order.ID).
			Updates(map[string]interface{}{
				"on_hold":     false,
				"hold_reason": "",
				"hold_by":     0,
				"hold_at":     nil,
			}).Error; err != nil {
			return err
		}

		if err := models.CreateOrderAudit(tx, models.AuditHoldRemoved, order.ID,
			map[string]interface{}{"hold_reason": before}, nil,
			fmt.Sprintf("Hold removed from order %s.", order.OrderNumber)); err != nil {
			return err
		}
		return recomputeOrderStatus(tx, order)
	})
	if err != nil {
		config.LogError(logger, "workflow", "RemoveHold", "orderId", orderId, err)
		return nil, err
	}
	return order, nil
}
