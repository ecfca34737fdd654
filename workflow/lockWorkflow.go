package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/mmdatafocus/salesdesk_backend/config"
	"github.com/mmdatafocus/salesdesk_backend/models"
	"github.com/mmdatafocus/salesdesk_backend/utils"
	"gorm.io/gorm"
)

// unlockWindow is how long after locking a completed order can still be
// unlocked. Past it the order is permanently locked; expiry is evaluated
// lazily on the next unlock attempt, not by a timer.
const unlockWindow = 7 * 24 * time.Hour

// LockOrder locks a completed order. The completion check runs against the
// freshly recomputed status, not the stored column.
func LockOrder(ctx context.Context, orderId int) (*models.SalesOrder, error) {
	logger := config.GetLogger()

	order, err := withOrderMutation(ctx, orderId, false, func(tx *gorm.DB, order *models.SalesOrder) error {
		if utils.DereferencePtr(order.IsLocked) {
			return utils.ErrAlreadyLocked
		}

		if err := refreshOrderTotal(tx, order); err != nil {
			return err
		}
		if err := recomputeOrderStatus(tx, order); err != nil {
			return err
		}
		if order.CurrentStatus != models.OrderStatusCompleted {
			return utils.ErrOrderNotCompleted
		}

		now := timeNow()
		until := now.Add(unlockWindow)
		order.IsLocked = utils.NewTrue()
		order.LockedAt = &now
		order.CanUnlockUntil = &until
		if err := tx.Model(&models.SalesOrder{}).Where("id = ?", order.ID).
			Updates(map[string]interface{}{
				"is_locked":        true,
				"locked_at":        &now,
				"can_unlock_until": &until,
			}).Error; err != nil {
			return err
		}

		if err := models.CreateLockEvent(tx, order.ID, models.LockActionLock, ""); err != nil {
			return err
		}
		return models.CreateOrderAudit(tx, models.AuditOrderLocked, order.ID, nil,
			map[string]interface{}{"locked_at": &now, "can_unlock_until": &until},
			fmt.Sprintf("Order %s locked.", order.OrderNumber))
	})
	if err != nil {
		config.LogError(logger, "workflow", "LockOrder", "orderId", orderId, err)
		return nil, err
	}
	return order, nil
}

// UnlockOrder reverses a lock within the unlock window. The reason is
// mandatory and goes on the lock event.
func UnlockOrder(ctx context.Context, orderId int, reason string) (*models.SalesOrder, error) {
	logger := config.GetLogger()

	order, err := withOrderMutation(ctx, orderId, false, func(tx *gorm.DB, order *models.SalesOrder) error {
		if !utils.DereferencePtr(order.IsLocked) {
			return utils.ErrNotLocked
		}
		if reason == "" {
			return utils.ErrReasonRequired
		}
		if order.CanUnlockUntil == nil || timeNow().After(*order.CanUnlockUntil) {
			return utils.ErrUnlockWindowExpired
		}

		lockedAt := order.LockedAt
		order.IsLocked = utils.NewFalse()
		order.LockedAt = nil
		order.CanUnlockUntil = nil
		if err := tx.Model(&models.SalesOrder{}).Where("id = ?", order.ID).
			Updates(map[string]interface{}{
				"is_locked":        false,
				"locked_at":        nil,
				"can_unlock_until": nil,
			}).Error; err != nil {
			return err
		}

		if err := models.CreateLockEvent(tx, order.ID, models.LockActionUnlock, reason); err != nil {
			return err
		}
		return models.CreateOrderAudit(tx, models.AuditOrderUnlocked, order.ID,
			map[string]interface{}{"locked_at": lockedAt}, nil,
			fmt.Sprintf("Order %s unlocked: %s", order.OrderNumber, reason))
	})
	if err != nil {
		config.LogError(logger, "workflow", "UnlockOrder", "orderId", orderId, err)
		return nil, err
	}
	return order, nil
}
