package workflow

import (
	"fmt"

	"gorm.io/gorm"
)

// Per-order MySQL advisory lock. Held for the whole mutation transaction so
// two concurrent mutations of the same order serialize even across processes;
// the lot row lock alone does not cover header-level races (status recompute,
// total refresh).
//
// GET_LOCK/RELEASE_LOCK are scoped to the MySQL connection, so callers must
// acquire and release on the same pinned connection and keep the lock held
// until the transaction has committed.

func acquireOrderPostingLock(tx *gorm.DB, businessId string, orderId int) error {
	lockName := fmt.Sprintf("order_post:%s:%d", businessId, orderId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire posting lock for business_id=%s order_id=%d", businessId, orderId)
	}
	return nil
}

func releaseOrderPostingLock(tx *gorm.DB, businessId string, orderId int) {
	lockName := fmt.Sprintf("order_post:%s:%d", businessId, orderId)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}
