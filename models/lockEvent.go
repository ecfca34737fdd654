package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/salesdesk_backend/config"
	"github.com/mmdatafocus/salesdesk_backend/utils"
	"gorm.io/gorm"
)

// LockEvent records each lock/unlock transition on an order. Unlock events
// carry the mandatory reason. Append-only.
type LockEvent struct {
	ID           int        `gorm:"primary_key" json:"id"`
	BusinessId   string     `gorm:"index;not null" json:"business_id"`
	SalesOrderId int        `gorm:"index;not null" json:"sales_order_id"`
	Action       LockAction `gorm:"type:enum('Lock','Unlock');not null" json:"action"`
	Reason       string     `gorm:"type:text" json:"reason"`
	UserId       int        `gorm:"not null" json:"user_id"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (e *LockEvent) BeforeUpdate(tx *gorm.DB) error {
	return errors.New("lock events are append only and cannot be updated")
}

func (e *LockEvent) BeforeDelete(tx *gorm.DB) error {
	return errors.New("lock events are append only and cannot be deleted")
}

func CreateLockEvent(tx *gorm.DB, orderId int, action LockAction, reason string) error {
	ctx := tx.Statement.Context

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return errors.New("business id is required")
	}
	userId, _ := utils.GetUserIdFromContext(ctx)

	event := LockEvent{
		BusinessId:   businessId,
		SalesOrderId: orderId,
		Action:       action,
		Reason:       reason,
		UserId:       userId,
	}
	return tx.Create(&event).Error
}

func ListLockEvents(ctx context.Context, orderId int) ([]*LockEvent, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	var events []*LockEvent
	err := db.WithContext(ctx).
		Where("business_id = ? AND sales_order_id = ?", businessId, orderId).
		Order("created_at DESC, id DESC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
