package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/mmdatafocus/salesdesk_backend/config"
	"github.com/mmdatafocus/salesdesk_backend/utils"
	"gorm.io/gorm"
)

// OrderAuditEvent is one append-only trail entry per order mutation. The
// before/after payloads carry enough to reconstruct what changed without
// re-deriving it from other tables.
type OrderAuditEvent struct {
	ID           int            `gorm:"primary_key" json:"id"`
	BusinessId   string         `gorm:"index;not null" json:"business_id"`
	SalesOrderId int            `gorm:"index;not null" json:"sales_order_id"`
	EventKind    AuditEventKind `gorm:"size:30;not null" json:"event_kind" binding:"required"`
	Before       string         `gorm:"type:text" json:"before"`
	After        string         `gorm:"type:text" json:"after"`
	Description  string         `gorm:"type:text;not null" json:"description"`
	UserId       int            `gorm:"index;not null" json:"user_id"`
	UserName     string         `gorm:"size:100" json:"user_name"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

// OrderAuditEventView is the read shape: performer resolved to a display name.
type OrderAuditEventView struct {
	ID            int            `json:"id"`
	SalesOrderId  int            `json:"sales_order_id"`
	EventKind     AuditEventKind `json:"event_kind"`
	Before        string         `json:"before"`
	After         string         `json:"after"`
	Description   string         `json:"description"`
	PerformerName string         `json:"performer_name"`
	CreatedAt     time.Time      `json:"created_at"`
}

// audit rows never change
func (e *OrderAuditEvent) BeforeUpdate(tx *gorm.DB) error {
	return errors.New("audit events are append only and cannot be updated")
}

func (e *OrderAuditEvent) BeforeDelete(tx *gorm.DB) error {
	return errors.New("audit events are append only and cannot be deleted")
}

// CreateOrderAudit appends one event inside the caller's transaction so the
// mutation and its trail entry commit or roll back together.
func CreateOrderAudit(tx *gorm.DB,
	eventKind AuditEventKind,
	orderId int,
	before interface{},
	after interface{},
	description string) error {

	b, _ := json.Marshal(before)
	a, _ := json.Marshal(after)

	ctx := tx.Statement.Context
	// get businessId, userId, userName from context
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return errors.New("business id is required")
	}
	userId, _ := utils.GetUserIdFromContext(ctx)
	userName, _ := utils.GetUserNameFromContext(ctx)

	event := OrderAuditEvent{
		BusinessId:   businessId,
		SalesOrderId: orderId,
		EventKind:    eventKind,
		Before:       string(b),
		After:        string(a),
		Description:  description,
		UserId:       userId,
		UserName:     userName,
	}
	return tx.Create(&event).Error
}

// ListOrderAuditEvents returns the order's trail newest-first, resolving each
// performer to a display name ("System" when unresolved).
func ListOrderAuditEvents(ctx context.Context, orderId int) ([]*OrderAuditEventView, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	var events []*OrderAuditEvent
	err := db.WithContext(ctx).
		Where("business_id = ? AND sales_order_id = ?", businessId, orderId).
		Order("created_at DESC, id DESC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}

	views := make([]*OrderAuditEventView, 0, len(events))
	for _, event := range events {
		performer := event.UserName
		if performer == "" {
			performer = GetUserDisplayName(ctx, businessId, event.UserId)
		}
		views = append(views, &OrderAuditEventView{
			ID:            event.ID,
			SalesOrderId:  event.SalesOrderId,
			EventKind:     event.EventKind,
			Before:        event.Before,
			After:         event.After,
			Description:   event.Description,
			PerformerName: performer,
			CreatedAt:     event.CreatedAt,
		})
	}
	return views, nil
}
