package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/salesdesk_backend/config"
	"github.com/mmdatafocus/salesdesk_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// LotWaste is the waste sub-ledger for finished-good lots. Raw material waste
// goes through the stock movement ledger instead (kind Waste).
type LotWaste struct {
	ID           int             `gorm:"primary_key" json:"id"`
	BusinessId   string          `gorm:"index;not null" json:"business_id"`
	ProductLotId int             `gorm:"index;not null" json:"product_lot_id" binding:"required"`
	Quantity     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity" binding:"required"`
	Reason       string          `gorm:"type:text" json:"reason"`
	CreatedBy    int             `gorm:"not null" json:"created_by"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewLotWaste struct {
	ProductLotId int             `json:"product_lot_id" binding:"required"`
	Quantity     decimal.Decimal `json:"quantity" binding:"required"`
	Reason       string          `json:"reason"`
}

// waste rows never change
func (lw *LotWaste) BeforeUpdate(tx *gorm.DB) error {
	return errors.New("lot waste records are append only and cannot be updated")
}

func (lw *LotWaste) BeforeDelete(tx *gorm.DB) error {
	return errors.New("lot waste records are append only and cannot be deleted")
}

// RecordLotWaste deducts the wasted quantity from the lot counter and appends
// the waste row in the same transaction.
func RecordLotWaste(ctx context.Context, input *NewLotWaste) (*LotWaste, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	userId, _ := utils.GetUserIdFromContext(ctx)

	if input.Quantity.LessThanOrEqual(decimal.Zero) {
		return nil, utils.ErrInvalidMovementQuantity
	}

	var waste LotWaste
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := DeductLotQuantity(tx, businessId, input.ProductLotId, input.Quantity); err != nil {
			return err
		}
		waste = LotWaste{
			BusinessId:   businessId,
			ProductLotId: input.ProductLotId,
			Quantity:     input.Quantity,
			Reason:       input.Reason,
			CreatedBy:    userId,
		}
		return tx.Create(&waste).Error
	})
	if err != nil {
		return nil, err
	}
	return &waste, nil
}

func ListLotWaste(ctx context.Context, productLotId int) ([]*LotWaste, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	var records []*LotWaste
	err := db.WithContext(ctx).
		Where("business_id = ? AND product_lot_id = ?", businessId, productLotId).
		Order("created_at DESC, id DESC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}
