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

// StockMovement is one immutable ledger entry for a raw material or recurring
// product. Quantity is always positive; the kind implies the sign. The row is
// never updated or deleted once written (enforced by the gorm hooks below).
type StockMovement struct {
	ID            int              `gorm:"primary_key" json:"id"`
	BusinessId    string           `gorm:"index;not null" json:"business_id" binding:"required"`
	StockItemId   int              `gorm:"index;not null" json:"stock_item_id" binding:"required"`
	ItemType      StockItemType    `gorm:"type:enum('RawMaterial','RecurringProduct');not null" json:"item_type"`
	LotCode       string           `gorm:"size:100" json:"lot_code"`
	MovementKind  MovementKind     `gorm:"type:enum('In','Consumption','Waste','TransferOut','TransferIn');not null" json:"movement_kind" binding:"required"`
	Quantity      decimal.Decimal  `gorm:"type:decimal(20,4);not null" json:"quantity" binding:"required"`
	Unit          string           `gorm:"size:20;not null" json:"unit"`
	EffectiveDate time.Time        `gorm:"index;not null" json:"effective_date" binding:"required"`
	ReferenceId   int              `json:"reference_id"`
	ReferenceType *MovementRefType `gorm:"size:50" json:"reference_type"`
	CreatedBy     int              `gorm:"not null" json:"created_by"`
	CreatedAt     time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

type NewStockMovement struct {
	StockItemId   int              `json:"stock_item_id" binding:"required"`
	MovementKind  MovementKind     `json:"movement_kind" binding:"required"`
	Quantity      decimal.Decimal  `json:"quantity" binding:"required"`
	EffectiveDate time.Time        `json:"effective_date" binding:"required"`
	ReferenceId   int              `json:"reference_id"`
	ReferenceType *MovementRefType `json:"reference_type"`
}

// ledger rows never change
func (sm *StockMovement) BeforeUpdate(tx *gorm.DB) error {
	return errors.New("stock movements are append only and cannot be updated")
}

func (sm *StockMovement) BeforeDelete(tx *gorm.DB) error {
	return errors.New("stock movements are append only and cannot be deleted")
}

// SignedQuantity is the movement's contribution to the item balance.
func (sm StockMovement) SignedQuantity() decimal.Decimal {
	return sm.MovementKind.SignedQty(sm.Quantity)
}

func (input *NewStockMovement) validate(ctx context.Context, businessId string) (*StockItem, error) {
	if input.Quantity.LessThanOrEqual(decimal.Zero) {
		return nil, utils.ErrInvalidMovementQuantity
	}
	if !input.MovementKind.Valid() {
		return nil, errors.New("invalid movement kind")
	}
	if input.ReferenceType != nil && !input.ReferenceType.Valid() {
		return nil, errors.New("invalid movement reference type")
	}
	item, err := utils.FetchModel[StockItem](ctx, businessId, input.StockItemId)
	if err != nil {
		return nil, err
	}
	return item, nil
}

// RecordStockMovement appends one ledger entry. The append is the only side
// effect; balances are derived on read (see stockBalance.go).
func RecordStockMovement(ctx context.Context, input *NewStockMovement) (*StockMovement, error) {
	db := config.GetDB()

	var movement *StockMovement
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		movement, txErr = recordStockMovementTx(tx, ctx, input)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return movement, nil
}

// recordStockMovementTx appends within the caller's transaction, for workflows
// that ledger a movement alongside other writes (waste records, transfers).
func recordStockMovementTx(tx *gorm.DB, ctx context.Context, input *NewStockMovement) (*StockMovement, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	userId, _ := utils.GetUserIdFromContext(ctx)

	item, err := input.validate(ctx, businessId)
	if err != nil {
		return nil, err
	}

	movement := StockMovement{
		BusinessId:    businessId,
		StockItemId:   item.ID,
		ItemType:      item.ItemType,
		LotCode:       item.LotCode,
		MovementKind:  input.MovementKind,
		Quantity:      input.Quantity,
		Unit:          item.Unit,
		EffectiveDate: input.EffectiveDate,
		ReferenceId:   input.ReferenceId,
		ReferenceType: input.ReferenceType,
		CreatedBy:     userId,
	}
	if err := tx.Create(&movement).Error; err != nil {
		return nil, err
	}
	return &movement, nil
}

func ListStockMovements(ctx context.Context, stockItemId int, fromDate, toDate *time.Time) ([]*StockMovement, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	dbCtx := db.WithContext(ctx).
		Where("business_id = ? AND stock_item_id = ?", businessId, stockItemId)
	if fromDate != nil {
		dbCtx = dbCtx.Where("effective_date >= ?", *fromDate)
	}
	if toDate != nil {
		dbCtx = dbCtx.Where("effective_date <= ?", *toDate)
	}

	var movements []*StockMovement
	if err := dbCtx.Order("effective_date, created_at, id").Find(&movements).Error; err != nil {
		return nil, err
	}
	return movements, nil
}
