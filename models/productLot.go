package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/salesdesk_backend/config"
	"github.com/mmdatafocus/salesdesk_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProductLot is a finished/produced good tracked counter-based: the available
// quantity is a directly mutated running total, not a ledger sum. Order item
// mutations deduct from and restore to quantity_available under a row lock.
type ProductLot struct {
	ID                int             `gorm:"primary_key" json:"id"`
	BusinessId        string          `gorm:"index;not null" json:"business_id" binding:"required"`
	LotCode           string          `gorm:"size:100;not null" json:"lot_code" binding:"required"`
	Name              string          `gorm:"size:100;not null" json:"name" binding:"required"`
	Unit              string          `gorm:"size:20;not null" json:"unit"`
	UnitPrice         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	QuantityCreated   decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"quantity_created"`
	QuantityAvailable decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"quantity_available"`
	ProducedAt        time.Time       `gorm:"not null" json:"produced_at"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProductLot struct {
	LotCode         string          `json:"lot_code" binding:"required"`
	Name            string          `json:"name" binding:"required"`
	Unit            string          `json:"unit"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	QuantityCreated decimal.Decimal `json:"quantity_created" binding:"required"`
	ProducedAt      time.Time       `json:"produced_at"`
}

// LotBalanceBreakdown crosschecks the counter:
// available must equal created - delivered - wasted.
type LotBalanceBreakdown struct {
	LotId             int             `json:"lot_id"`
	QuantityCreated   decimal.Decimal `json:"quantity_created"`
	QuantityDelivered decimal.Decimal `json:"quantity_delivered"`
	QuantityWasted    decimal.Decimal `json:"quantity_wasted"`
	QuantityAvailable decimal.Decimal `json:"quantity_available"`
	Derived           decimal.Decimal `json:"derived"`
}

func (lot ProductLot) GetCursor() string {
	return lot.CreatedAt.String()
}

func (lot ProductLot) GetId() int {
	return lot.ID
}

func CreateProductLot(ctx context.Context, input *NewProductLot) (*ProductLot, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if input.QuantityCreated.LessThanOrEqual(decimal.Zero) {
		return nil, utils.ErrInvalidMovementQuantity
	}
	if err := utils.ValidateUnique[ProductLot](ctx, businessId, "lot_code", input.LotCode, 0); err != nil {
		return nil, err
	}

	producedAt := input.ProducedAt
	if producedAt.IsZero() {
		producedAt = time.Now()
	}

	lot := ProductLot{
		BusinessId:        businessId,
		LotCode:           input.LotCode,
		Name:              input.Name,
		Unit:              input.Unit,
		UnitPrice:         input.UnitPrice,
		QuantityCreated:   input.QuantityCreated,
		QuantityAvailable: input.QuantityCreated,
		ProducedAt:        producedAt,
	}
	if err := db.WithContext(ctx).Create(&lot).Error; err != nil {
		return nil, err
	}
	return &lot, nil
}

func GetProductLot(ctx context.Context, id int) (*ProductLot, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[ProductLot](ctx, businessId, id)
}

func ListProductLots(ctx context.Context) ([]*ProductLot, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchAllModels[ProductLot](ctx, businessId)
}

// fetchLotForUpdate loads the lot under FOR UPDATE so concurrent availability
// checks against the same lot serialize (check-then-act race).
func fetchLotForUpdate(tx *gorm.DB, businessId string, lotId int) (*ProductLot, error) {
	var lot ProductLot
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ?", businessId).
		First(&lot, lotId).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &lot, nil
}

// DeductLotQuantity checks availability and decrements under the caller's
// transaction. Fails before any mutation when stock is short.
func DeductLotQuantity(tx *gorm.DB, businessId string, lotId int, qty decimal.Decimal) (*ProductLot, error) {
	if qty.LessThanOrEqual(decimal.Zero) {
		return nil, utils.ErrInvalidMovementQuantity
	}
	lot, err := fetchLotForUpdate(tx, businessId, lotId)
	if err != nil {
		return nil, err
	}
	if lot.QuantityAvailable.LessThan(qty) {
		return nil, utils.ErrInsufficientInventory
	}
	lot.QuantityAvailable = lot.QuantityAvailable.Sub(qty)
	if err := tx.Model(&ProductLot{}).Where("id = ?", lot.ID).
		Update("quantity_available", lot.QuantityAvailable).Error; err != nil {
		return nil, err
	}
	return lot, nil
}

// RestoreLotQuantity gives a previously deducted quantity back to the lot.
func RestoreLotQuantity(tx *gorm.DB, businessId string, lotId int, qty decimal.Decimal) (*ProductLot, error) {
	if qty.LessThanOrEqual(decimal.Zero) {
		return nil, utils.ErrInvalidMovementQuantity
	}
	lot, err := fetchLotForUpdate(tx, businessId, lotId)
	if err != nil {
		return nil, err
	}
	lot.QuantityAvailable = lot.QuantityAvailable.Add(qty)
	if err := tx.Model(&ProductLot{}).Where("id = ?", lot.ID).
		Update("quantity_available", lot.QuantityAvailable).Error; err != nil {
		return nil, err
	}
	return lot, nil
}

// GetLotBalanceBreakdown derives the lot balance from its own counters plus
// the delivered and waste sub-ledgers, for reconciliation against the stored
// quantity_available.
func GetLotBalanceBreakdown(ctx context.Context, lotId int) (*LotBalanceBreakdown, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	lot, err := utils.FetchModel[ProductLot](ctx, businessId, lotId)
	if err != nil {
		return nil, err
	}

	var delivered decimal.NullDecimal
	if err := db.WithContext(ctx).Model(&SalesOrderItem{}).
		Select("COALESCE(SUM(sales_order_items.quantity), 0)").
		Joins("JOIN sales_orders ON sales_orders.id = sales_order_items.sales_order_id").
		Where("sales_orders.business_id = ? AND sales_order_items.product_lot_id = ? AND sales_orders.current_status <> ?",
			businessId, lotId, OrderStatusCancelled).
		Scan(&delivered).Error; err != nil {
		return nil, err
	}

	var wasted decimal.NullDecimal
	if err := db.WithContext(ctx).Model(&LotWaste{}).
		Select("COALESCE(SUM(quantity), 0)").
		Where("business_id = ? AND product_lot_id = ?", businessId, lotId).
		Scan(&wasted).Error; err != nil {
		return nil, err
	}

	breakdown := LotBalanceBreakdown{
		LotId:             lot.ID,
		QuantityCreated:   lot.QuantityCreated,
		QuantityDelivered: delivered.Decimal,
		QuantityWasted:    wasted.Decimal,
		QuantityAvailable: lot.QuantityAvailable,
	}
	breakdown.Derived = breakdown.QuantityCreated.
		Sub(breakdown.QuantityDelivered).
		Sub(breakdown.QuantityWasted)
	return &breakdown, nil
}
