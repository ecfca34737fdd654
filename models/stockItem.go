package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/salesdesk_backend/config"
	"github.com/mmdatafocus/salesdesk_backend/utils"
)

// StockItem is a ledger-tracked raw material or recurring product. Its balance
// is never stored; it is always derived from stock movements (see stockBalance.go).
// Finished goods live in ProductLot and use counter-based accounting instead.
type StockItem struct {
	ID         int           `gorm:"primary_key" json:"id"`
	BusinessId string        `gorm:"index;not null" json:"business_id" binding:"required"`
	Name       string        `gorm:"size:100;not null" json:"name" binding:"required"`
	ItemType   StockItemType `gorm:"type:enum('RawMaterial','RecurringProduct');not null" json:"item_type" binding:"required"`
	LotCode    string        `gorm:"size:100" json:"lot_code"`
	Unit       string        `gorm:"size:20;not null" json:"unit" binding:"required"`
	IsActive   *bool         `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewStockItem struct {
	Name     string        `json:"name" binding:"required"`
	ItemType StockItemType `json:"item_type" binding:"required"`
	LotCode  string        `json:"lot_code"`
	Unit     string        `json:"unit" binding:"required"`
}

func (si StockItem) GetCursor() string {
	return si.CreatedAt.String()
}

func (si StockItem) GetId() int {
	return si.ID
}

func (input *NewStockItem) validate(ctx context.Context, businessId string, id int) error {
	if !input.ItemType.Valid() {
		return errors.New("invalid stock item type")
	}
	if err := utils.ValidateUnique[StockItem](ctx, businessId, "name", input.Name, id); err != nil {
		return err
	}
	return nil
}

func CreateStockItem(ctx context.Context, input *NewStockItem) (*StockItem, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := input.validate(ctx, businessId, 0); err != nil {
		return nil, err
	}

	item := StockItem{
		BusinessId: businessId,
		Name:       input.Name,
		ItemType:   input.ItemType,
		LotCode:    input.LotCode,
		Unit:       input.Unit,
		IsActive:   utils.NewTrue(),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func GetStockItem(ctx context.Context, id int) (*StockItem, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[StockItem](ctx, businessId, id)
}

func ListStockItems(ctx context.Context, itemType *StockItemType) ([]*StockItem, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if itemType != nil {
		dbCtx = dbCtx.Where("item_type = ?", *itemType)
	}
	var items []*StockItem
	if err := dbCtx.Order("name").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
