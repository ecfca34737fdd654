package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/salesdesk_backend/config"
	"github.com/mmdatafocus/salesdesk_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type SalesOrder struct {
	ID             int             `gorm:"primary_key" json:"id"`
	BusinessId     string          `gorm:"index;not null" json:"business_id" binding:"required"`
	CustomerId     int             `gorm:"index;not null" json:"customer_id" binding:"required"`
	SalesPersonId  int             `json:"sales_person_id"`
	OrderNumber    string          `gorm:"size:255;not null" json:"order_number"`
	SequenceNo     int64           `gorm:"not null" json:"sequence_no"`
	OrderDate      time.Time       `gorm:"not null" json:"order_date" binding:"required"`
	TotalAmount    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	DiscountAmount decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"discount_amount"`
	CurrentStatus  OrderStatus     `gorm:"type:enum('Draft','Confirmed','Hold','Completed','Cancelled');not null;default:'Draft'" json:"current_status"`
	PaymentStatus  PaymentStatus   `gorm:"type:enum('ReadyForPayment','PartialPayment','FullPayment');not null;default:'ReadyForPayment'" json:"payment_status"`
	OnHold         *bool           `gorm:"not null;default:false" json:"on_hold"`
	HoldReason     string          `gorm:"type:text" json:"hold_reason"`
	HoldBy         int             `gorm:"default:0" json:"hold_by"`
	HoldAt         *time.Time      `json:"hold_at"`
	IsLocked       *bool           `gorm:"not null;default:false" json:"is_locked"`
	LockedAt       *time.Time      `json:"locked_at"`
	CanUnlockUntil *time.Time      `json:"can_unlock_until"`
	CompletedAt    *time.Time      `json:"completed_at"`
	Notes          string          `gorm:"type:text" json:"notes"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	Items          []SalesOrderItem `gorm:"foreignKey:SalesOrderId" json:"items"`
}

type NewSalesOrder struct {
	CustomerId     int             `json:"customer_id" binding:"required"`
	SalesPersonId  int             `json:"sales_person_id"`
	OrderDate      time.Time       `json:"order_date" binding:"required"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Notes          string          `json:"notes"`
}

type SalesOrderItem struct {
	ID           int             `gorm:"primary_key" json:"id"`
	SalesOrderId int             `gorm:"index;not null" json:"sales_order_id" binding:"required"`
	ProductLotId int             `gorm:"index;not null" json:"product_lot_id" binding:"required"`
	Name         string          `gorm:"size:100" json:"name"`
	Quantity     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity" binding:"required"`
	UnitPrice    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_price" binding:"required"`
	LineTotal    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"line_total"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewSalesOrderItem struct {
	ProductLotId int             `json:"product_lot_id" binding:"required"`
	Quantity     decimal.Decimal `json:"quantity" binding:"required"`
	UnitPrice    decimal.Decimal `json:"unit_price" binding:"required"`
}

type SalesOrdersEdge Edge[SalesOrder]
type SalesOrdersConnection struct {
	Edges    []*SalesOrdersEdge `json:"edges"`
	PageInfo *PageInfo          `json:"pageInfo"`
}

func (so SalesOrder) GetCursor() string {
	return so.CreatedAt.String()
}

func (so SalesOrder) GetId() int {
	return so.ID
}

// CheckChangeAllowed rejects mutations on locked or cancelled orders. Hold does
// not block mutations; it only overrides the displayed status.
func (so SalesOrder) CheckChangeAllowed(ctx context.Context) error {
	if utils.DereferencePtr(so.IsLocked) {
		return utils.ErrOrderLocked
	}
	if so.CurrentStatus == OrderStatusCancelled {
		return utils.ErrOrderCancelled
	}
	return nil
}

// ItemsTotal is the monetary total of all lines.
func (so SalesOrder) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range so.Items {
		total = total.Add(item.LineTotal)
	}
	return total
}

func (input *NewSalesOrder) validate(ctx context.Context, businessId string) error {
	if err := utils.ValidateResourceId[Customer](ctx, businessId, input.CustomerId); err != nil {
		return errors.New("customer not found")
	}
	if input.SalesPersonId > 0 {
		if err := utils.ValidateResourceId[SalesPerson](ctx, businessId, input.SalesPersonId); err != nil {
			return errors.New("sales person not found")
		}
	}
	if input.DiscountAmount.IsNegative() {
		return errors.New("discount amount cannot be negative")
	}
	return nil
}

func CreateSalesOrder(ctx context.Context, input *NewSalesOrder) (*SalesOrder, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := input.validate(ctx, businessId); err != nil {
		return nil, err
	}

	seqNo, err := utils.GetSequence[SalesOrder](ctx, businessId)
	if err != nil {
		return nil, err
	}

	order := SalesOrder{
		BusinessId:     businessId,
		CustomerId:     input.CustomerId,
		SalesPersonId:  input.SalesPersonId,
		OrderNumber:    fmt.Sprintf("SO-%06d", seqNo),
		SequenceNo:     seqNo,
		OrderDate:      input.OrderDate,
		DiscountAmount: input.DiscountAmount,
		CurrentStatus:  OrderStatusDraft,
		PaymentStatus:  PaymentStatusReady,
		OnHold:         utils.NewFalse(),
		IsLocked:       utils.NewFalse(),
		Notes:          input.Notes,
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&order).Error; err != nil {
			return err
		}
		return CreateOrderAudit(tx, AuditOrderCreated, order.ID, nil, order,
			fmt.Sprintf("Order %s created.", order.OrderNumber))
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func GetSalesOrder(ctx context.Context, id int) (*SalesOrder, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	order, err := utils.FetchModel[SalesOrder](ctx, businessId, id, "Items")
	if err != nil {
		return nil, utils.ErrOrderNotFound
	}
	return order, nil
}

func ListSalesOrders(ctx context.Context, limit int, after *string, status *OrderStatus, customerId int) (*SalesOrdersConnection, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if limit <= 0 {
		limit = config.SearchLimit
	}

	dbCtx := db.WithContext(ctx).Model(&SalesOrder{}).
		Preload("Items").
		Where("sales_orders.business_id = ?", businessId)
	if status != nil {
		dbCtx = dbCtx.Where("current_status = ?", *status)
	}
	if customerId > 0 {
		dbCtx = dbCtx.Where("customer_id = ?", customerId)
	}

	edges, pageInfo, err := FetchPageCompositeCursor[SalesOrder](dbCtx, limit, after, "created_at", "<")
	if err != nil {
		return nil, err
	}

	conn := SalesOrdersConnection{PageInfo: pageInfo}
	for i := range edges {
		edge := SalesOrdersEdge(edges[i])
		conn.Edges = append(conn.Edges, &edge)
	}
	return &conn, nil
}

// SumOrderPayments totals payments received for an order within the given
// transaction so status recomputation sees its own uncommitted writes.
func SumOrderPayments(tx *gorm.DB, orderId int) (decimal.Decimal, error) {
	var paid decimal.NullDecimal
	err := tx.Model(&OrderPayment{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("sales_order_id = ?", orderId).
		Scan(&paid).Error
	if err != nil {
		return decimal.Zero, err
	}
	return paid.Decimal, nil
}

// CountOrderItems reports whether the order has any lines, within the caller's
// transaction.
func CountOrderItems(tx *gorm.DB, orderId int) (int64, error) {
	var count int64
	err := tx.Model(&SalesOrderItem{}).
		Where("sales_order_id = ?", orderId).
		Count(&count).Error
	return count, err
}
