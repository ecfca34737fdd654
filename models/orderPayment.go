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

type OrderPayment struct {
	ID              int             `gorm:"primary_key" json:"id"`
	BusinessId      string          `gorm:"index;not null" json:"business_id"`
	SalesOrderId    int             `gorm:"index;not null" json:"sales_order_id" binding:"required"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount" binding:"required"`
	PaymentMode     PaymentModeType `gorm:"type:enum('Cash','BankTransfer','MobileWallet','Cheque');not null;default:'Cash'" json:"payment_mode"`
	ReferenceNumber string          `gorm:"size:255" json:"reference_number"`
	PaidTo          string          `gorm:"size:100" json:"paid_to"`
	PaymentDateTime time.Time       `gorm:"not null" json:"payment_date_time"`
	// set when the income record has been queued for fan-out; the payment is
	// immutable from then on
	IncomeQueuedAt *time.Time `json:"income_queued_at"`
	CreatedBy      int        `gorm:"not null" json:"created_by"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewOrderPayment struct {
	Amount          decimal.Decimal `json:"amount" binding:"required"`
	PaymentMode     PaymentModeType `json:"payment_mode"`
	ReferenceNumber string          `json:"reference_number"`
	PaidTo          string          `json:"paid_to"`
	PaymentDateTime time.Time       `json:"payment_date_time"`
}

func (p *OrderPayment) BeforeUpdate(tx *gorm.DB) error {
	if p.IncomeQueuedAt != nil && config.StrictPaymentImmutability() {
		return utils.ErrPaymentImmutable
	}
	return nil
}

func (p *OrderPayment) BeforeDelete(tx *gorm.DB) error {
	if p.IncomeQueuedAt != nil && config.StrictPaymentImmutability() {
		return utils.ErrPaymentImmutable
	}
	return nil
}

func (input *NewOrderPayment) Validate() error {
	if input.Amount.LessThanOrEqual(decimal.Zero) {
		return errors.New("payment amount must be greater than zero")
	}
	if input.PaymentMode != "" && !input.PaymentMode.Valid() {
		return errors.New("invalid payment mode")
	}
	return nil
}

func GetOrderPayment(ctx context.Context, id int) (*OrderPayment, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[OrderPayment](ctx, businessId, id)
}

func ListOrderPayments(ctx context.Context, orderId int) ([]*OrderPayment, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	var payments []*OrderPayment
	err := db.WithContext(ctx).
		Where("business_id = ? AND sales_order_id = ?", businessId, orderId).
		Order("payment_date_time, id").
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}
