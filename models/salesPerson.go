package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/salesdesk_backend/config"
	"github.com/mmdatafocus/salesdesk_backend/utils"
)

type SalesPerson struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"primary_key;autoIncrement:false;not null" json:"business_id" binding:"required"`
	Name       string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Email      string    `gorm:"size:100" json:"email"`
	IsActive   *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewSalesPerson struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email"`
}

// returns decoded cursor string
func (sp SalesPerson) GetCursor() string {
	return sp.Name
}

// validate input for both create & update. (id = 0 for create)
func (input *NewSalesPerson) validate(ctx context.Context, businessId string, id int) error {
	// name
	if err := utils.ValidateUnique[SalesPerson](ctx, businessId, "name", input.Name, id); err != nil {
		return err
	}
	// email
	if len(input.Email) > 0 {
		if err := utils.ValidateUnique[SalesPerson](ctx, businessId, "email", input.Email, id); err != nil {
			return err
		}
	}
	return nil
}

func CreateSalesPerson(ctx context.Context, input *NewSalesPerson) (*SalesPerson, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := input.validate(ctx, businessId, 0); err != nil {
		return nil, err
	}

	salesPerson := SalesPerson{
		Name:       input.Name,
		BusinessId: businessId,
		Email:      input.Email,
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Create(&salesPerson).Error
	if err != nil {
		return nil, err
	}
	return &salesPerson, nil
}

func GetSalesPerson(ctx context.Context, id int) (*SalesPerson, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[SalesPerson](ctx, businessId, id)
}

func ListSalesPersons(ctx context.Context) ([]*SalesPerson, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchAllModels[SalesPerson](ctx, businessId)
}
