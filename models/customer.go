package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/salesdesk_backend/config"
	"github.com/mmdatafocus/salesdesk_backend/utils"
)

type Customer struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index;not null" json:"business_id" binding:"required"`
	Name       string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Email      string    `gorm:"size:100" json:"email"`
	Phone      string    `gorm:"size:20" json:"phone"`
	Mobile     string    `gorm:"size:20" json:"mobile"`
	Notes      string    `gorm:"type:text" json:"notes"`
	IsActive   *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCustomer struct {
	Name   string `json:"name" binding:"required"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
	Mobile string `json:"mobile"`
	Notes  string `json:"notes"`
}

type CustomersEdge Edge[Customer]
type CustomersConnection struct {
	Edges    []*CustomersEdge `json:"edges"`
	PageInfo *PageInfo        `json:"pageInfo"`
}

// returns decoded cursor string
func (c Customer) GetCursor() string {
	return c.CreatedAt.String()
}

func (c Customer) GetId() int {
	return c.ID
}

func (input *NewCustomer) validate(ctx context.Context, businessId string, id int) error {
	if id > 0 {
		if err := utils.ValidateResourceId[Customer](ctx, businessId, id); err != nil {
			return err
		}
	}
	// validate unique name
	if err := utils.ValidateUnique[Customer](ctx, businessId, "name", input.Name, id); err != nil {
		return err
	}
	// validate phone
	if input.Phone != "" {
		if err := utils.ValidatePhoneNumber(input.Phone, "MM"); err != nil {
			return err
		}
	}
	return nil
}

func CreateCustomer(ctx context.Context, input *NewCustomer) (*Customer, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.ErrorRecordNotFound
	}

	if err := input.validate(ctx, businessId, 0); err != nil {
		return nil, err
	}

	customer := Customer{
		BusinessId: businessId,
		Name:       input.Name,
		Email:      input.Email,
		Phone:      input.Phone,
		Mobile:     input.Mobile,
		Notes:      input.Notes,
		IsActive:   utils.NewTrue(),
	}
	if err := db.WithContext(ctx).Create(&customer).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}

func UpdateCustomer(ctx context.Context, id int, input *NewCustomer) (*Customer, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.ErrorRecordNotFound
	}

	if err := input.validate(ctx, businessId, id); err != nil {
		return nil, err
	}

	customer, err := utils.FetchModel[Customer](ctx, businessId, id)
	if err != nil {
		return nil, err
	}

	customer.Name = input.Name
	customer.Email = input.Email
	customer.Phone = input.Phone
	customer.Mobile = input.Mobile
	customer.Notes = input.Notes

	if err := db.WithContext(ctx).Save(customer).Error; err != nil {
		return nil, err
	}
	return customer, nil
}

func GetCustomer(ctx context.Context, id int) (*Customer, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.ErrorRecordNotFound
	}
	return utils.FetchModel[Customer](ctx, businessId, id)
}

func ListCustomers(ctx context.Context, limit int, after *string, name string) (*CustomersConnection, error) {
	db := config.GetDB()

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.ErrorRecordNotFound
	}
	if limit <= 0 {
		limit = config.SearchLimit
	}

	dbCtx := db.WithContext(ctx).Model(&Customer{}).Where("business_id = ?", businessId)
	if name != "" {
		dbCtx = dbCtx.Where("name LIKE ?", "%"+name+"%")
	}

	edges, pageInfo, err := FetchPagePureCursor[Customer](dbCtx, limit, after, "created_at", ">")
	if err != nil {
		return nil, err
	}

	conn := CustomersConnection{PageInfo: pageInfo}
	for i := range edges {
		edge := CustomersEdge(edges[i])
		conn.Edges = append(conn.Edges, &edge)
	}
	return &conn, nil
}
