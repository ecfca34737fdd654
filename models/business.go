package models

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/salesdesk_backend/config"
	"github.com/mmdatafocus/salesdesk_backend/utils"
	"gorm.io/gorm"
)

type Business struct {
	ID        uuid.UUID `gorm:"type:char(36);primary_key" json:"id"`
	Name      string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Email     string    `gorm:"size:100" json:"email"`
	Timezone  string    `gorm:"size:50;default:'Asia/Yangon'" json:"timezone"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewBusiness struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email"`
	Timezone string `json:"timezone"`
}

func (b *Business) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

/*
caches:
	Business:$id
*/

func (b Business) StoreRedis() error {
	return config.SetRedisObject("Business:"+b.ID.String(), b, utils.GetCacheLifespan())
}

func (b Business) RemoveInstanceRedis() error {
	return config.RemoveRedisKey("Business:" + b.ID.String())
}

func CreateBusiness(ctx context.Context, input *NewBusiness) (*Business, error) {
	db := config.GetDB()

	timezone := input.Timezone
	if timezone == "" {
		timezone = "Asia/Yangon"
	}

	business := Business{
		Name:     input.Name,
		Email:    input.Email,
		Timezone: timezone,
	}
	if err := db.WithContext(ctx).Create(&business).Error; err != nil {
		return nil, err
	}
	return &business, nil
}

func GetBusinessById(ctx context.Context, id string) (*Business, error) {

	var result Business

	exists, err := config.GetRedisObject("Business:"+id, &result)
	if err != nil {
		return nil, err
	}

	if !exists {
		db := config.GetDB()
		// db query
		err := db.WithContext(ctx).Where("id = ?", id).First(&result).Error
		if err != nil {
			return nil, utils.ErrorRecordNotFound
		}
		// caching
		if err := result.StoreRedis(); err != nil {
			return nil, err
		}
	}
	return &result, nil
}

func GetBusiness(ctx context.Context) (*Business, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.ErrorRecordNotFound
	}
	return GetBusinessById(ctx, businessId)
}
