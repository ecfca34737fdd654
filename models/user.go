package models

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/mmdatafocus/salesdesk_backend/config"
	"github.com/mmdatafocus/salesdesk_backend/utils"
)

type User struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index" json:"business_id"`
	Username   string    `gorm:"size:100;not null;unique" json:"username" binding:"required"`
	Name       string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Email      *string   `gorm:"size:100;unique" json:"email"`
	Phone      string    `gorm:"size:20" json:"phone"`
	Password   string    `gorm:"size:255;not null" json:"-"`
	IsActive   *bool     `gorm:"not null" json:"is_active"`
	Role       UserRole  `gorm:"type:enum('A', 'O', 'C');default:C" json:"role"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewUser struct {
	BusinessId string   `json:"business_id"`
	Username   string   `json:"username" binding:"required"`
	Name       string   `json:"name" binding:"required"`
	Email      string   `json:"email"`
	Phone      string   `json:"phone"`
	Password   string   `json:"password" binding:"required"`
	Role       UserRole `json:"role"`
}

/*
caches:
	User:$id
	UserName:$businessId:$userId
*/

func (user User) RemoveInstanceRedis() error {
	return utils.RemoveRedisItem[User](user.ID)
}

func CreateUser(ctx context.Context, input *NewUser) (*User, error) {
	db := config.GetDB()

	if input.Email != "" && !utils.IsValidEmail(input.Email) {
		return nil, errors.New("invalid email")
	}
	if input.Phone != "" {
		if err := utils.ValidatePhoneNumber(input.Phone, "MM"); err != nil {
			return nil, err
		}
	}

	hashed, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	role := input.Role
	if !(role == UserRoleAdmin || role == UserRoleOwner || role == UserRoleClerk) {
		role = UserRoleClerk
	}

	user := User{
		BusinessId: input.BusinessId,
		Username:   input.Username,
		Name:       input.Name,
		Email:      utils.NilIfEmpty(input.Email),
		Phone:      input.Phone,
		Password:   string(hashed),
		IsActive:   utils.NewTrue(),
		Role:       role,
	}
	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func GetUserByUsername(ctx context.Context, username string) (*User, error) {
	db := config.GetDB()
	var user User
	if err := db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &user, nil
}

// GetUserDisplayName resolves a user id to a display name for audit reads.
// Unresolvable performers (system workers, deleted users) come back as "System".
func GetUserDisplayName(ctx context.Context, businessId string, userId int) string {
	if userId <= 0 {
		return "System"
	}

	cacheKey := "UserName:" + businessId + ":" + strconv.Itoa(userId)
	if name, found, err := config.GetRedisValue(cacheKey); err == nil && found && name != "" {
		return name
	}

	db := config.GetDB()
	var name string
	if err := db.WithContext(ctx).Model(&User{}).
		Where("id = ?", userId).
		Select("name").Scan(&name).Error; err != nil || name == "" {
		return "System"
	}
	_ = config.SetRedisValue(cacheKey, name, utils.GetCacheLifespan())
	return name
}
