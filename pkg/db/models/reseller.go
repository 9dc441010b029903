package models

import (
	"time"

	"github.com/google/uuid"
)

// Reseller owns licenses, devices and enrollment tokens.
type Reseller struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	BusinessName  string    `gorm:"column:business_name;not null"`
	Username      string    `gorm:"column:username;not null;unique"`
	Email         string    `gorm:"column:email;not null;unique"`
	PasswordHash  string    `gorm:"column:password_hash;not null"`
	Phone         *string   `gorm:"column:phone"`
	TotalLicenses int       `gorm:"column:total_licenses;not null"`
	IsActive      bool      `gorm:"column:is_active;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
