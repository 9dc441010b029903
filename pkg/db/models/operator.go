package models

import (
	"time"

	"github.com/google/uuid"
)

// Operator is a platform super admin.
type Operator struct {
	ID           uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	Username     string     `gorm:"column:username;not null;unique"`
	Email        string     `gorm:"column:email;not null;unique"`
	PasswordHash string     `gorm:"column:password_hash;not null"`
	LastLoginAt  *time.Time `gorm:"column:last_login_at"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (Operator) TableName() string { return "super_admins" }
