package models

import (
	"time"

	"github.com/google/uuid"
)

// EnrollmentToken grants exactly one device registration against one license.
type EnrollmentToken struct {
	ID         uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	Token      string     `gorm:"column:token;not null;unique"`
	ResellerID uuid.UUID  `gorm:"column:reseller_id;type:uuid;not null"`
	LicenseID  uuid.UUID  `gorm:"column:license_id;type:uuid;not null"`
	ExpiresAt  time.Time  `gorm:"column:expires_at;not null"`
	IsUsed     bool       `gorm:"column:is_used;not null"`
	UsedAt     *time.Time `gorm:"column:used_at"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
}

// Usable reports whether the token can still be redeemed at now.
func (t EnrollmentToken) Usable(now time.Time) bool {
	return !t.IsUsed && now.Before(t.ExpiresAt)
}
