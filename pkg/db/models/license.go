package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/mdmvenezuela/mdm-backend/pkg/enums"
)

// License is a sellable activation right owned by a reseller.
type License struct {
	ID          uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	LicenseKey  string              `gorm:"column:license_key;not null;unique"`
	ResellerID  uuid.UUID           `gorm:"column:reseller_id;type:uuid;not null"`
	Status      enums.LicenseStatus `gorm:"column:status;type:license_status;not null"`
	DeviceIMEI  *string             `gorm:"column:device_imei"`
	ActivatedAt *time.Time          `gorm:"column:activated_at"`
	CreatedAt   time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
