package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/mdmvenezuela/mdm-backend/pkg/enums"
)

// Device is one enrolled physical unit, keyed naturally by IMEI.
type Device struct {
	ID              uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	IMEI            string             `gorm:"column:imei;not null;unique"`
	ResellerID      uuid.UUID          `gorm:"column:reseller_id;type:uuid;not null"`
	LicenseID       *uuid.UUID         `gorm:"column:license_id;type:uuid"`
	Status          enums.DeviceStatus `gorm:"column:status;type:device_status;not null"`
	IsOnline        bool               `gorm:"column:is_online;not null"`
	LastConnection  *time.Time         `gorm:"column:last_connection"`
	LastLocationLat *float64           `gorm:"column:last_location_lat"`
	LastLocationLon *float64           `gorm:"column:last_location_lon"`
	BatteryLevel    *int               `gorm:"column:battery_level"`
	NetworkType     *string            `gorm:"column:network_type"`
	ClientName      *string            `gorm:"column:client_name"`
	ClientPhone     *string            `gorm:"column:client_phone"`
	EnrolledAt      time.Time          `gorm:"column:enrolled_at;not null"`
	CreatedAt       time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
