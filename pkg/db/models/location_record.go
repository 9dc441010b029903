package models

import (
	"time"

	"github.com/google/uuid"
)

// LocationRecord is an immutable telemetry sample.
type LocationRecord struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	DeviceID     uuid.UUID `gorm:"column:device_id;type:uuid;not null"`
	Latitude     float64   `gorm:"column:latitude;not null"`
	Longitude    float64   `gorm:"column:longitude;not null"`
	BatteryLevel *int      `gorm:"column:battery_level"`
	NetworkType  *string   `gorm:"column:network_type"`
	RecordedAt   time.Time `gorm:"column:recorded_at;not null"`
}

func (LocationRecord) TableName() string { return "location_history" }
