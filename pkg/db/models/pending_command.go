package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/mdmvenezuela/mdm-backend/pkg/enums"
)

// PendingCommand is an administrator instruction queued for pull delivery.
type PendingCommand struct {
	ID          uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	DeviceID    uuid.UUID           `gorm:"column:device_id;type:uuid;not null"`
	CommandType enums.CommandType   `gorm:"column:command_type;type:command_type;not null"`
	CommandData datatypes.JSON      `gorm:"column:command_data"`
	Status      enums.CommandStatus `gorm:"column:status;type:command_status;not null"`
	CreatedAt   time.Time           `gorm:"column:created_at;autoCreateTime"`
	SentAt      *time.Time          `gorm:"column:sent_at"`
}
