package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/mdmvenezuela/mdm-backend/pkg/enums"
)

// OutboxEvent is a device event committed alongside the state change that
// caused it. PublishedAt stays nil until the relay hands it to Pub/Sub.
type OutboxEvent struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID `gorm:"type:uuid"`
	Payload       json.RawMessage
	CreatedAt     time.Time
	PublishedAt   *time.Time
	AttemptCount  int
	LastError     *string
}

// OutboxDLQ holds one parked event per EventID.
type OutboxDLQ struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	EventID       uuid.UUID `gorm:"type:uuid"`
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID       `gorm:"type:uuid"`
	Payload       json.RawMessage `gorm:"column:payload_json"`
	ErrorReason   enums.OutboxDLQErrorReason
	ErrorMessage  *string
	AttemptCount  int
	FailedAt      time.Time
	CreatedAt     time.Time
}

func (OutboxDLQ) TableName() string { return "outbox_dlq" }
