package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NewID returns a time-ordered identifier so that ordering by (created_at, id)
// preserves insertion order even when timestamps collide.
func NewID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}

func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = NewID()
	}
}

func (m *Operator) BeforeCreate(*gorm.DB) error        { ensureID(&m.ID); return nil }
func (m *Reseller) BeforeCreate(*gorm.DB) error        { ensureID(&m.ID); return nil }
func (m *License) BeforeCreate(*gorm.DB) error         { ensureID(&m.ID); return nil }
func (m *Device) BeforeCreate(*gorm.DB) error          { ensureID(&m.ID); return nil }
func (m *EnrollmentToken) BeforeCreate(*gorm.DB) error { ensureID(&m.ID); return nil }
func (m *PendingCommand) BeforeCreate(*gorm.DB) error  { ensureID(&m.ID); return nil }
func (m *LocationRecord) BeforeCreate(*gorm.DB) error  { ensureID(&m.ID); return nil }
func (m *OutboxEvent) BeforeCreate(*gorm.DB) error     { ensureID(&m.ID); return nil }
func (m *OutboxDLQ) BeforeCreate(*gorm.DB) error       { ensureID(&m.ID); return nil }
