package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditRecord is an append-only trace of one successful state transition.
type AuditRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Operation  string    `gorm:"type:varchar(64);not null"`
	Actor      string    `gorm:"type:varchar(255);not null"`
	GroupID    uuid.UUID `gorm:"type:uuid;not null;index"`
	EntityType string    `gorm:"type:varchar(32);not null"`
	EntityID   uuid.UUID `gorm:"type:uuid;not null"`
	Before     string    `gorm:"type:varchar(32);not null"`
	After      string    `gorm:"type:varchar(32);not null"`
	OccurredAt time.Time `gorm:"not null"`
	CreatedAt  time.Time
}

func (r *AuditRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = NewID()
	}
	return nil
}
