package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ContributionStatus string

const (
	ContributionPending ContributionStatus = "pending"
	ContributionSettled ContributionStatus = "settled"
)

// Contribution is a member's installment for one cycle.
// Only one settled contribution may exist per (member, cycle).
type Contribution struct {
	ID         uuid.UUID          `gorm:"type:uuid;primaryKey"`
	GroupID    uuid.UUID          `gorm:"type:uuid;not null;index:idx_contribution_group_cycle,priority:1"`
	MemberID   uuid.UUID          `gorm:"type:uuid;not null;index;uniqueIndex:idx_contribution_settled,priority:1,where:status = 'settled'"`
	Cycle      int                `gorm:"not null;index:idx_contribution_group_cycle,priority:2;uniqueIndex:idx_contribution_settled,priority:2,where:status = 'settled'"`
	Amount     int64              `gorm:"not null"`
	Status     ContributionStatus `gorm:"type:varchar(16);not null"`
	RecordedAt time.Time          `gorm:"not null"`
	SettledAt  *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (c *Contribution) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = NewID()
	}
	return nil
}
