package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MemberStatus string

const (
	MemberActive  MemberStatus = "active"
	MemberRemoved MemberStatus = "removed"
)

// Member is one enrollment of a person (CandidateID) in one group.
// A person enrolled in several groups has one Member per group.
type Member struct {
	ID          uuid.UUID    `gorm:"type:uuid;primaryKey"`
	GroupID     uuid.UUID    `gorm:"type:uuid;not null;index:idx_member_group_seq,priority:1;uniqueIndex:idx_member_active_candidate,priority:1,where:status = 'active'"`
	CandidateID uuid.UUID    `gorm:"type:uuid;not null;uniqueIndex:idx_member_active_candidate,priority:2,where:status = 'active'"`
	Seq         int64        `gorm:"not null;index:idx_member_group_seq,priority:2"`
	Status      MemberStatus `gorm:"type:varchar(16);not null"`
	HasWon      bool         `gorm:"not null"`
	JoinedAt    time.Time    `gorm:"not null"`
	RemovedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (m *Member) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = NewID()
	}
	return nil
}

// Eligible reports whether the member may still win an auction in its group.
func (m Member) Eligible() bool {
	return m.Status == MemberActive && !m.HasWon
}
