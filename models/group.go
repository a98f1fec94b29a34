package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type GroupStatus string

const (
	GroupPending   GroupStatus = "pending"
	GroupActive    GroupStatus = "active"
	GroupCompleted GroupStatus = "completed"
	GroupClosed    GroupStatus = "closed"
	GroupCancelled GroupStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s GroupStatus) Terminal() bool {
	return s == GroupCompleted || s == GroupClosed || s == GroupCancelled
}

// Group represents one chit fund: a fixed pot paid out to one member per cycle.
// All amounts are minor currency units.
type Group struct {
	ID           uuid.UUID   `gorm:"type:uuid;primaryKey"`
	Name         string      `gorm:"type:varchar(255);not null"`
	Description  string      `gorm:"type:text;not null"`
	ChitValue    int64       `gorm:"not null"`
	Installment  int64       `gorm:"not null"`
	MaxMembers   int         `gorm:"not null"`
	MinMembers   int         `gorm:"not null"`
	Duration     int         `gorm:"not null"`
	CurrentCycle int         `gorm:"not null"`
	Status       GroupStatus `gorm:"type:varchar(16);not null;index"`
	MemberSeq    int64       `gorm:"not null"`
	Version      int64       `gorm:"not null"`
	ActivatedAt  *time.Time
	EndedAt      *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time

	Members  []Member
	Auctions []Auction
}

func (g *Group) BeforeCreate(tx *gorm.DB) error {
	if g.ID == uuid.Nil {
		g.ID = NewID()
	}
	return nil
}
