package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AuctionStatus string

const (
	AuctionScheduled AuctionStatus = "scheduled"
	AuctionOpen      AuctionStatus = "open"
	AuctionClosed    AuctionStatus = "closed"
	AuctionFinalized AuctionStatus = "finalized"
	AuctionCancelled AuctionStatus = "cancelled"
)

// Auction is the reverse auction run for one (group, cycle).
// WinningBidID is set when the auction closes, WinnerMemberID once it is finalized.
type Auction struct {
	ID             uuid.UUID     `gorm:"type:uuid;primaryKey"`
	GroupID        uuid.UUID     `gorm:"type:uuid;not null;uniqueIndex:idx_auction_live,priority:1,where:status <> 'cancelled'"`
	Cycle          int           `gorm:"not null;uniqueIndex:idx_auction_live,priority:2,where:status <> 'cancelled'"`
	Status         AuctionStatus `gorm:"type:varchar(16);not null"`
	OpenAt         time.Time     `gorm:"not null"`
	CloseAt        time.Time     `gorm:"not null"`
	OpenedAt       *time.Time
	ClosedAt       *time.Time
	FinalizedAt    *time.Time
	CancelledAt    *time.Time
	WinningBidID   *uuid.UUID `gorm:"type:uuid"`
	WinnerMemberID *uuid.UUID `gorm:"type:uuid"`
	BidSeq         int64      `gorm:"not null"`
	Version        int64      `gorm:"not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time

	Bids []Bid
}

func (a *Auction) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = NewID()
	}
	return nil
}

// Live reports whether the auction still blocks another auction for its cycle.
func (a Auction) Live() bool {
	return a.Status == AuctionScheduled || a.Status == AuctionOpen
}
