package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Bid is the discount a member is willing to forgo from the pot.
// A member holds at most one bid per auction; a revision overwrites Amount, SubmittedAt and Seq.
type Bid struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	AuctionID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_bid_auction_member,priority:1"`
	MemberID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_bid_auction_member,priority:2"`
	Amount      int64     `gorm:"not null"`
	SubmittedAt time.Time `gorm:"not null"`
	Seq         int64     `gorm:"not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (b *Bid) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = NewID()
	}
	return nil
}

// Outranks reports whether b beats other under the reverse auction rule:
// higher amount first, then earlier submission, then lower sequence.
func (b Bid) Outranks(other Bid) bool {
	if b.Amount != other.Amount {
		return b.Amount > other.Amount
	}
	if !b.SubmittedAt.Equal(other.SubmittedAt) {
		return b.SubmittedAt.Before(other.SubmittedAt)
	}
	return b.Seq < other.Seq
}
