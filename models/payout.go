package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PayoutRecord is the settlement of one finalized auction.
// PayoutAmount + sum(Credits) + Commission always equals ChitValue.
type PayoutRecord struct {
	ID                uuid.UUID  `gorm:"type:uuid;primaryKey"`
	GroupID           uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_payout_group_cycle,priority:1"`
	Cycle             int        `gorm:"not null;uniqueIndex:idx_payout_group_cycle,priority:2"`
	AuctionID         uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex"`
	WinnerMemberID    uuid.UUID  `gorm:"type:uuid;not null;index"`
	ChitValue         int64      `gorm:"not null"`
	WinningBid        int64      `gorm:"not null"`
	Commission        int64      `gorm:"not null"`
	PayoutAmount      int64      `gorm:"not null"`
	PerMemberDividend int64      `gorm:"not null"`
	RecipientCount    int        `gorm:"not null"`
	RemainderMemberID *uuid.UUID `gorm:"type:uuid"`
	RemainderAmount   int64      `gorm:"not null"`
	ComputedAt        time.Time  `gorm:"not null"`
	CreatedAt         time.Time

	Credits []DividendCredit `gorm:"foreignKey:PayoutID"`
}

func (p *PayoutRecord) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = NewID()
	}
	return nil
}

// DividendTotal sums every dividend credit, remainder included.
func (p PayoutRecord) DividendTotal() int64 {
	var total int64
	for _, c := range p.Credits {
		total += c.Amount
	}
	return total
}

// Distributed is payout + dividends + commission; it must equal ChitValue.
func (p PayoutRecord) Distributed() int64 {
	return p.PayoutAmount + p.DividendTotal() + p.Commission
}

// DividendCredit is the share of the winning bid credited to one non-winning member.
type DividendCredit struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey"`
	PayoutID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_credit_payout_member,priority:1"`
	MemberID uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_credit_payout_member,priority:2"`
	GroupID  uuid.UUID `gorm:"type:uuid;not null"`
	Cycle    int       `gorm:"not null"`
	Amount   int64     `gorm:"not null"`
}

func (c *DividendCredit) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = NewID()
	}
	return nil
}
