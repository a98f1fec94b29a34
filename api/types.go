package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"chitfund/models"
)

type CreateGroupRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	ChitValue   int64  `json:"chitValue"`
	Installment int64  `json:"installment"`
	MaxMembers  int    `json:"maxMembers"`
	MinMembers  int    `json:"minMembers"`
	Duration    int    `json:"duration"`
}

type EnrollRequest struct {
	CandidateID uuid.UUID `json:"candidateId" binding:"required"`
}

type ContributionRequest struct {
	Cycle  int   `json:"cycle"`
	Amount int64 `json:"amount"`
}

type ScheduleAuctionRequest struct {
	Cycle   int       `json:"cycle"`
	OpenAt  time.Time `json:"openAt" binding:"required"`
	CloseAt time.Time `json:"closeAt" binding:"required"`
}

type BidRequest struct {
	MemberID uuid.UUID `json:"memberId" binding:"required"`
	Amount   int64     `json:"amount"`
}

type Group struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	ChitValue    int64      `json:"chitValue"`
	Installment  int64      `json:"installment"`
	MaxMembers   int        `json:"maxMembers"`
	MinMembers   int        `json:"minMembers"`
	Duration     int        `json:"duration"`
	CurrentCycle int        `json:"currentCycle"`
	Status       string     `json:"status"`
	ActivatedAt  *time.Time `json:"activatedAt,omitempty"`
	EndedAt      *time.Time `json:"endedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

type Member struct {
	ID          uuid.UUID  `json:"id"`
	GroupID     uuid.UUID  `json:"groupId"`
	CandidateID uuid.UUID  `json:"candidateId"`
	Status      string     `json:"status"`
	HasWon      bool       `json:"hasWon"`
	JoinedAt    time.Time  `json:"joinedAt"`
	RemovedAt   *time.Time `json:"removedAt,omitempty"`
}

type Contribution struct {
	ID         uuid.UUID  `json:"id"`
	GroupID    uuid.UUID  `json:"groupId"`
	MemberID   uuid.UUID  `json:"memberId"`
	Cycle      int        `json:"cycle"`
	Amount     int64      `json:"amount"`
	Status     string     `json:"status"`
	RecordedAt time.Time  `json:"recordedAt"`
	SettledAt  *time.Time `json:"settledAt,omitempty"`
}

type Auction struct {
	ID             uuid.UUID  `json:"id"`
	GroupID        uuid.UUID  `json:"groupId"`
	Cycle          int        `json:"cycle"`
	Status         string     `json:"status"`
	OpenAt         time.Time  `json:"openAt"`
	CloseAt        time.Time  `json:"closeAt"`
	OpenedAt       *time.Time `json:"openedAt,omitempty"`
	ClosedAt       *time.Time `json:"closedAt,omitempty"`
	FinalizedAt    *time.Time `json:"finalizedAt,omitempty"`
	CancelledAt    *time.Time `json:"cancelledAt,omitempty"`
	WinningBidID   *uuid.UUID `json:"winningBidId,omitempty"`
	WinnerMemberID *uuid.UUID `json:"winnerMemberId,omitempty"`
}

type Bid struct {
	ID          uuid.UUID `json:"id"`
	AuctionID   uuid.UUID `json:"auctionId"`
	MemberID    uuid.UUID `json:"memberId"`
	Amount      int64     `json:"amount"`
	SubmittedAt time.Time `json:"submittedAt"`
	Seq         int64     `json:"seq"`
}

type DividendCredit struct {
	MemberID uuid.UUID `json:"memberId"`
	Amount   int64     `json:"amount"`
}

type Payout struct {
	ID                uuid.UUID        `json:"id"`
	GroupID           uuid.UUID        `json:"groupId"`
	Cycle             int              `json:"cycle"`
	AuctionID         uuid.UUID        `json:"auctionId"`
	WinnerMemberID    uuid.UUID        `json:"winnerMemberId"`
	ChitValue         int64            `json:"chitValue"`
	WinningBid        int64            `json:"winningBid"`
	Commission        int64            `json:"commission"`
	PayoutAmount      int64            `json:"payoutAmount"`
	PerMemberDividend int64            `json:"perMemberDividend"`
	RemainderMemberID *uuid.UUID       `json:"remainderMemberId,omitempty"`
	RemainderAmount   int64            `json:"remainderAmount"`
	Credits           []DividendCredit `json:"credits"`
	ComputedAt        time.Time        `json:"computedAt"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func toGroup(g models.Group) Group {
	return Group{
		ID:           g.ID,
		Name:         g.Name,
		Description:  g.Description,
		ChitValue:    g.ChitValue,
		Installment:  g.Installment,
		MaxMembers:   g.MaxMembers,
		MinMembers:   g.MinMembers,
		Duration:     g.Duration,
		CurrentCycle: g.CurrentCycle,
		Status:       string(g.Status),
		ActivatedAt:  g.ActivatedAt,
		EndedAt:      g.EndedAt,
		CreatedAt:    g.CreatedAt,
	}
}

func toMember(m models.Member) Member {
	return Member{
		ID:          m.ID,
		GroupID:     m.GroupID,
		CandidateID: m.CandidateID,
		Status:      string(m.Status),
		HasWon:      m.HasWon,
		JoinedAt:    m.JoinedAt,
		RemovedAt:   m.RemovedAt,
	}
}

func toContribution(c models.Contribution) Contribution {
	return Contribution{
		ID:         c.ID,
		GroupID:    c.GroupID,
		MemberID:   c.MemberID,
		Cycle:      c.Cycle,
		Amount:     c.Amount,
		Status:     string(c.Status),
		RecordedAt: c.RecordedAt,
		SettledAt:  c.SettledAt,
	}
}

func toAuction(a models.Auction) Auction {
	return Auction{
		ID:             a.ID,
		GroupID:        a.GroupID,
		Cycle:          a.Cycle,
		Status:         string(a.Status),
		OpenAt:         a.OpenAt,
		CloseAt:        a.CloseAt,
		OpenedAt:       a.OpenedAt,
		ClosedAt:       a.ClosedAt,
		FinalizedAt:    a.FinalizedAt,
		CancelledAt:    a.CancelledAt,
		WinningBidID:   a.WinningBidID,
		WinnerMemberID: a.WinnerMemberID,
	}
}

func toBid(b models.Bid) Bid {
	return Bid{
		ID:          b.ID,
		AuctionID:   b.AuctionID,
		MemberID:    b.MemberID,
		Amount:      b.Amount,
		SubmittedAt: b.SubmittedAt,
		Seq:         b.Seq,
	}
}

func toPayout(p models.PayoutRecord) Payout {
	return Payout{
		ID:                p.ID,
		GroupID:           p.GroupID,
		Cycle:             p.Cycle,
		AuctionID:         p.AuctionID,
		WinnerMemberID:    p.WinnerMemberID,
		ChitValue:         p.ChitValue,
		WinningBid:        p.WinningBid,
		Commission:        p.Commission,
		PayoutAmount:      p.PayoutAmount,
		PerMemberDividend: p.PerMemberDividend,
		RemainderMemberID: p.RemainderMemberID,
		RemainderAmount:   p.RemainderAmount,
		Credits: lo.Map(p.Credits, func(c models.DividendCredit, _ int) DividendCredit {
			return DividendCredit{MemberID: c.MemberID, Amount: c.Amount}
		}),
		ComputedAt: p.ComputedAt,
	}
}

// mapSlice converts a slice of models with fn.
func mapSlice[M, D any](items []M, fn func(M) D) []D {
	return lo.Map(items, func(item M, _ int) D { return fn(item) })
}
