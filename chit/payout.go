package chit

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"chitfund/models"
)

// PayoutCalculator splits a cycle's pot between the auction winner, the other members
// and the operator. It is pure: the same inputs always produce the same split.
type PayoutCalculator struct {
	CommissionRate decimal.Decimal
}

func NewPayoutCalculator(rate decimal.Decimal) (PayoutCalculator, error) {
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return PayoutCalculator{}, fmt.Errorf("commission rate %s must be in [0, 1): %w", rate, ErrInvalidArgument)
	}
	return PayoutCalculator{CommissionRate: rate}, nil
}

// Commission is floor(chitValue * rate).
func (c PayoutCalculator) Commission(chitValue int64) int64 {
	return decimal.NewFromInt(chitValue).Mul(c.CommissionRate).Floor().IntPart()
}

// Split is the amount breakdown of one payout, before it is assigned to members.
type Split struct {
	Commission        int64
	Payout            int64
	PerMemberDividend int64
	Remainder         int64
}

// Split computes the breakdown for n recipients, the winner included.
func (c PayoutCalculator) Split(chitValue, winningBid int64, n int) (Split, error) {
	if n < 2 {
		return Split{}, fmt.Errorf("%d recipients: %w", n, ErrInsufficientPool)
	}
	if winningBid <= 0 || winningBid >= chitValue {
		return Split{}, fmt.Errorf("bid %d for chit value %d: %w", winningBid, chitValue, ErrBidOutOfRange)
	}
	commission := c.Commission(chitValue)
	payout := chitValue - winningBid - commission
	if payout < 0 {
		return Split{}, fmt.Errorf("bid %d leaves a negative payout after commission %d: %w", winningBid, commission, ErrBidOutOfRange)
	}
	others := int64(n - 1)
	return Split{
		Commission:        commission,
		Payout:            payout,
		PerMemberDividend: winningBid / others,
		Remainder:         winningBid % others,
	}, nil
}

// MaxBid is the largest bid that keeps the payout non-negative.
func (c PayoutCalculator) MaxBid(chitValue int64) int64 {
	return min(chitValue-1, chitValue-c.Commission(chitValue))
}

// Compute builds the PayoutRecord for a finalized auction. recipients are every member
// taking part in the cycle's dividend, winner included. The integer remainder of the
// dividend goes to the non-winning recipient with the smallest member id.
func (c PayoutCalculator) Compute(chitValue, winningBid int64, winner uuid.UUID, recipients []uuid.UUID, computedAt time.Time) (*models.PayoutRecord, error) {
	const op = "Compute"

	recipients = lo.Uniq(recipients)
	if !lo.Contains(recipients, winner) {
		return nil, fmt.Errorf("%s: winner %s is not a recipient: %w", op, winner, ErrInvalidArgument)
	}
	split, err := c.Split(chitValue, winningBid, len(recipients))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	others := lo.Filter(recipients, func(id uuid.UUID, _ int) bool {
		return id != winner
	})
	remainderTo := lo.MinBy(others, func(a, b uuid.UUID) bool {
		return bytes.Compare(a[:], b[:]) < 0
	})

	record := &models.PayoutRecord{
		ChitValue:         chitValue,
		WinnerMemberID:    winner,
		WinningBid:        winningBid,
		Commission:        split.Commission,
		PayoutAmount:      split.Payout,
		PerMemberDividend: split.PerMemberDividend,
		RecipientCount:    len(recipients),
		RemainderAmount:   split.Remainder,
		ComputedAt:        computedAt,
	}
	if split.Remainder > 0 {
		record.RemainderMemberID = &remainderTo
	}
	record.Credits = lo.Map(others, func(id uuid.UUID, _ int) models.DividendCredit {
		amount := split.PerMemberDividend
		if id == remainderTo {
			amount += split.Remainder
		}
		return models.DividendCredit{MemberID: id, Amount: amount}
	})

	if got := record.Distributed(); got != chitValue {
		return nil, fmt.Errorf("%s: distributed %d of chit value %d", op, got, chitValue)
	}
	return record, nil
}
