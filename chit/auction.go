package chit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"gorm.io/gorm"

	"chitfund/models"
)

// ScheduleAuction creates the auction for the group's current cycle.
func (e *Engine) ScheduleAuction(ctx context.Context, groupID uuid.UUID, cycle int, openAt, closeAt time.Time) (*models.Auction, error) {
	const op = "ScheduleAuction"

	if !openAt.Before(closeAt) {
		return nil, fmt.Errorf("%s: open time %s must precede close time %s: %w", op, openAt, closeAt, ErrInvalidArgument)
	}

	var auction *models.Auction
	err := e.transition(ctx, op, groupID, func(t *txn) error {
		group, err := loadGroup(t.tx, groupID)
		if err != nil {
			return err
		}
		if group.Status != models.GroupActive || cycle != group.CurrentCycle {
			return fmt.Errorf("cycle %d, group %s at cycle %d: %w", cycle, group.Status, group.CurrentCycle, ErrCycleNotActive)
		}

		var existing int64
		err = t.tx.Model(&models.Auction{}).
			Where("group_id = ? AND cycle = ? AND status <> ?", groupID, cycle, models.AuctionCancelled).
			Count(&existing).Error
		if err != nil {
			return fmt.Errorf("count auctions: %w", err)
		}
		if existing > 0 {
			return fmt.Errorf("cycle %d: %w", cycle, ErrDuplicateAuction)
		}

		active, err := countActiveMembers(t.tx, groupID)
		if err != nil {
			return err
		}
		if active < 2 {
			return fmt.Errorf("%d active members: %w", active, ErrInsufficientPool)
		}

		auction = &models.Auction{
			GroupID: groupID,
			Cycle:   cycle,
			Status:  models.AuctionScheduled,
			OpenAt:  openAt.UTC().Truncate(time.Microsecond),
			CloseAt: closeAt.UTC().Truncate(time.Microsecond),
		}
		if err := t.tx.Create(auction).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("cycle %d: %w", cycle, ErrDuplicateAuction)
			}
			return fmt.Errorf("create auction: %w", err)
		}

		t.audit(op, groupID, "auction", auction.ID, "", string(models.AuctionScheduled))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return auction, nil
}

// OpenAuction starts accepting bids. It is rejected before the scheduled open time.
func (e *Engine) OpenAuction(ctx context.Context, auctionID uuid.UUID) (*models.Auction, error) {
	const op = "OpenAuction"

	return e.auctionTransition(ctx, op, auctionID, func(t *txn, auction *models.Auction) error {
		if auction.Status != models.AuctionScheduled {
			return fmt.Errorf("auction is %s: %w", auction.Status, ErrInvalidTransition)
		}
		if t.now.Before(auction.OpenAt) {
			return fmt.Errorf("opens at %s: %w", auction.OpenAt, ErrInvalidTransition)
		}

		auction.Status = models.AuctionOpen
		auction.OpenedAt = lo.ToPtr(t.now)
		if err := saveAuction(t.tx, auction); err != nil {
			return err
		}

		t.emit(Event{Type: EventAuctionOpened, GroupID: auction.GroupID, Cycle: auction.Cycle, AuctionID: auction.ID})
		t.audit(op, auction.GroupID, "auction", auction.ID, string(models.AuctionScheduled), string(models.AuctionOpen))
		return nil
	})
}

// SubmitBid records or revises a member's bid. A revision replaces the amount and takes
// a new submission time and sequence.
func (e *Engine) SubmitBid(ctx context.Context, auctionID, memberID uuid.UUID, amount int64) (*models.Bid, error) {
	const op = "SubmitBid"

	var bid *models.Bid
	_, err := e.auctionTransition(ctx, op, auctionID, func(t *txn, auction *models.Auction) error {
		if auction.Status != models.AuctionOpen {
			return fmt.Errorf("auction is %s: %w", auction.Status, ErrAuctionNotOpen)
		}
		if !t.now.Before(auction.CloseAt) {
			return fmt.Errorf("closed at %s: %w", auction.CloseAt, ErrAuctionNotOpen)
		}

		eligible, err := eligibleBidders(t.tx, auction.GroupID, auction.Cycle)
		if err != nil {
			return err
		}
		if !lo.ContainsBy(eligible, func(m models.Member) bool { return m.ID == memberID }) {
			return fmt.Errorf("member %s: %w", memberID, ErrNotEligible)
		}

		group, err := loadGroup(t.tx, auction.GroupID)
		if err != nil {
			return err
		}
		if amount <= 0 || amount > e.calculator.MaxBid(group.ChitValue) {
			return fmt.Errorf("bid %d outside 1..%d: %w", amount, e.calculator.MaxBid(group.ChitValue), ErrBidOutOfRange)
		}

		auction.BidSeq++
		var existing models.Bid
		err = t.tx.Where("auction_id = ? AND member_id = ?", auction.ID, memberID).First(&existing).Error
		switch {
		case err == nil:
			existing.Amount = amount
			existing.SubmittedAt = t.now
			existing.Seq = auction.BidSeq
			if err := t.tx.Model(&existing).Select("Amount", "SubmittedAt", "Seq").Updates(&existing).Error; err != nil {
				return fmt.Errorf("revise bid: %w", err)
			}
			bid = &existing
		case errors.Is(err, gorm.ErrRecordNotFound):
			bid = &models.Bid{
				AuctionID:   auction.ID,
				MemberID:    memberID,
				Amount:      amount,
				SubmittedAt: t.now,
				Seq:         auction.BidSeq,
			}
			if err := t.tx.Create(bid).Error; err != nil {
				return translate(err, "bid")
			}
		default:
			return fmt.Errorf("load bid: %w", err)
		}
		if err := saveAuction(t.tx, auction); err != nil {
			return err
		}

		t.emit(Event{
			Type:      EventBidSubmitted,
			GroupID:   auction.GroupID,
			Cycle:     auction.Cycle,
			AuctionID: auction.ID,
			MemberID:  memberID,
			Amount:    amount,
			Seq:       bid.Seq,
		})
		t.audit(op, auction.GroupID, "bid", bid.ID, "", fmt.Sprint(amount))
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.metrics.bids.Inc()
	return bid, nil
}

// WinnerSelection is the provisional result of a closed auction.
type WinnerSelection struct {
	AuctionID   uuid.UUID `json:"auctionId"`
	BidID       uuid.UUID `json:"bidId"`
	MemberID    uuid.UUID `json:"memberId"`
	Amount      int64     `json:"amount"`
	SubmittedAt time.Time `json:"submittedAt"`
	BidCount    int       `json:"bidCount"`
}

// CloseAuction stops bidding and selects the winner: highest amount, then earliest
// submission, then lowest sequence. With no bids the auction stays open and an
// auction.no_bids event is published for the operator.
func (e *Engine) CloseAuction(ctx context.Context, auctionID uuid.UUID) (*WinnerSelection, error) {
	const op = "CloseAuction"

	var (
		selection *WinnerSelection
		noBids    *Event
	)
	_, err := e.auctionTransition(ctx, op, auctionID, func(t *txn, auction *models.Auction) error {
		if auction.Status != models.AuctionOpen {
			return fmt.Errorf("auction is %s: %w", auction.Status, ErrInvalidTransition)
		}
		if t.now.Before(auction.CloseAt) {
			return fmt.Errorf("closes at %s: %w", auction.CloseAt, ErrInvalidTransition)
		}

		funded, err := isFullyFunded(t.tx, auction.GroupID, auction.Cycle)
		if err != nil {
			return err
		}
		if !funded {
			return fmt.Errorf("cycle %d: %w", auction.Cycle, ErrCycleNotFullyFunded)
		}

		var bids []models.Bid
		if err := t.tx.Where("auction_id = ?", auction.ID).Order("seq").Find(&bids).Error; err != nil {
			return fmt.Errorf("load bids: %w", err)
		}
		if len(bids) == 0 {
			noBids = &Event{Type: EventAuctionNoBids, GroupID: auction.GroupID, Cycle: auction.Cycle, AuctionID: auction.ID, OccurredAt: t.now}
			return fmt.Errorf("cycle %d: %w", auction.Cycle, ErrNoBids)
		}

		winner := lo.MaxBy(bids, func(a, b models.Bid) bool {
			return a.Outranks(b)
		})
		auction.Status = models.AuctionClosed
		auction.ClosedAt = lo.ToPtr(t.now)
		auction.WinningBidID = lo.ToPtr(winner.ID)
		if err := saveAuction(t.tx, auction); err != nil {
			return err
		}

		selection = &WinnerSelection{
			AuctionID:   auction.ID,
			BidID:       winner.ID,
			MemberID:    winner.MemberID,
			Amount:      winner.Amount,
			SubmittedAt: winner.SubmittedAt,
			BidCount:    len(bids),
		}
		t.emit(Event{
			Type:      EventAuctionClosed,
			GroupID:   auction.GroupID,
			Cycle:     auction.Cycle,
			AuctionID: auction.ID,
			MemberID:  winner.MemberID,
			Amount:    winner.Amount,
			Seq:       winner.Seq,
		})
		t.audit(op, auction.GroupID, "auction", auction.ID, string(models.AuctionOpen), string(models.AuctionClosed))
		return nil
	})
	if noBids != nil && errors.Is(err, ErrNoBids) {
		e.logger.Warn("Auction closed without bids", slog.String("auctionID", auctionID.String()), slog.Int("cycle", noBids.Cycle))
		e.notify(context.WithoutCancel(ctx), *noBids)
	}
	if err != nil {
		return nil, err
	}
	return selection, nil
}

// FinalizeAuction computes and applies the payout of a closed auction. Calling it again
// returns the stored record along with ErrAlreadyFinalized.
func (e *Engine) FinalizeAuction(ctx context.Context, auctionID uuid.UUID) (*models.PayoutRecord, error) {
	const op = "FinalizeAuction"

	var record *models.PayoutRecord
	_, err := e.auctionTransition(ctx, op, auctionID, func(t *txn, auction *models.Auction) error {
		if auction.Status == models.AuctionFinalized {
			stored, err := loadPayout(t.tx.Where("auction_id = ?", auction.ID))
			if err != nil {
				return err
			}
			record = stored
			return fmt.Errorf("auction %s: %w", auction.ID, ErrAlreadyFinalized)
		}
		if auction.Status != models.AuctionClosed || auction.WinningBidID == nil {
			return fmt.Errorf("auction is %s: %w", auction.Status, ErrInvalidTransition)
		}

		var winning models.Bid
		if err := t.tx.First(&winning, "id = ?", *auction.WinningBidID).Error; err != nil {
			return translate(err, "winning bid")
		}
		group, err := loadGroup(t.tx, auction.GroupID)
		if err != nil {
			return err
		}
		recipients, err := fundedMembers(t.tx, auction.GroupID, auction.Cycle)
		if err != nil {
			return err
		}
		winner, ok := lo.Find(recipients, func(m models.Member) bool { return m.ID == winning.MemberID })
		if !ok || !winner.Eligible() {
			return fmt.Errorf("winner %s: %w", winning.MemberID, ErrNotEligible)
		}

		computed, err := e.calculator.Compute(group.ChitValue, winning.Amount, winner.ID, lo.Map(recipients, func(m models.Member, _ int) uuid.UUID {
			return m.ID
		}), t.now)
		if err != nil {
			return err
		}
		computed.GroupID = auction.GroupID
		computed.Cycle = auction.Cycle
		computed.AuctionID = auction.ID
		if _, err := applyPayout(t.tx, computed); err != nil {
			return err
		}

		auction.Status = models.AuctionFinalized
		auction.FinalizedAt = lo.ToPtr(t.now)
		auction.WinnerMemberID = lo.ToPtr(winner.ID)
		if err := saveAuction(t.tx, auction); err != nil {
			return err
		}

		// Reloaded so the first call returns exactly what later calls will read back.
		record, err = loadPayout(t.tx.Where("auction_id = ?", auction.ID))
		if err != nil {
			return err
		}

		t.emit(Event{
			Type:       EventPayoutFinalized,
			GroupID:    auction.GroupID,
			Cycle:      auction.Cycle,
			AuctionID:  auction.ID,
			MemberID:   winner.ID,
			Amount:     record.PayoutAmount,
			Commission: record.Commission,
			Dividend:   record.PerMemberDividend,
		})
		t.audit(op, auction.GroupID, "auction", auction.ID, string(models.AuctionClosed), string(models.AuctionFinalized))
		t.audit(op, auction.GroupID, "payout", record.ID, "", "applied")
		return nil
	})
	if errors.Is(err, ErrAlreadyFinalized) {
		return record, err
	}
	if err != nil {
		return nil, err
	}

	e.metrics.payouts.Inc()
	e.metrics.payoutVolume.Add(float64(record.PayoutAmount))
	e.metrics.commissionSum.Add(float64(record.Commission))
	return record, nil
}

// CancelAuction withdraws a scheduled or open auction; the cycle may be rescheduled.
func (e *Engine) CancelAuction(ctx context.Context, auctionID uuid.UUID) (*models.Auction, error) {
	const op = "CancelAuction"

	return e.auctionTransition(ctx, op, auctionID, func(t *txn, auction *models.Auction) error {
		return cancelAuction(t, op, auction)
	})
}

func cancelAuction(t *txn, op string, auction *models.Auction) error {
	if !auction.Live() {
		return fmt.Errorf("auction is %s: %w", auction.Status, ErrInvalidTransition)
	}
	before := auction.Status
	auction.Status = models.AuctionCancelled
	auction.CancelledAt = lo.ToPtr(t.now)
	if err := saveAuction(t.tx, auction); err != nil {
		return err
	}

	t.emit(Event{Type: EventAuctionCancelled, GroupID: auction.GroupID, Cycle: auction.Cycle, AuctionID: auction.ID})
	t.audit(op, auction.GroupID, "auction", auction.ID, string(before), string(models.AuctionCancelled))
	return nil
}

// auctionTransition runs fn on the freshly loaded auction under its group's lock.
func (e *Engine) auctionTransition(ctx context.Context, op string, auctionID uuid.UUID, fn func(t *txn, auction *models.Auction) error) (*models.Auction, error) {
	groupID, err := e.groupOf(ctx, &models.Auction{}, auctionID, "auction")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var auction *models.Auction
	err = e.transition(ctx, op, groupID, func(t *txn) error {
		loaded, err := loadAuction(t.tx, auctionID)
		if err != nil {
			return err
		}
		auction = loaded
		return fn(t, auction)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return auction, nil
}

func (e *Engine) GetAuction(ctx context.Context, auctionID uuid.UUID) (*models.Auction, error) {
	auction, err := loadAuction(e.db.WithContext(ctx), auctionID)
	if err != nil {
		return nil, fmt.Errorf("GetAuction: %w", err)
	}
	return auction, nil
}

// ListBids returns the auction's bids in submission order.
func (e *Engine) ListBids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error) {
	const op = "ListBids"

	tx := e.db.WithContext(ctx)
	if _, err := loadAuction(tx, auctionID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var bids []models.Bid
	if err := tx.Where("auction_id = ?", auctionID).Order("seq").Find(&bids).Error; err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return bids, nil
}

// ListAuctions returns every auction of the group, cancelled ones included.
func (e *Engine) ListAuctions(ctx context.Context, groupID uuid.UUID) ([]models.Auction, error) {
	const op = "ListAuctions"

	tx := e.db.WithContext(ctx)
	if _, err := loadGroup(tx, groupID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var auctions []models.Auction
	if err := tx.Where("group_id = ?", groupID).Order("cycle").Order("id").Find(&auctions).Error; err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return auctions, nil
}

// GetPayout returns the payout record of a finalized cycle.
func (e *Engine) GetPayout(ctx context.Context, groupID uuid.UUID, cycle int) (*models.PayoutRecord, error) {
	record, err := loadPayout(e.db.WithContext(ctx).Where("group_id = ? AND cycle = ?", groupID, cycle))
	if err != nil {
		return nil, fmt.Errorf("GetPayout: %w", err)
	}
	return record, nil
}
