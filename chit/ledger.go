package chit

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"gorm.io/gorm"

	"chitfund/models"
)

// RecordContribution records a settled installment for the group's current cycle. A
// pending pledge for the same cycle is settled in place.
func (e *Engine) RecordContribution(ctx context.Context, memberID uuid.UUID, cycle int, amount int64) (*models.Contribution, error) {
	const op = "RecordContribution"

	groupID, err := e.groupOf(ctx, &models.Member{}, memberID, "member")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var contribution *models.Contribution
	err = e.transition(ctx, op, groupID, func(t *txn) error {
		group, pending, err := validateContribution(t.tx, memberID, cycle, amount)
		if err != nil {
			return err
		}

		before := ""
		if pending != nil {
			before = string(models.ContributionPending)
			contribution = pending
			contribution.Amount = amount
			contribution.Status = models.ContributionSettled
			contribution.SettledAt = lo.ToPtr(t.now)
			if err := t.tx.Model(contribution).Select("Amount", "Status", "SettledAt").Updates(contribution).Error; err != nil {
				return translate(err, "contribution")
			}
		} else {
			contribution = &models.Contribution{
				GroupID:    groupID,
				MemberID:   memberID,
				Cycle:      cycle,
				Amount:     amount,
				Status:     models.ContributionSettled,
				RecordedAt: t.now,
				SettledAt:  lo.ToPtr(t.now),
			}
			if err := t.tx.Create(contribution).Error; err != nil {
				return translate(err, "contribution")
			}
		}
		if err := saveGroup(t.tx, group); err != nil {
			return err
		}

		t.audit(op, groupID, "contribution", contribution.ID, before, string(models.ContributionSettled))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return contribution, nil
}

// PledgeContribution records a pending installment, to be settled once the payment
// clears. A second pledge for the same cycle replaces the first.
func (e *Engine) PledgeContribution(ctx context.Context, memberID uuid.UUID, cycle int, amount int64) (*models.Contribution, error) {
	const op = "PledgeContribution"

	groupID, err := e.groupOf(ctx, &models.Member{}, memberID, "member")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var contribution *models.Contribution
	err = e.transition(ctx, op, groupID, func(t *txn) error {
		group, pending, err := validateContribution(t.tx, memberID, cycle, amount)
		if err != nil {
			return err
		}

		if pending != nil {
			contribution = pending
			contribution.Amount = amount
			contribution.RecordedAt = t.now
			if err := t.tx.Model(contribution).Select("Amount", "RecordedAt").Updates(contribution).Error; err != nil {
				return translate(err, "contribution")
			}
		} else {
			contribution = &models.Contribution{
				GroupID:    groupID,
				MemberID:   memberID,
				Cycle:      cycle,
				Amount:     amount,
				Status:     models.ContributionPending,
				RecordedAt: t.now,
			}
			if err := t.tx.Create(contribution).Error; err != nil {
				return translate(err, "contribution")
			}
		}
		if err := saveGroup(t.tx, group); err != nil {
			return err
		}

		t.audit(op, groupID, "contribution", contribution.ID, "", string(models.ContributionPending))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return contribution, nil
}

// SettleContribution marks a pledge as paid.
func (e *Engine) SettleContribution(ctx context.Context, contributionID uuid.UUID) (*models.Contribution, error) {
	const op = "SettleContribution"

	groupID, err := e.groupOf(ctx, &models.Contribution{}, contributionID, "contribution")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var contribution *models.Contribution
	err = e.transition(ctx, op, groupID, func(t *txn) error {
		c, err := loadContribution(t.tx, contributionID)
		if err != nil {
			return err
		}
		if c.Status == models.ContributionSettled {
			return fmt.Errorf("contribution %s: %w", c.ID, ErrDuplicateContribution)
		}
		group, _, err := validateContribution(t.tx, c.MemberID, c.Cycle, c.Amount)
		if err != nil {
			return err
		}

		c.Status = models.ContributionSettled
		c.SettledAt = lo.ToPtr(t.now)
		if err := t.tx.Model(c).Select("Status", "SettledAt").Updates(c).Error; err != nil {
			return translate(err, "contribution")
		}
		if err := saveGroup(t.tx, group); err != nil {
			return err
		}
		contribution = c

		t.audit(op, groupID, "contribution", c.ID, string(models.ContributionPending), string(models.ContributionSettled))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return contribution, nil
}

// validateContribution checks a contribution against the member and group state and
// returns the group with the member's pending pledge for cycle, if any. Writers save
// the group afterwards so the version check covers the contribution.
func validateContribution(tx *gorm.DB, memberID uuid.UUID, cycle int, amount int64) (*models.Group, *models.Contribution, error) {
	member, err := loadMember(tx, memberID)
	if err != nil {
		return nil, nil, err
	}
	if member.Status != models.MemberActive {
		return nil, nil, fmt.Errorf("member is %s: %w", member.Status, ErrNotEligible)
	}
	group, err := loadGroup(tx, member.GroupID)
	if err != nil {
		return nil, nil, err
	}
	if group.Status != models.GroupActive || cycle != group.CurrentCycle {
		return nil, nil, fmt.Errorf("cycle %d, group %s at cycle %d: %w", cycle, group.Status, group.CurrentCycle, ErrCycleMismatch)
	}

	var existing []models.Contribution
	if err := tx.Where("member_id = ? AND cycle = ?", memberID, cycle).Find(&existing).Error; err != nil {
		return nil, nil, fmt.Errorf("load contributions: %w", err)
	}
	if lo.ContainsBy(existing, func(c models.Contribution) bool { return c.Status == models.ContributionSettled }) {
		return nil, nil, fmt.Errorf("member %s cycle %d: %w", memberID, cycle, ErrDuplicateContribution)
	}
	if amount != group.Installment {
		return nil, nil, fmt.Errorf("got %d, installment is %d: %w", amount, group.Installment, ErrInvalidAmount)
	}

	pending, ok := lo.Find(existing, func(c models.Contribution) bool { return c.Status == models.ContributionPending })
	if !ok {
		return group, nil, nil
	}
	return group, &pending, nil
}

// CycleIsFullyFunded reports whether every active member has settled cycle.
func (e *Engine) CycleIsFullyFunded(ctx context.Context, groupID uuid.UUID, cycle int) (bool, error) {
	funded, err := isFullyFunded(e.db.WithContext(ctx), groupID, cycle)
	if err != nil {
		return false, fmt.Errorf("CycleIsFullyFunded: %w", err)
	}
	return funded, nil
}

func isFullyFunded(tx *gorm.DB, groupID uuid.UUID, cycle int) (bool, error) {
	active, err := countActiveMembers(tx, groupID)
	if err != nil {
		return false, err
	}
	if active == 0 {
		return false, nil
	}
	var settled int64
	err = activeMembers(tx, groupID).Where("id IN (?)", settledMemberIDs(tx, groupID, cycle)).Count(&settled).Error
	if err != nil {
		return false, fmt.Errorf("count settled members: %w", err)
	}
	return settled == active, nil
}

// ApplyPayout persists a computed payout and marks its winner. Applying a record for a
// (group, cycle) that already has one leaves the ledger unchanged and loads the stored
// record into record.
func (e *Engine) ApplyPayout(ctx context.Context, record *models.PayoutRecord) error {
	const op = "ApplyPayout"

	if record == nil {
		return fmt.Errorf("%s: nil record: %w", op, ErrInvalidArgument)
	}
	err := e.transition(ctx, op, record.GroupID, func(t *txn) error {
		applied, err := applyPayout(t.tx, record)
		if err != nil {
			return err
		}
		if applied {
			t.audit(op, record.GroupID, "payout", record.ID, "", "applied")
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func applyPayout(tx *gorm.DB, record *models.PayoutRecord) (bool, error) {
	stored, err := loadPayout(tx.Where("group_id = ? AND cycle = ?", record.GroupID, record.Cycle))
	switch {
	case err == nil:
		*record = *stored
		return false, nil
	case !errors.Is(err, ErrNotFound):
		return false, err
	}

	if got := record.Distributed(); got != record.ChitValue {
		return false, fmt.Errorf("payout distributes %d of %d: %w", got, record.ChitValue, ErrInvalidArgument)
	}
	for i := range record.Credits {
		record.Credits[i].GroupID = record.GroupID
		record.Credits[i].Cycle = record.Cycle
	}
	if err := tx.Create(record).Error; err != nil {
		return false, translate(err, "payout")
	}

	result := tx.Model(&models.Member{}).
		Where("id = ? AND group_id = ? AND has_won = ?", record.WinnerMemberID, record.GroupID, false).
		Update("has_won", true)
	if result.Error != nil {
		return false, fmt.Errorf("mark winner: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return false, fmt.Errorf("winner %s already won in group %s: %w", record.WinnerMemberID, record.GroupID, ErrNotEligible)
	}
	return true, nil
}

// loadPayout takes a query already narrowed to one record.
func loadPayout(query *gorm.DB) (*models.PayoutRecord, error) {
	var record models.PayoutRecord
	err := query.Preload("Credits", func(db *gorm.DB) *gorm.DB {
		return db.Order("member_id")
	}).First(&record).Error
	if err != nil {
		return nil, translate(err, "payout")
	}
	return &record, nil
}

// Balance is a member's position in its group, in minor units.
type Balance struct {
	MemberID          uuid.UUID `json:"memberId"`
	GroupID           uuid.UUID `json:"groupId"`
	Contributed       int64     `json:"contributed"`
	Pledged           int64     `json:"pledged"`
	PayoutReceived    int64     `json:"payoutReceived"`
	DividendsReceived int64     `json:"dividendsReceived"`
	Net               int64     `json:"net"`
}

// MemberBalance sums what a member has paid in and received so far.
func (e *Engine) MemberBalance(ctx context.Context, memberID uuid.UUID) (*Balance, error) {
	const op = "MemberBalance"

	tx := e.db.WithContext(ctx)
	member, err := loadMember(tx, memberID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	balance := &Balance{MemberID: member.ID, GroupID: member.GroupID}
	sums := []struct {
		dst    *int64
		column string
		query  *gorm.DB
	}{
		{&balance.Contributed, "amount", tx.Model(&models.Contribution{}).Where("member_id = ? AND status = ?", memberID, models.ContributionSettled)},
		{&balance.Pledged, "amount", tx.Model(&models.Contribution{}).Where("member_id = ? AND status = ?", memberID, models.ContributionPending)},
		{&balance.PayoutReceived, "payout_amount", tx.Model(&models.PayoutRecord{}).Where("winner_member_id = ?", memberID)},
		{&balance.DividendsReceived, "amount", tx.Model(&models.DividendCredit{}).Where("member_id = ?", memberID)},
	}
	for _, sum := range sums {
		err := sum.query.Select("COALESCE(SUM(" + sum.column + "), 0)").Scan(sum.dst).Error
		if err != nil {
			return nil, fmt.Errorf("%s: sum %s: %w", op, sum.column, err)
		}
	}
	balance.Net = balance.PayoutReceived + balance.DividendsReceived - balance.Contributed
	return balance, nil
}

// CycleSummary is the funding state of one cycle.
type CycleSummary struct {
	GroupID      uuid.UUID `json:"groupId"`
	Cycle        int       `json:"cycle"`
	Installment  int64     `json:"installment"`
	ActiveCount  int64     `json:"activeCount"`
	SettledCount int64     `json:"settledCount"`
	PendingCount int64     `json:"pendingCount"`
	Expected     int64     `json:"expected"`
	Collected    int64     `json:"collected"`
	FullyFunded  bool      `json:"fullyFunded"`
}

func (e *Engine) CycleSummary(ctx context.Context, groupID uuid.UUID, cycle int) (*CycleSummary, error) {
	const op = "CycleSummary"

	tx := e.db.WithContext(ctx)
	group, err := loadGroup(tx, groupID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cycle < 1 || cycle > group.Duration {
		return nil, fmt.Errorf("%s: cycle %d outside 1..%d: %w", op, cycle, group.Duration, ErrInvalidArgument)
	}

	var contributions []models.Contribution
	if err := tx.Where("group_id = ? AND cycle = ?", groupID, cycle).Find(&contributions).Error; err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	active, err := countActiveMembers(tx, groupID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	funded, err := isFullyFunded(tx, groupID, cycle)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	byStatus := lo.GroupBy(contributions, func(c models.Contribution) models.ContributionStatus {
		return c.Status
	})
	settled := byStatus[models.ContributionSettled]
	return &CycleSummary{
		GroupID:      groupID,
		Cycle:        cycle,
		Installment:  group.Installment,
		ActiveCount:  active,
		SettledCount: int64(len(settled)),
		PendingCount: int64(len(byStatus[models.ContributionPending])),
		Expected:     group.Installment * active,
		Collected: lo.SumBy(settled, func(c models.Contribution) int64 {
			return c.Amount
		}),
		FullyFunded: funded,
	}, nil
}
