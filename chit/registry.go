package chit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"gorm.io/gorm"

	"chitfund/models"
)

// Enroll adds a candidate to a pending group.
func (e *Engine) Enroll(ctx context.Context, groupID, candidateID uuid.UUID) (*models.Member, error) {
	const op = "Enroll"

	if candidateID == uuid.Nil {
		return nil, fmt.Errorf("%s: candidate id is required: %w", op, ErrInvalidArgument)
	}

	var member *models.Member
	err := e.transition(ctx, op, groupID, func(t *txn) error {
		group, err := loadGroup(t.tx, groupID)
		if err != nil {
			return err
		}
		if group.Status != models.GroupPending {
			return fmt.Errorf("group is %s: %w", group.Status, ErrGroupNotAcceptingMembers)
		}

		var enrolled int64
		if err := activeMembers(t.tx, groupID).Where("candidate_id = ?", candidateID).Count(&enrolled).Error; err != nil {
			return fmt.Errorf("count enrollments: %w", err)
		}
		if enrolled > 0 {
			return fmt.Errorf("candidate %s: %w", candidateID, ErrAlreadyEnrolled)
		}

		active, err := countActiveMembers(t.tx, groupID)
		if err != nil {
			return err
		}
		if active >= int64(group.MaxMembers) {
			return fmt.Errorf("%d of %d seats taken: %w", active, group.MaxMembers, ErrCapacityExceeded)
		}

		group.MemberSeq++
		member = &models.Member{
			GroupID:     groupID,
			CandidateID: candidateID,
			Seq:         group.MemberSeq,
			Status:      models.MemberActive,
			JoinedAt:    t.now,
		}
		if err := t.tx.Create(member).Error; err != nil {
			return translate(err, "member")
		}
		if err := saveGroup(t.tx, group); err != nil {
			return err
		}

		t.audit(op, groupID, "member", member.ID, "", string(models.MemberActive))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return member, nil
}

// Remove withdraws a member that has never settled a contribution. Pending pledges are
// discarded with it. An active group loses members only before its first settled
// contribution, and is refitted to the remaining roster.
func (e *Engine) Remove(ctx context.Context, memberID uuid.UUID) error {
	const op = "Remove"

	groupID, err := e.groupOf(ctx, &models.Member{}, memberID, "member")
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = e.transition(ctx, op, groupID, func(t *txn) error {
		member, err := loadMember(t.tx, memberID)
		if err != nil {
			return err
		}
		if member.Status != models.MemberActive {
			return fmt.Errorf("member is %s: %w", member.Status, ErrInvalidTransition)
		}
		group, err := loadGroup(t.tx, groupID)
		if err != nil {
			return err
		}
		if group.Status.Terminal() {
			return fmt.Errorf("group is %s: %w", group.Status, ErrInvalidTransition)
		}

		var settled int64
		err = t.tx.Model(&models.Contribution{}).
			Where("member_id = ? AND status = ?", memberID, models.ContributionSettled).
			Count(&settled).Error
		if err != nil {
			return fmt.Errorf("count contributions: %w", err)
		}
		if settled > 0 {
			return fmt.Errorf("%d settled: %w", settled, ErrMemberHasContributions)
		}

		if group.Status == models.GroupActive {
			// Settled installments pin the installment of the cycle.
			var funded int64
			err = t.tx.Model(&models.Contribution{}).
				Where("group_id = ? AND status = ?", groupID, models.ContributionSettled).
				Count(&funded).Error
			if err != nil {
				return fmt.Errorf("count contributions: %w", err)
			}
			if funded > 0 {
				return fmt.Errorf("group has %d settled contributions: %w", funded, ErrInvalidTransition)
			}
		}

		err = t.tx.Where("member_id = ? AND status = ?", memberID, models.ContributionPending).
			Delete(&models.Contribution{}).Error
		if err != nil {
			return fmt.Errorf("discard pledges: %w", err)
		}

		member.Status = models.MemberRemoved
		member.RemovedAt = lo.ToPtr(t.now)
		if err := t.tx.Model(member).Select("Status", "RemovedAt").Updates(member).Error; err != nil {
			return fmt.Errorf("update member: %w", err)
		}
		if group.Status == models.GroupActive {
			active, err := countActiveMembers(t.tx, groupID)
			if err != nil {
				return err
			}
			fitRoster(t, op, group, active)
		}
		// Bumps the version so a stale writer of the group cannot miss the removal.
		if err := saveGroup(t.tx, group); err != nil {
			return err
		}

		t.audit(op, groupID, "member", memberID, string(models.MemberActive), string(models.MemberRemoved))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ListEligibleBidders returns, in join order, the active members of the group that
// have not won yet and have settled their contribution for cycle.
func (e *Engine) ListEligibleBidders(ctx context.Context, groupID uuid.UUID, cycle int) ([]uuid.UUID, error) {
	const op = "ListEligibleBidders"

	tx := e.db.WithContext(ctx)
	if _, err := loadGroup(tx, groupID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cycle < 1 {
		return nil, fmt.Errorf("%s: cycle %d: %w", op, cycle, ErrInvalidArgument)
	}

	members, err := eligibleBidders(tx, groupID, cycle)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return lo.Map(members, func(m models.Member, _ int) uuid.UUID {
		return m.ID
	}), nil
}

// ListMembers returns every member of the group, removed ones included, in join order.
func (e *Engine) ListMembers(ctx context.Context, groupID uuid.UUID) ([]models.Member, error) {
	const op = "ListMembers"

	tx := e.db.WithContext(ctx)
	if _, err := loadGroup(tx, groupID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var members []models.Member
	if err := tx.Where("group_id = ?", groupID).Order("seq").Find(&members).Error; err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return members, nil
}

func (e *Engine) GetMember(ctx context.Context, memberID uuid.UUID) (*models.Member, error) {
	member, err := loadMember(e.db.WithContext(ctx), memberID)
	if err != nil {
		return nil, fmt.Errorf("GetMember: %w", err)
	}
	return member, nil
}

func activeMembers(tx *gorm.DB, groupID uuid.UUID) *gorm.DB {
	return tx.Model(&models.Member{}).Where("group_id = ? AND status = ?", groupID, models.MemberActive)
}

func countActiveMembers(tx *gorm.DB, groupID uuid.UUID) (int64, error) {
	var n int64
	if err := activeMembers(tx, groupID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count members: %w", err)
	}
	return n, nil
}

func settledMemberIDs(tx *gorm.DB, groupID uuid.UUID, cycle int) *gorm.DB {
	return tx.Model(&models.Contribution{}).
		Select("member_id").
		Where("group_id = ? AND cycle = ? AND status = ?", groupID, cycle, models.ContributionSettled)
}

// fundedMembers are the active members with a settled contribution for cycle: the
// recipients of that cycle's dividend.
func fundedMembers(tx *gorm.DB, groupID uuid.UUID, cycle int) ([]models.Member, error) {
	var members []models.Member
	err := tx.Where("group_id = ? AND status = ?", groupID, models.MemberActive).
		Where("id IN (?)", settledMemberIDs(tx, groupID, cycle)).
		Order("seq").
		Find(&members).Error
	if err != nil {
		return nil, fmt.Errorf("list funded members: %w", err)
	}
	return members, nil
}

func eligibleBidders(tx *gorm.DB, groupID uuid.UUID, cycle int) ([]models.Member, error) {
	members, err := fundedMembers(tx, groupID, cycle)
	if err != nil {
		return nil, err
	}
	return lo.Filter(members, func(m models.Member, _ int) bool {
		return m.Eligible()
	}), nil
}

// groupOf reads the owning group of an entity. The column never changes after insert, so
// it is safe to read before the group lock is taken.
func (e *Engine) groupOf(ctx context.Context, model any, id uuid.UUID, name string) (uuid.UUID, error) {
	var ids []uuid.UUID
	if err := e.db.WithContext(ctx).Model(model).Where("id = ?", id).Limit(1).Pluck("group_id", &ids).Error; err != nil {
		return uuid.Nil, fmt.Errorf("resolve %s: %w", name, err)
	}
	if len(ids) == 0 {
		return uuid.Nil, fmt.Errorf("%s %s: %w", name, id, ErrNotFound)
	}
	return ids[0], nil
}
