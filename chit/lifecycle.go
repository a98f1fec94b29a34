package chit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"chitfund/models"
)

// GroupParams describes a new group. Zero Installment, MinMembers and Duration take
// their defaults: ChitValue/MaxMembers, the engine minimum and MaxMembers. A group
// activated with empty seats has installment and duration refitted to its roster.
type GroupParams struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ChitValue   int64  `json:"chitValue"`
	Installment int64  `json:"installment"`
	MaxMembers  int    `json:"maxMembers"`
	MinMembers  int    `json:"minMembers"`
	Duration    int    `json:"duration"`
}

func (p GroupParams) withDefaults(minMembers int) GroupParams {
	p.Name = strings.TrimSpace(p.Name)
	p.Description = strings.TrimSpace(p.Description)
	if p.MaxMembers > 0 && p.Installment == 0 {
		p.Installment = p.ChitValue / int64(p.MaxMembers)
	}
	if p.MinMembers == 0 {
		p.MinMembers = min(minMembers, p.MaxMembers)
	}
	if p.Duration == 0 {
		p.Duration = p.MaxMembers
	}
	return p
}

func (p GroupParams) validate() error {
	var errs []error
	if p.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if p.ChitValue <= 0 {
		errs = append(errs, fmt.Errorf("chit value %d must be positive", p.ChitValue))
	}
	if p.MaxMembers < 2 {
		errs = append(errs, fmt.Errorf("max members %d must be at least 2", p.MaxMembers))
	}
	if p.MinMembers < 2 || p.MinMembers > p.MaxMembers {
		errs = append(errs, fmt.Errorf("min members %d must be in 2..%d", p.MinMembers, p.MaxMembers))
	}
	if p.Installment <= 0 {
		errs = append(errs, fmt.Errorf("installment %d must be positive", p.Installment))
	}
	if p.Duration < 1 || p.Duration > p.MaxMembers {
		errs = append(errs, fmt.Errorf("duration %d must be in 1..%d", p.Duration, p.MaxMembers))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, errors.Join(errs...))
	}
	return nil
}

// CreateGroup registers a pending group that accepts enrollments.
func (e *Engine) CreateGroup(ctx context.Context, params GroupParams) (*models.Group, error) {
	const op = "CreateGroup"

	params = params.withDefaults(e.options.minMembers)
	if err := params.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	group := &models.Group{
		ID:          models.NewID(),
		Name:        params.Name,
		Description: params.Description,
		ChitValue:   params.ChitValue,
		Installment: params.Installment,
		MaxMembers:  params.MaxMembers,
		MinMembers:  params.MinMembers,
		Duration:    params.Duration,
		Status:      models.GroupPending,
	}
	err := e.transition(ctx, op, group.ID, func(t *txn) error {
		if err := t.tx.Create(group).Error; err != nil {
			return translate(err, "group")
		}
		t.audit(op, group.ID, "group", group.ID, "", string(models.GroupPending))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return group, nil
}

func (e *Engine) GetGroup(ctx context.Context, groupID uuid.UUID) (*models.Group, error) {
	group, err := loadGroup(e.db.WithContext(ctx), groupID)
	if err != nil {
		return nil, fmt.Errorf("GetGroup: %w", err)
	}
	return group, nil
}

// ListGroups returns groups newest first, optionally narrowed to one status.
func (e *Engine) ListGroups(ctx context.Context, status models.GroupStatus) ([]models.Group, error) {
	query := e.db.WithContext(ctx).Order("id DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var groups []models.Group
	if err := query.Find(&groups).Error; err != nil {
		return nil, fmt.Errorf("ListGroups: %w", err)
	}
	return groups, nil
}

// ActivateGroup closes enrollment and starts cycle 1.
func (e *Engine) ActivateGroup(ctx context.Context, groupID uuid.UUID) (*models.Group, error) {
	const op = "ActivateGroup"

	return e.groupTransition(ctx, op, groupID, func(t *txn, group *models.Group) error {
		if group.Status != models.GroupPending {
			return fmt.Errorf("group is %s: %w", group.Status, ErrInvalidTransition)
		}
		active, err := countActiveMembers(t.tx, groupID)
		if err != nil {
			return err
		}
		if active < int64(group.MinMembers) {
			return fmt.Errorf("%d of %d members: %w", active, group.MinMembers, ErrInsufficientMembers)
		}
		fitRoster(t, op, group, active)

		group.Status = models.GroupActive
		group.CurrentCycle = 1
		group.ActivatedAt = lo.ToPtr(t.now)
		if err := saveGroup(t.tx, group); err != nil {
			return err
		}

		t.emit(Event{Type: EventGroupActivated, GroupID: groupID, Cycle: 1})
		t.audit(op, groupID, "group", groupID, string(models.GroupPending), string(models.GroupActive))
		return nil
	})
}

// AdvanceCycle moves past a cycle whose auction is finalized. After the last cycle the
// group completes and the counter stays put.
func (e *Engine) AdvanceCycle(ctx context.Context, groupID uuid.UUID) (*models.Group, error) {
	const op = "AdvanceCycle"

	return e.groupTransition(ctx, op, groupID, func(t *txn, group *models.Group) error {
		if group.Status != models.GroupActive {
			return fmt.Errorf("group is %s: %w", group.Status, ErrInvalidTransition)
		}

		var auctions []models.Auction
		err := t.tx.Where("group_id = ? AND cycle = ? AND status <> ?", groupID, group.CurrentCycle, models.AuctionCancelled).
			Find(&auctions).Error
		if err != nil {
			return fmt.Errorf("load auctions: %w", err)
		}
		if !lo.ContainsBy(auctions, func(a models.Auction) bool { return a.Status == models.AuctionFinalized }) {
			return fmt.Errorf("cycle %d is not finalized: %w", group.CurrentCycle, ErrInvalidTransition)
		}

		finished := group.CurrentCycle
		if group.CurrentCycle >= group.Duration {
			group.Status = models.GroupCompleted
			group.EndedAt = lo.ToPtr(t.now)
		} else {
			group.CurrentCycle++
		}
		if err := saveGroup(t.tx, group); err != nil {
			return err
		}

		if group.Status == models.GroupCompleted {
			t.emit(Event{Type: EventGroupCompleted, GroupID: groupID, Cycle: finished})
			t.audit(op, groupID, "group", groupID, string(models.GroupActive), string(models.GroupCompleted))
			return nil
		}
		t.emit(Event{Type: EventCycleAdvanced, GroupID: groupID, Cycle: group.CurrentCycle})
		t.audit(op, groupID, "group", groupID, fmt.Sprint(finished), fmt.Sprint(group.CurrentCycle))
		return nil
	})
}

// CloseGroup ends an active group early. No auction may be scheduled or open.
func (e *Engine) CloseGroup(ctx context.Context, groupID uuid.UUID) (*models.Group, error) {
	const op = "CloseGroup"

	return e.groupTransition(ctx, op, groupID, func(t *txn, group *models.Group) error {
		if group.Status != models.GroupActive {
			return fmt.Errorf("group is %s: %w", group.Status, ErrInvalidTransition)
		}
		var live int64
		err := t.tx.Model(&models.Auction{}).
			Where("group_id = ? AND status IN ?", groupID, []models.AuctionStatus{models.AuctionScheduled, models.AuctionOpen}).
			Count(&live).Error
		if err != nil {
			return fmt.Errorf("count auctions: %w", err)
		}
		if live > 0 {
			return fmt.Errorf("%d live auctions: %w", live, ErrInvalidTransition)
		}

		group.Status = models.GroupClosed
		group.EndedAt = lo.ToPtr(t.now)
		if err := saveGroup(t.tx, group); err != nil {
			return err
		}

		t.emit(Event{Type: EventGroupClosed, GroupID: groupID, Cycle: group.CurrentCycle})
		t.audit(op, groupID, "group", groupID, string(models.GroupActive), string(models.GroupClosed))
		return nil
	})
}

// CancelGroup abandons a group before any payout was made. Live auctions are cancelled
// with it.
func (e *Engine) CancelGroup(ctx context.Context, groupID uuid.UUID) (*models.Group, error) {
	const op = "CancelGroup"

	return e.groupTransition(ctx, op, groupID, func(t *txn, group *models.Group) error {
		if group.Status != models.GroupPending && group.Status != models.GroupActive {
			return fmt.Errorf("group is %s: %w", group.Status, ErrInvalidTransition)
		}

		var auctions []models.Auction
		if err := t.tx.Where("group_id = ? AND status <> ?", groupID, models.AuctionCancelled).Find(&auctions).Error; err != nil {
			return fmt.Errorf("load auctions: %w", err)
		}
		live, settled := lo.FilterReject(auctions, func(a models.Auction, _ int) bool {
			return a.Live()
		})
		if len(settled) > 0 {
			return fmt.Errorf("%d auctions already closed: %w", len(settled), ErrInvalidTransition)
		}
		for i := range live {
			if err := cancelAuction(t, op, &live[i]); err != nil {
				return err
			}
		}

		before := group.Status
		group.Status = models.GroupCancelled
		group.EndedAt = lo.ToPtr(t.now)
		if err := saveGroup(t.tx, group); err != nil {
			return err
		}

		t.emit(Event{Type: EventGroupCancelled, GroupID: groupID, Cycle: group.CurrentCycle})
		t.audit(op, groupID, "group", groupID, string(before), string(models.GroupCancelled))
		return nil
	})
}

// fitRoster sizes a group with empty seats to the members it actually has. The
// installments of one cycle then cover the pot, and no cycle runs out of members who
// have not won. The caller saves the group.
func fitRoster(t *txn, op string, group *models.Group, active int64) {
	if active < 1 || active >= int64(group.MaxMembers) {
		return
	}
	before := fmt.Sprintf("duration=%d installment=%d", group.Duration, group.Installment)
	group.Installment = group.ChitValue / active
	group.Duration = min(group.Duration, int(active))
	after := fmt.Sprintf("duration=%d installment=%d", group.Duration, group.Installment)
	if before != after {
		t.audit(op, group.ID, "group", group.ID, before, after)
	}
}

func (e *Engine) groupTransition(ctx context.Context, op string, groupID uuid.UUID, fn func(t *txn, group *models.Group) error) (*models.Group, error) {
	var group *models.Group
	err := e.transition(ctx, op, groupID, func(t *txn) error {
		loaded, err := loadGroup(t.tx, groupID)
		if err != nil {
			return err
		}
		group = loaded
		return fn(t, group)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return group, nil
}
