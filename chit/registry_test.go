package chit

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chitfund/models"
)

func TestEngine_Enroll(t *testing.T) {
	t.Run("fills to capacity", func(t *testing.T) {
		env, cleanup := setupEngine(t)
		defer cleanup()
		ctx := context.Background()

		group, members := env.pendingGroup(t, 50000, 5, 5)
		require.Len(t, members, 5)
		for i, member := range members {
			assert.Equal(t, int64(i+1), member.Seq)
			assert.Equal(t, models.MemberActive, member.Status)
		}

		_, err := env.engine.Enroll(ctx, group.ID, uuid.New())
		assert.ErrorIs(t, err, ErrCapacityExceeded)
	})

	t.Run("rejects a second active enrollment", func(t *testing.T) {
		env, cleanup := setupEngine(t)
		defer cleanup()
		ctx := context.Background()

		group, _ := env.pendingGroup(t, 50000, 5, 0)
		candidate := uuid.New()
		_, err := env.engine.Enroll(ctx, group.ID, candidate)
		require.NoError(t, err)

		_, err = env.engine.Enroll(ctx, group.ID, candidate)
		assert.ErrorIs(t, err, ErrAlreadyEnrolled)
	})

	t.Run("re-enrolls after removal", func(t *testing.T) {
		env, cleanup := setupEngine(t)
		defer cleanup()
		ctx := context.Background()

		group, _ := env.pendingGroup(t, 50000, 5, 0)
		candidate := uuid.New()
		first, err := env.engine.Enroll(ctx, group.ID, candidate)
		require.NoError(t, err)
		require.NoError(t, env.engine.Remove(ctx, first.ID))

		second, err := env.engine.Enroll(ctx, group.ID, candidate)
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, second.ID)
		assert.Equal(t, int64(2), second.Seq)
	})

	t.Run("rejects enrollment once active", func(t *testing.T) {
		env, cleanup := setupEngine(t)
		defer cleanup()

		group, _ := env.activeGroup(t, 30000, 3)
		_, err := env.engine.Enroll(context.Background(), group.ID, uuid.New())
		assert.ErrorIs(t, err, ErrGroupNotAcceptingMembers)
	})

	t.Run("unknown group", func(t *testing.T) {
		env, cleanup := setupEngine(t)
		defer cleanup()

		_, err := env.engine.Enroll(context.Background(), uuid.New(), uuid.New())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("nil candidate", func(t *testing.T) {
		env, cleanup := setupEngine(t)
		defer cleanup()

		group, _ := env.pendingGroup(t, 50000, 5, 0)
		_, err := env.engine.Enroll(context.Background(), group.ID, uuid.Nil)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})
}

func TestEngine_Enroll_ConcurrentNeverExceedsCapacity(t *testing.T) {
	env, cleanup := setupEngine(t)
	defer cleanup()
	ctx := context.Background()

	group, _ := env.pendingGroup(t, 40000, 4, 0)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	for range_i := 0; range_i < 10; range_i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.engine.Enroll(ctx, group.ID, uuid.New())
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				accepted++
				return
			}
			assert.ErrorIs(t, err, ErrCapacityExceeded)
			rejected++
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, accepted)
	assert.Equal(t, 6, rejected)
	members, err := env.engine.ListMembers(ctx, group.ID)
	require.NoError(t, err)
	assert.Len(t, members, 4)
}

func TestEngine_Remove(t *testing.T) {
	t.Run("member with settled contribution", func(t *testing.T) {
		env, cleanup := setupEngine(t)
		defer cleanup()
		ctx := context.Background()

		group, members := env.activeGroup(t, 30000, 3)
		_, err := env.engine.RecordContribution(ctx, members[0].ID, 1, group.Installment)
		require.NoError(t, err)

		err = env.engine.Remove(ctx, members[0].ID)
		assert.ErrorIs(t, err, ErrMemberHasContributions)

		member, err := env.engine.GetMember(ctx, members[0].ID)
		require.NoError(t, err)
		assert.Equal(t, models.MemberActive, member.Status)
	})

	t.Run("discards pending pledges", func(t *testing.T) {
		env, cleanup := setupEngine(t)
		defer cleanup()
		ctx := context.Background()

		group, members := env.activeGroup(t, 30000, 3)
		_, err := env.engine.PledgeContribution(ctx, members[1].ID, 1, group.Installment)
		require.NoError(t, err)

		require.NoError(t, env.engine.Remove(ctx, members[1].ID))

		member, err := env.engine.GetMember(ctx, members[1].ID)
		require.NoError(t, err)
		assert.Equal(t, models.MemberRemoved, member.Status)
		assert.NotNil(t, member.RemovedAt)

		var pledges int64
		require.NoError(t, env.db.Model(&models.Contribution{}).Where("member_id = ?", members[1].ID).Count(&pledges).Error)
		assert.Zero(t, pledges)
	})

	t.Run("twice", func(t *testing.T) {
		env, cleanup := setupEngine(t)
		defer cleanup()
		ctx := context.Background()

		_, members := env.pendingGroup(t, 30000, 3, 1)
		require.NoError(t, env.engine.Remove(ctx, members[0].ID))
		assert.ErrorIs(t, env.engine.Remove(ctx, members[0].ID), ErrInvalidTransition)
	})

	t.Run("unknown member", func(t *testing.T) {
		env, cleanup := setupEngine(t)
		defer cleanup()

		assert.ErrorIs(t, env.engine.Remove(context.Background(), uuid.New()), ErrNotFound)
	})
}

func TestEngine_ListEligibleBidders(t *testing.T) {
	env, cleanup := setupEngine(t)
	defer cleanup()
	ctx := context.Background()

	group, members := env.activeGroup(t, 40000, 4)

	bidders, err := env.engine.ListEligibleBidders(ctx, group.ID, 1)
	require.NoError(t, err)
	assert.Empty(t, bidders)

	// Funded out of join order; the result still follows join order.
	for _, i := range []int{3, 0, 2} {
		_, err := env.engine.RecordContribution(ctx, members[i].ID, 1, group.Installment)
		require.NoError(t, err)
	}
	bidders, err = env.engine.ListEligibleBidders(ctx, group.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{members[0].ID, members[2].ID, members[3].ID}, bidders)

	// A winner is never eligible again.
	_, err = env.engine.RecordContribution(ctx, members[1].ID, 1, group.Installment)
	require.NoError(t, err)
	auction := env.openAuction(t, group)
	_, err = env.engine.SubmitBid(ctx, auction.ID, members[2].ID, 4000)
	require.NoError(t, err)
	env.pastClose(auction)
	_, err = env.engine.CloseAuction(ctx, auction.ID)
	require.NoError(t, err)
	_, err = env.engine.FinalizeAuction(ctx, auction.ID)
	require.NoError(t, err)
	group, err = env.engine.AdvanceCycle(ctx, group.ID)
	require.NoError(t, err)
	env.fund(t, group, members)

	bidders, err = env.engine.ListEligibleBidders(ctx, group.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{members[0].ID, members[1].ID, members[3].ID}, bidders)

	_, err = env.engine.ListEligibleBidders(ctx, uuid.New(), 1)
	assert.ErrorIs(t, err, ErrNotFound)
}
