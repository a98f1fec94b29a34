package api

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisAdapter "chitfund/adapters/redis"
	"chitfund/chit"
)

func TestPublishEventScript(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	ev := chit.Event{
		Type:       chit.EventBidSubmitted,
		GroupID:    uuid.New(),
		Cycle:      2,
		AuctionID:  uuid.New(),
		MemberID:   uuid.New(),
		Amount:     5000,
		Seq:        3,
		OccurredAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	payload, err := redisAdapter.EncodePayload(ev)
	require.NoError(t, err)

	tests := []struct {
		name       string
		key        string
		ttl        string
		want       int
		wantStream int
	}{
		{name: "first publish appends", key: "event:a", ttl: "60", want: 1, wantStream: 1},
		{name: "same key is dropped", key: "event:a", ttl: "60", want: 0, wantStream: 1},
		{name: "another key appends", key: "event:b", ttl: "60", want: 1, wantStream: 2},
		{name: "zero ttl still remembers the key", key: "event:c", ttl: "0", want: 1, wantStream: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := PublishEventScript.Run(ctx, client,
				[]string{tt.key, "stream:events"},
				payload, tt.ttl,
			).Int()
			require.NoError(t, err)
			assert.Equal(t, tt.want, result)

			ttl := mr.TTL(tt.key)
			assert.True(t, ttl > 0, "de-duplication key should expire")

			entries, err := client.XRange(ctx, "stream:events", "-", "+").Result()
			require.NoError(t, err)
			assert.Len(t, entries, tt.wantStream)
		})
	}

	entries, err := client.XRange(ctx, "stream:events", "-", "+").Result()
	require.NoError(t, err)
	decoded, err := redisAdapter.DecodeMessage[chit.Event](entries[0].Values)
	require.NoError(t, err)
	assert.Equal(t, ev.Key(), decoded.Key())
	assert.True(t, ev.OccurredAt.Equal(decoded.OccurredAt))
	assert.Equal(t, ev.Amount, decoded.Amount)
}

func TestStreamNotifier(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	notifier := &streamNotifier{
		client:    client,
		stream:    "chit:events",
		keyPrefix: "chit:",
		ttl:       time.Minute,
	}
	ev := chit.Event{
		Type:    chit.EventAuctionOpened,
		GroupID: uuid.New(),
		Cycle:   1,
	}

	ctx := context.Background()
	require.NoError(t, notifier.Notify(ctx, ev))
	// a retried transition produces the same event key
	require.NoError(t, notifier.Notify(ctx, ev))

	entries, err := client.XRange(ctx, "chit:events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, mr.Exists("chit:event:"+ev.Key()))

	req, err := decodeEventRequest(entries[0].Values)
	require.NoError(t, err)
	assert.Equal(t, eventChannel(ev.GroupID), req.Channel)
	assert.Equal(t, chit.EventAuctionOpened, req.Message.Type)
}

// Each rejected close is its own alert, while a retry of the same attempt is not.
func TestStreamNotifier_NoBidsAlerts(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	notifier := &streamNotifier{
		client:    client,
		stream:    "chit:events",
		keyPrefix: "chit:",
		ttl:       time.Minute,
	}
	first := chit.Event{
		Type:       chit.EventAuctionNoBids,
		GroupID:    uuid.New(),
		Cycle:      1,
		AuctionID:  uuid.New(),
		OccurredAt: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	second := first
	second.OccurredAt = first.OccurredAt.Add(5 * time.Minute)
	assert.NotEqual(t, first.Key(), second.Key())

	ctx := context.Background()
	require.NoError(t, notifier.Notify(ctx, first))
	require.NoError(t, notifier.Notify(ctx, first))
	require.NoError(t, notifier.Notify(ctx, second))

	n, err := client.XLen(ctx, "chit:events").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
