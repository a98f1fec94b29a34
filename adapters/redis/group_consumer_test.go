package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGroupConsumer(t *testing.T, client redis.UniversalClient) IGroupConsumer[TestMessage] {
	t.Helper()
	consumer, err := NewGroupConsumer[TestMessage](client, "chit:audit", "audit-writers", "instance-1",
		WithGroupConsumerBlockTimeout[TestMessage](50*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, consumer.Start())
	return consumer
}

func pendingCount(t *testing.T, client redis.UniversalClient) int64 {
	t.Helper()
	pending, err := client.XPending(context.Background(), "chit:audit", "audit-writers").Result()
	require.NoError(t, err)
	return pending.Count
}

func TestNewGroupConsumer(t *testing.T) {
	client := redis.NewClient(&redis.Options{})
	defer client.Close()

	tests := []struct {
		name                    string
		client                  redis.UniversalClient
		stream, group, consumer string
	}{
		{name: "nil client", stream: "s", group: "g", consumer: "c"},
		{name: "empty stream", client: client, group: "g", consumer: "c"},
		{name: "empty group", client: client, stream: "s", consumer: "c"},
		{name: "empty consumer", client: client, stream: "s", group: "g"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGroupConsumer[TestMessage](tt.client, tt.stream, tt.group, tt.consumer)
			assert.Error(t, err)
		})
	}
}

func TestGroupConsumer_Subscribe(t *testing.T) {
	t.Run("done acknowledges", func(t *testing.T) {
		client, _, cleanup := setupMiniredis(t)
		defer cleanup()

		consumer := newTestGroupConsumer(t, client)
		defer consumer.Close()

		id := addEncoded(t, client, "chit:audit", TestMessage{ID: "a"})
		msg := receive(t, consumer.Subscribe())
		assert.Equal(t, "a", msg.Data.ID)
		assert.Equal(t, id, msg.ID())
		assert.Equal(t, int64(1), pendingCount(t, client))

		require.NoError(t, msg.Done(context.Background()))
		require.NoError(t, msg.Done(context.Background()))
		assert.Zero(t, pendingCount(t, client))
	})

	t.Run("fail moves to dead letter", func(t *testing.T) {
		client, _, cleanup := setupMiniredis(t)
		defer cleanup()

		consumer := newTestGroupConsumer(t, client)
		defer consumer.Close()

		addEncoded(t, client, "chit:audit", TestMessage{ID: "a"})
		msg := receive(t, consumer.Subscribe())
		require.NoError(t, msg.Fail(context.Background(), errors.New("db down")))
		assert.Zero(t, pendingCount(t, client))

		dead, err := client.XRange(context.Background(), "chit:audit:dead-letter", "-", "+").Result()
		require.NoError(t, err)
		require.Len(t, dead, 1)
		assert.Equal(t, "db down", dead[0].Values["error"])
	})

	t.Run("bad payload goes straight to dead letter", func(t *testing.T) {
		client, _, cleanup := setupMiniredis(t)
		defer cleanup()

		consumer := newTestGroupConsumer(t, client)
		defer consumer.Close()

		require.NoError(t, client.XAdd(context.Background(), &redis.XAddArgs{
			Stream: "chit:audit",
			Values: map[string]any{"garbage": "1"},
		}).Err())
		addEncoded(t, client, "chit:audit", TestMessage{ID: "b"})

		msg := receive(t, consumer.Subscribe())
		assert.Equal(t, "b", msg.Data.ID)
		require.NoError(t, msg.Done(context.Background()))

		n, err := client.XLen(context.Background(), "chit:audit:dead-letter").Result()
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("pending entries are replayed after restart", func(t *testing.T) {
		client, _, cleanup := setupMiniredis(t)
		defer cleanup()

		first := newTestGroupConsumer(t, client)
		addEncoded(t, client, "chit:audit", TestMessage{ID: "a"})
		msg := receive(t, first.Subscribe())
		assert.Equal(t, "a", msg.Data.ID)
		require.NoError(t, first.Close())

		second := newTestGroupConsumer(t, client)
		defer second.Close()
		addEncoded(t, client, "chit:audit", TestMessage{ID: "b"})

		replayed := receive(t, second.Subscribe())
		assert.Equal(t, "a", replayed.Data.ID)
		require.NoError(t, replayed.Done(context.Background()))
		next := receive(t, second.Subscribe())
		assert.Equal(t, "b", next.Data.ID)
		require.NoError(t, next.Done(context.Background()))
		assert.Zero(t, pendingCount(t, client))
	})
}
