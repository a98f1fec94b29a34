package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addEncoded(t *testing.T, client redis.UniversalClient, stream string, msg TestMessage) string {
	t.Helper()
	values, err := EncodeMessage(msg)
	require.NoError(t, err)
	id, err := client.XAdd(context.Background(), &redis.XAddArgs{Stream: stream, Values: values}).Result()
	require.NoError(t, err)
	return id
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(2 * time.Second):
		require.FailNow(t, "timed out waiting for message")
	}
	var zero T
	return zero
}

func TestNewConsumer(t *testing.T) {
	_, err := NewConsumer[TestMessage](nil, "chit:events")
	assert.Error(t, err)

	client := redis.NewClient(&redis.Options{})
	defer client.Close()
	_, err = NewConsumer[TestMessage](client, "")
	assert.Error(t, err)
}

func TestConsumer_Subscribe(t *testing.T) {
	t.Run("delivers entries in order", func(t *testing.T) {
		client, _, cleanup := setupMiniredis(t)
		defer cleanup()

		addEncoded(t, client, "chit:events", TestMessage{ID: "old"})

		consumer, err := NewConsumer[TestMessage](client, "chit:events",
			WithConsumerBlockTimeout[TestMessage](50*time.Millisecond))
		require.NoError(t, err)
		consumer.Start()
		defer consumer.Close()

		for _, id := range []string{"a", "b", "c"} {
			addEncoded(t, client, "chit:events", TestMessage{ID: id})
		}

		ch := consumer.Subscribe()
		assert.Equal(t, "a", receive(t, ch).ID)
		assert.Equal(t, "b", receive(t, ch).ID)
		assert.Equal(t, "c", receive(t, ch).ID)
	})

	t.Run("start id replays history and skips bad payloads", func(t *testing.T) {
		client, _, cleanup := setupMiniredis(t)
		defer cleanup()

		addEncoded(t, client, "chit:events", TestMessage{ID: "a"})
		require.NoError(t, client.XAdd(context.Background(), &redis.XAddArgs{
			Stream: "chit:events",
			Values: map[string]any{"garbage": "1"},
		}).Err())
		addEncoded(t, client, "chit:events", TestMessage{ID: "b"})

		consumer, err := NewConsumer[TestMessage](client, "chit:events",
			WithConsumerStartID[TestMessage]("0"),
			WithConsumerBlockTimeout[TestMessage](50*time.Millisecond))
		require.NoError(t, err)
		consumer.Start()

		ch := consumer.Subscribe()
		assert.Equal(t, "a", receive(t, ch).ID)
		assert.Equal(t, "b", receive(t, ch).ID)

		consumer.Close()
		_, ok := <-ch
		assert.False(t, ok)
	})
}
