package redis

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTest returns a client backed by redismock for exact command expectations.
func setupTest(t *testing.T) (*redis.Client, redismock.ClientMock, func()) {
	db, mock := redismock.NewClientMock()
	return db, mock, func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	}
}

// setupMiniredis returns a client talking to an in-process Redis server.
func setupMiniredis(t *testing.T) (*redis.Client, *miniredis.Miniredis, func()) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return client, mr, func() {
		client.Close()
		mr.Close()
	}
}

type TestMessage struct {
	ID     string    `msgpack:"id"`
	Data   string    `msgpack:"data"`
	SentAt time.Time `msgpack:"sent_at"`
}
