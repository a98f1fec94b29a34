package sse_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"chitfund/adapters/sse"
)

func TestChannel(t *testing.T) {
	ch := sse.NewChannel[Message](1)

	sub := ch.Subscribe()
	other := ch.Subscribe()
	assert.Equal(t, 2, ch.Len())

	msg := Message{Data: "bid.submitted"}
	assert.Zero(t, ch.Broadcast(msg))
	assert.Equal(t, msg, <-sub)

	// other never drained its first message
	assert.Equal(t, 1, ch.Broadcast(Message{Data: "auction.closed"}))
	assert.Equal(t, msg, <-other)

	ch.Unsubscribe(sub)
	ch.Unsubscribe(sub)
	drained := 0
	for range sub {
		drained++
	}
	assert.Equal(t, 1, drained)

	ch.Close()
	_, ok := <-other
	assert.False(t, ok)
	assert.Zero(t, ch.Len())

	late := ch.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscribing to a closed channel")
	assert.Zero(t, ch.Broadcast(msg))
}
