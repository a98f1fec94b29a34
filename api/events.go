package api

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	redisAdapter "chitfund/adapters/redis"
	"chitfund/adapters/sse"
	"chitfund/chit"
)

// eventChannel is the SSE channel carrying one group's events.
func eventChannel(groupID uuid.UUID) string {
	return groupID.String()
}

// decodeEventRequest turns an events stream entry into an SSE publish request.
func decodeEventRequest(message map[string]any) (sse.PublishRequest[chit.Event], error) {
	ev, err := redisAdapter.DecodeMessage[chit.Event](message)
	if err != nil {
		return sse.PublishRequest[chit.Event]{}, fmt.Errorf("fail to parse message to chit.Event, err=%w", err)
	}
	return sse.PublishRequest[chit.Event]{
		Channel: eventChannel(ev.GroupID),
		Message: ev,
	}, nil
}

// streamNotifier appends each event once to the events stream shared by all instances.
type streamNotifier struct {
	client    redis.UniversalClient
	stream    string
	keyPrefix string
	ttl       time.Duration
}

func (n *streamNotifier) Notify(ctx context.Context, ev chit.Event) error {
	const op = "streamNotifier.Notify"

	payload, err := redisAdapter.EncodePayload(ev)
	if err != nil {
		return fmt.Errorf("[%s] Fail to encode event, err=%w", op, err)
	}
	keys := []string{n.keyPrefix + "event:" + ev.Key(), n.stream}
	status, err := PublishEventScript.Run(ctx, n.client, keys, payload, int64(n.ttl/time.Second)).Int()
	if err != nil {
		return fmt.Errorf("[%s] Fail to publish event, err=%w", op, err)
	}
	if status != 0 && status != 1 {
		return fmt.Errorf("[%s] Invalid script return value: %d", op, status)
	}
	return nil
}

// localNotifier hands events straight to this instance's subscribers.
type localNotifier struct {
	manager sse.IConnectionManager[chit.Event]
}

func (n localNotifier) Notify(_ context.Context, ev chit.Event) error {
	return n.manager.Publish(eventChannel(ev.GroupID), ev)
}
