package redis

import (
	"context"
)

// IProducer appends encoded values to a stream. Publish only queues; Close
// flushes what is left.
type IProducer[T any] interface {
	Start()
	Publish(data T) error
	Close()
}

// IGroupConsumer reads a stream as one member of a consumer group. Each
// delivered Message must be acknowledged with Done.
type IGroupConsumer[T any] interface {
	Start() error
	Subscribe() <-chan *Message[T]
	Close() error
}

// IConsumer tails a stream from the newest entry without a group.
type IConsumer[T any] interface {
	Start()
	Subscribe() <-chan T
	Close()
}

type IAutoRenewMutex interface {
	Key() string
	Lock(ctx context.Context) (context.Context, error)
	Unlock() (bool, error)
	Valid() bool
}

// ILocker serializes work on a key across every instance sharing Redis.
type ILocker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

var (
	_ IAutoRenewMutex = (*AutoRenewMutex)(nil)
	_ ILocker         = (*Locker)(nil)
)
