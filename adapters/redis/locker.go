package redis

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// Locker hands out one AutoRenewMutex per Lock call, so every instance sharing the
// Redis deployment serializes on the same keys.
type Locker struct {
	rs      *redsync.Redsync
	prefix  string
	logger  *slog.Logger
	options autoRenewMutexOptions
}

type lockerOptions struct {
	prefix    string
	logger    *slog.Logger
	mutexOpts []AutoRenewMutexOption
}

type LockerOption func(*lockerOptions)

// WithLockerPrefix namespaces every lock key.
func WithLockerPrefix(prefix string) LockerOption {
	return func(o *lockerOptions) {
		o.prefix = prefix
	}
}

func WithLockerLogger(logger *slog.Logger) LockerOption {
	return func(o *lockerOptions) {
		o.logger = logger
	}
}

func WithLockerMutexOptions(opts ...AutoRenewMutexOption) LockerOption {
	return func(o *lockerOptions) {
		o.mutexOpts = append(o.mutexOpts, opts...)
	}
}

func NewLocker(client redis.UniversalClient, opts ...LockerOption) (*Locker, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}

	options := lockerOptions{
		prefix: "lock:",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	logger := options.logger.With(slog.String("caller", "Locker"))

	// contention on a group is short lived, poll faster than the mutex default
	mutexOpts := []AutoRenewMutexOption{
		WithAutoRenewMutexRetryDelay(25 * time.Millisecond),
		WithAutoRenewMutexOnLost(func(key string, err error) {
			logger.Error("lock lost while held", slog.String("key", key), slog.Any("error", err))
		}),
	}
	mutexOpts = append(mutexOpts, options.mutexOpts...)

	return &Locker{
		rs:      redsync.New(goredis.NewPool(client)),
		prefix:  options.prefix,
		logger:  logger,
		options: newAutoRenewMutexOptions(mutexOpts...),
	}, nil
}

func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	mutex := newAutoRenewMutex(l.rs, l.prefix+key, l.options)
	if _, err := mutex.Lock(ctx); err != nil {
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ok, err := mutex.Unlock()
			if err != nil || !ok {
				l.logger.Warn("failed to release lock",
					slog.String("key", mutex.Key()),
					slog.Bool("released", ok),
					slog.Any("error", err),
				)
			}
		})
	}, nil
}
