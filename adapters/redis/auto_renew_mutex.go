package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

const defaultMutexExpiry = 8 * time.Second

// ErrLockLost is reported to the lost hook when the lock could not be extended.
var ErrLockLost = errors.New("lock lost")

// AutoRenewMutex is a redsync mutex that keeps extending itself while held.
type AutoRenewMutex struct {
	*redsync.Mutex
	key     string
	options autoRenewMutexOptions

	mu      sync.Mutex
	release context.CancelFunc
	held    bool
	wg      sync.WaitGroup
}

type autoRenewMutexOptions struct {
	renewInterval time.Duration
	retryDelay    time.Duration
	expiry        time.Duration
	skipLockError bool
	onLost        func(key string, err error)
}

type AutoRenewMutexOption func(*autoRenewMutexOptions)

func WithAutoRenewMutexRenewInterval(d time.Duration) AutoRenewMutexOption {
	return func(o *autoRenewMutexOptions) {
		o.renewInterval = d
	}
}

// WithAutoRenewMutexRetryDelay sets the wait between attempts while the lock is taken.
func WithAutoRenewMutexRetryDelay(d time.Duration) AutoRenewMutexOption {
	return func(o *autoRenewMutexOptions) {
		o.retryDelay = d
	}
}

func WithAutoRenewMutexExpiry(d time.Duration) AutoRenewMutexOption {
	return func(o *autoRenewMutexOptions) {
		o.expiry = d
	}
}

// WithAutoRenewMutexSkipLockError keeps retrying on Redis communication errors
// instead of returning them.
func WithAutoRenewMutexSkipLockError(skip bool) AutoRenewMutexOption {
	return func(o *autoRenewMutexOptions) {
		o.skipLockError = skip
	}
}

// WithAutoRenewMutexOnLost is called from the renew goroutine when an extension
// fails. The lock context is already cancelled at that point.
func WithAutoRenewMutexOnLost(fn func(key string, err error)) AutoRenewMutexOption {
	return func(o *autoRenewMutexOptions) {
		o.onLost = fn
	}
}

func newAutoRenewMutexOptions(opts ...AutoRenewMutexOption) autoRenewMutexOptions {
	options := autoRenewMutexOptions{
		expiry:     defaultMutexExpiry,
		retryDelay: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.expiry <= 0 {
		options.expiry = defaultMutexExpiry
	}
	if options.renewInterval <= 0 {
		options.renewInterval = options.expiry / 3
	}
	return options
}

func NewAutoRenewMutex(client redis.UniversalClient, key string, opts ...AutoRenewMutexOption) IAutoRenewMutex {
	rs := redsync.New(goredis.NewPool(client))
	return newAutoRenewMutex(rs, key, newAutoRenewMutexOptions(opts...))
}

func newAutoRenewMutex(rs *redsync.Redsync, key string, options autoRenewMutexOptions) *AutoRenewMutex {
	return &AutoRenewMutex{
		Mutex: rs.NewMutex(key,
			redsync.WithExpiry(options.expiry),
			redsync.WithTries(1),
			redsync.WithRetryDelay(options.retryDelay),
		),
		key:     key,
		options: options,
	}
}

func (m *AutoRenewMutex) Key() string {
	return m.key
}

// Lock blocks until the lock is acquired or ctx is done. The returned context is
// cancelled when the lock is released or can no longer be extended.
func (m *AutoRenewMutex) Lock(ctx context.Context) (context.Context, error) {
	for {
		acquired, err := m.tryLock(ctx)
		if err != nil {
			return nil, err
		}
		if acquired {
			return m.hold(ctx), nil
		}

		wait := time.NewTimer(m.options.retryDelay)
		select {
		case <-ctx.Done():
			wait.Stop()
			return nil, ctx.Err()
		case <-wait.C:
		}
	}
}

// tryLock makes one attempt. A taken lock is not an error.
func (m *AutoRenewMutex) tryLock(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := m.Mutex.LockContext(ctx)
	switch {
	case err == nil:
		return true, nil
	case ctx.Err() != nil:
		return false, ctx.Err()
	}

	var commErr *redsync.RedisError
	if errors.As(err, &commErr) && !m.options.skipLockError {
		return false, fmt.Errorf("failed to acquire lock %s: %w", m.key, err)
	}
	return false, nil
}

func (m *AutoRenewMutex) hold(ctx context.Context) context.Context {
	lockCtx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.release = cancel
	m.held = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.renew(lockCtx)
	return lockCtx
}

func (m *AutoRenewMutex) renew(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.options.renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		ok, err := m.Mutex.ExtendContext(ctx)
		if err == nil && ok {
			continue
		}
		if ctx.Err() != nil {
			// released while extending
			return
		}
		m.drop()
		if m.options.onLost != nil {
			if err == nil {
				err = ErrLockLost
			}
			m.options.onLost(m.key, err)
		}
		return
	}
}

// Unlock stops renewal and releases the lock.
func (m *AutoRenewMutex) Unlock() (bool, error) {
	m.drop()
	m.wg.Wait()
	return m.Mutex.Unlock()
}

func (m *AutoRenewMutex) Valid() bool {
	m.mu.Lock()
	held := m.held
	m.mu.Unlock()
	return held && time.Now().Before(m.Mutex.Until())
}

func (m *AutoRenewMutex) drop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.held {
		return
	}
	m.held = false
	m.release()
}
