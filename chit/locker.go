package chit

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Locker provides the single-writer lock every transition holds for its group.
// Unlock must be called exactly once after a successful Lock.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

func groupLockKey(groupID uuid.UUID) string {
	return "group:" + groupID.String()
}

// LocalLocker is an in-process Locker keyed by string. It is enough for a single
// instance; multi-instance deployments need a shared lock such as the Redis locker.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyLock)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{sem: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.sem
			l.release(key, kl)
		})
	}, nil
}

func (l *LocalLocker) release(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// held returns the number of keys with an owner or waiter; used by tests.
func (l *LocalLocker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
