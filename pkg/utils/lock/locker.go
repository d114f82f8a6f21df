package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLockTimeout is returned when the context ends before the lock is obtained.
var ErrLockTimeout = errors.New("lock wait timed out")

// Locker serialises work on a key. The returned func releases the lock and
// must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// KeyedMutex is an in-process Locker: one mutex per key, dropped when unused.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		k.drop(key, e)
		return nil, ErrLockTimeout
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			k.drop(key, e)
		})
	}, nil
}

func (k *KeyedMutex) drop(key string, e *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}

// SpinLocker turns a DistributedLock into a blocking Locker by retrying
// Acquire until it succeeds or ctx ends.
type SpinLocker struct {
	lock  DistributedLock
	ttl   time.Duration
	retry time.Duration
}

func NewSpinLocker(l DistributedLock, ttl, retry time.Duration) *SpinLocker {
	if retry <= 0 {
		retry = 25 * time.Millisecond
	}
	return &SpinLocker{lock: l, ttl: ttl, retry: retry}
}

func (s *SpinLocker) Lock(ctx context.Context, key string) (func(), error) {
	for {
		token, ok, err := s.lock.Acquire(ctx, key, s.ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			var once sync.Once
			return func() {
				once.Do(func() {
					// Release on a fresh context: the caller's ctx may already be done.
					rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					_ = s.lock.Release(rctx, key, token)
				})
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ErrLockTimeout
		case <-time.After(s.retry):
		}
	}
}
