package lock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedMutex_SerialisesSameKey(t *testing.T) {
	km := NewKeyedMutex()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := km.Lock(ctx, "wallet-1")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Empty(t, km.locks, "entries are dropped once unused")
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	km := NewKeyedMutex()
	ctx := context.Background()

	unlockA, err := km.Lock(ctx, "a")
	require.NoError(t, err)
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB, err := km.Lock(ctx, "b")
		assert.NoError(t, err)
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
}

func TestKeyedMutex_Timeout(t *testing.T) {
	km := NewKeyedMutex()

	unlock, err := km.Lock(context.Background(), "w")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = km.Lock(ctx, "w")
	assert.ErrorIs(t, err, ErrLockTimeout)
}

// fakeDistLock mirrors RedisLock: one token per key, compare-and-delete release.
type fakeDistLock struct {
	mu   sync.Mutex
	seq  int
	held map[string]string
}

func (f *fakeDistLock) Acquire(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.held[key]; ok {
		return "", false, nil
	}
	f.seq++
	token := fmt.Sprintf("token-%d", f.seq)
	f.held[key] = token
	return token, true, nil
}

func (f *fakeDistLock) Release(_ context.Context, key, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[key] == token {
		delete(f.held, key)
	}
	return nil
}

// expire drops key as if its ttl ran out.
func (f *fakeDistLock) expire(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, key)
}

func (f *fakeDistLock) holder(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held[key]
}

func TestSpinLocker(t *testing.T) {
	s := NewSpinLocker(&fakeDistLock{held: map[string]string{}}, time.Second, 5*time.Millisecond)

	unlock, err := s.Lock(context.Background(), "recovery:r1")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		u, err := s.Lock(context.Background(), "recovery:r1")
		assert.NoError(t, err)
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder got the lock while the first still held it")
	case <-time.After(30 * time.Millisecond):
	}
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second holder never acquired the lock")
	}
}

func TestSpinLocker_ExpiredHolderCannotReleaseNewOwner(t *testing.T) {
	dl := &fakeDistLock{held: map[string]string{}}
	s := NewSpinLocker(dl, time.Second, 5*time.Millisecond)
	ctx := context.Background()

	staleUnlock, err := s.Lock(ctx, "recovery:r1")
	require.NoError(t, err)
	dl.expire("recovery:r1")

	unlock, err := s.Lock(ctx, "recovery:r1")
	require.NoError(t, err)
	owner := dl.holder("recovery:r1")
	require.NotEmpty(t, owner)

	staleUnlock()
	assert.Equal(t, owner, dl.holder("recovery:r1"))

	busy, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = s.Lock(busy, "recovery:r1")
	assert.ErrorIs(t, err, ErrLockTimeout)

	unlock()
	assert.Empty(t, dl.holder("recovery:r1"))
}
