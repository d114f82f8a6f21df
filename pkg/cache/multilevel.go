package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"wallet-safety/pkg/logger"
)

// MultiLevelCache layers a short-lived local cache (L1) over a shared one (L2).
// L2 is authoritative: counters and key scans always go there.
type MultiLevelCache struct {
	local  Cache
	remote Cache
	// refillTTL caps how long an L2 hit is kept in L1.
	refillTTL time.Duration
}

func NewMultiLevelCache(local, remote Cache) *MultiLevelCache {
	return &MultiLevelCache{
		local:     local,
		remote:    remote,
		refillTTL: time.Minute,
	}
}

func (m *MultiLevelCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	// L1 lives for half the L2 ttl so stale copies age out first.
	l1 := ttl / 2
	if l1 <= 0 || l1 > m.refillTTL {
		l1 = m.refillTTL
	}
	if err := m.local.Set(ctx, key, value, l1); err != nil {
		logger.Warn("L1 cache set failed", zap.String("key", key), zap.Error(err))
	}
	return m.remote.Set(ctx, key, value, ttl)
}

func (m *MultiLevelCache) Get(ctx context.Context, key string, target interface{}) error {
	if err := m.local.Get(ctx, key, target); err == nil {
		return nil
	}

	if err := m.remote.Get(ctx, key, target); err != nil {
		return err
	}
	if ttl := m.refillFor(ctx, key); ttl > 0 {
		_ = m.local.Set(ctx, key, target, ttl)
	}
	return nil
}

// refillFor returns the L1 ttl for an L2 hit, or 0 to skip the refill.
// The copy never outlives half of what L2 has left, so an expiring approval
// or recovery record cannot be served from L1 after L2 dropped it.
func (m *MultiLevelCache) refillFor(ctx context.Context, key string) time.Duration {
	exp, ok := m.remote.(Expirer)
	if !ok {
		return 0
	}
	left, err := exp.TTL(ctx, key)
	if err != nil {
		return 0
	}
	if left == 0 {
		return m.refillTTL
	}
	if half := left / 2; half < m.refillTTL {
		return half
	}
	return m.refillTTL
}

func (m *MultiLevelCache) Delete(ctx context.Context, key string) error {
	_ = m.local.Delete(ctx, key)
	return m.remote.Delete(ctx, key)
}

func (m *MultiLevelCache) Incr(ctx context.Context, key string) (int64, error) {
	_ = m.local.Delete(ctx, key)
	return m.remote.Incr(ctx, key)
}

func (m *MultiLevelCache) Keys(ctx context.Context, pattern string) ([]string, error) {
	return m.remote.Keys(ctx, pattern)
}
