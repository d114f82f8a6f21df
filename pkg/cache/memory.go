package cache

import (
	"context"
	"encoding/json"
	"path"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache is an in-process Cache backed by go-cache.
// It stores encoded bytes, not the caller's object, so later mutations of the
// original value never leak into the cache.
type MemoryCache struct {
	c *gocache.Cache
	// incrMu serialises Incr read-modify-write cycles.
	incrMu sync.Mutex
}

func NewMemoryCache(defaultExpiration, cleanupInterval time.Duration) *MemoryCache {
	return &MemoryCache{
		c: gocache.New(defaultExpiration, cleanupInterval),
	}
}

func (m *MemoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.c.Set(key, b, expiration(ttl))
	return nil
}

func (m *MemoryCache) Get(ctx context.Context, key string, target interface{}) error {
	val, found := m.c.Get(key)
	if !found {
		return ErrCacheMiss
	}
	b, ok := val.([]byte)
	if !ok {
		return ErrCacheMiss
	}
	return json.Unmarshal(b, target)
}

func (m *MemoryCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	_, at, found := m.c.GetWithExpiration(key)
	if !found {
		return 0, ErrCacheMiss
	}
	if at.IsZero() {
		return 0, nil
	}
	return time.Until(at), nil
}

func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	m.c.Delete(key)
	return nil
}

func (m *MemoryCache) Incr(ctx context.Context, key string) (int64, error) {
	m.incrMu.Lock()
	defer m.incrMu.Unlock()

	var n int64
	if val, ttlAt, found := m.c.GetWithExpiration(key); found {
		b, _ := val.([]byte)
		parsed, err := strconv.ParseInt(string(b), 10, 64)
		if err != nil {
			return 0, err
		}
		n = parsed + 1
		ttl := gocache.NoExpiration
		if !ttlAt.IsZero() {
			ttl = time.Until(ttlAt)
		}
		m.c.Set(key, []byte(strconv.FormatInt(n, 10)), ttl)
		return n, nil
	}
	n = 1
	m.c.Set(key, []byte(strconv.FormatInt(n, 10)), gocache.NoExpiration)
	return n, nil
}

func (m *MemoryCache) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	for k := range m.c.Items() {
		ok, err := path.Match(pattern, k)
		if err != nil {
			return nil, err
		}
		if ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func expiration(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return gocache.NoExpiration
	}
	return ttl
}
