package recovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"wallet-safety/internal/model"
	"wallet-safety/pkg/cache"
	"wallet-safety/pkg/errno"
)

const (
	requestPrefix = "recovery:request:"
	freezePrefix  = "recovery:freeze:"
)

func requestKey(id string) string          { return requestPrefix + id }
func activeKey(walletID uint64) string     { return fmt.Sprintf("recovery:active:%d", walletID) }
func userKey(userID uint64) string         { return fmt.Sprintf("recovery:user:%d", userID) }
func freezeKey(walletID uint64) string     { return fmt.Sprintf("%s%d", freezePrefix, walletID) }
func walletLockKey(walletID uint64) string { return fmt.Sprintf("recovery:wallet:%d", walletID) }
func requestLockKey(id string) string      { return "recovery:lock:" + id }

// store persists requests and freezes in the shared cache. Records outlive
// their expiry by the retention period so terminal states stay queryable.
type store struct {
	cache     cache.Cache
	retention time.Duration
	now       func() time.Time
}

func (s *store) save(ctx context.Context, req *model.RecoveryRequest) error {
	ttl := req.ExpiresAt.Sub(s.now()) + s.retention
	if ttl < s.retention {
		ttl = s.retention
	}
	return s.cache.Set(ctx, requestKey(req.ID), req, ttl)
}

func (s *store) get(ctx context.Context, id string) (*model.RecoveryRequest, error) {
	req := &model.RecoveryRequest{}
	if err := s.cache.Get(ctx, requestKey(id), req); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, errno.ErrRecoveryNotFound
		}
		return nil, err
	}
	return req, nil
}

// requestIDs lists every stored request id.
func (s *store) requestIDs(ctx context.Context) ([]string, error) {
	keys, err := s.cache.Keys(ctx, requestPrefix+"*")
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, requestPrefix))
	}
	return ids, nil
}

// activeID returns the wallet's active request id, or "" when there is none.
func (s *store) activeID(ctx context.Context, walletID uint64) (string, error) {
	var id string
	err := s.cache.Get(ctx, activeKey(walletID), &id)
	if errors.Is(err, cache.ErrCacheMiss) {
		return "", nil
	}
	return id, err
}

func (s *store) setActive(ctx context.Context, walletID uint64, id string) error {
	return s.cache.Set(ctx, activeKey(walletID), id, 0)
}

// clearActive drops the active marker if it still points at id.
func (s *store) clearActive(ctx context.Context, walletID uint64, id string) error {
	current, err := s.activeID(ctx, walletID)
	if err != nil || current != id {
		return err
	}
	return s.cache.Delete(ctx, activeKey(walletID))
}

func (s *store) userRequests(ctx context.Context, userID uint64) ([]string, error) {
	var ids []string
	err := s.cache.Get(ctx, userKey(userID), &ids)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, nil
	}
	return ids, err
}

func (s *store) setUserRequests(ctx context.Context, userID uint64, ids []string) error {
	if len(ids) == 0 {
		return s.cache.Delete(ctx, userKey(userID))
	}
	return s.cache.Set(ctx, userKey(userID), ids, 0)
}

func (s *store) saveFreeze(ctx context.Context, f *model.FreezeRecord) error {
	return s.cache.Set(ctx, freezeKey(f.WalletID), f, 0)
}

// getFreeze returns nil without error when the wallet is not frozen.
func (s *store) getFreeze(ctx context.Context, walletID uint64) (*model.FreezeRecord, error) {
	f := &model.FreezeRecord{}
	err := s.cache.Get(ctx, freezeKey(walletID), f)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *store) deleteFreeze(ctx context.Context, walletID uint64) error {
	return s.cache.Delete(ctx, freezeKey(walletID))
}

func (s *store) freezes(ctx context.Context) ([]*model.FreezeRecord, error) {
	keys, err := s.cache.Keys(ctx, freezePrefix+"*")
	if err != nil {
		return nil, err
	}
	out := make([]*model.FreezeRecord, 0, len(keys))
	for _, k := range keys {
		f := &model.FreezeRecord{}
		if err := s.cache.Get(ctx, k, f); err != nil {
			if errors.Is(err, cache.ErrCacheMiss) {
				continue
			}
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}
