package security

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"go.uber.org/zap"

	"wallet-safety/internal/model"
	"wallet-safety/pkg/cache"
)

// walletState is what the cooldown and pattern checks need about a wallet.
type walletState struct {
	LastTxAt time.Time        `json:"last_tx_at"`
	History  []model.TxRecord `json:"history"`
}

func stateKey(walletID uint64) string {
	return fmt.Sprintf("security:wallet:%d:state", walletID)
}

// loadState returns the wallet's state, consulting the cache when the wallet
// is not resident or ReadThrough is set. Callers hold the wallet lock.
// Every load refreshes the wallet's residency, so only idle wallets are evicted.
func (v *Validator) loadState(ctx context.Context, walletID uint64) (*walletState, error) {
	key := strconv.FormatUint(walletID, 10)
	var st *walletState
	if cached, ok := v.resident.Get(key); ok {
		st = cached.(*walletState)
	}
	if st != nil && (!v.opts.ReadThrough || v.deps.Cache == nil) {
		v.resident.SetDefault(key, st)
		return st, nil
	}

	loaded := &walletState{}
	if v.deps.Cache != nil {
		if err := v.deps.Cache.Get(ctx, stateKey(walletID), loaded); err != nil {
			if !errors.Is(err, cache.ErrCacheMiss) {
				return nil, err
			}
			if st != nil {
				loaded = st
			}
		}
	}
	v.resident.SetDefault(key, loaded)
	return loaded, nil
}

func (v *Validator) saveState(ctx context.Context, walletID uint64, st *walletState) error {
	if v.deps.Cache == nil {
		return nil
	}
	return v.deps.Cache.Set(ctx, stateKey(walletID), st, v.opts.StateTTL)
}

// RecordTransaction appends a sent transaction, successful or not, to the
// wallet's history and moves its cooldown anchor forward.
func (v *Validator) RecordTransaction(ctx context.Context, walletID uint64, cand model.TransactionCandidate, network string) error {
	unlock, err := v.deps.Locker.Lock(ctx, walletLockKey(walletID))
	if err != nil {
		return err
	}
	defer unlock()

	st, err := v.loadState(ctx, walletID)
	if err != nil {
		return err
	}
	rec := model.TxRecord{
		Hash:      cand.IntentHash(),
		To:        cand.To,
		Value:     new(big.Int).Set(cand.ValueOrZero()),
		Timestamp: v.now(),
		Network:   network,
	}
	st.History = append(st.History, rec)
	if over := len(st.History) - v.opts.HistorySize; over > 0 {
		st.History = append([]model.TxRecord(nil), st.History[over:]...)
	}
	if rec.Timestamp.After(st.LastTxAt) {
		st.LastTxAt = rec.Timestamp
	}
	if err := v.saveState(ctx, walletID, st); err != nil {
		v.log.Warn("Wallet history not persisted", zap.Uint64("wallet_id", walletID), zap.Error(err))
	}
	return nil
}

// History returns a copy of the wallet's recorded transactions, oldest first.
func (v *Validator) History(ctx context.Context, walletID uint64) ([]model.TxRecord, error) {
	unlock, err := v.deps.Locker.Lock(ctx, walletLockKey(walletID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	st, err := v.loadState(ctx, walletID)
	if err != nil {
		return nil, err
	}
	return append([]model.TxRecord(nil), st.History...), nil
}
