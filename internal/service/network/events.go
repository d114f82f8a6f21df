package network

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"wallet-safety/internal/model"
	"wallet-safety/internal/service/alert"
	"wallet-safety/pkg/monitor"
)

// watchHeads keeps a new-head subscription open until ctx ends, resubscribing
// with exponential backoff after provider disconnects.
func (m *Monitor) watchHeads(ctx context.Context, network string) {
	defer m.wg.Done()
	m.watch(ctx, network, "heads", func(ctx context.Context) (ethereum.Subscription, func() error, error) {
		ch := make(chan *types.Header, 16)
		sub, err := m.providers[network].SubscribeNewHeads(ctx, ch)
		if err != nil {
			return nil, nil, err
		}
		return sub, func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case err := <-sub.Err():
					return err
				case h := <-ch:
					m.safely(network, "block", func() { m.handleBlock(ctx, network, h) })
				}
			}
		}, nil
	})
}

func (m *Monitor) watchPending(ctx context.Context, network string) {
	defer m.wg.Done()
	m.watch(ctx, network, "pending", func(ctx context.Context) (ethereum.Subscription, func() error, error) {
		ch := make(chan *types.Transaction, 256)
		sub, err := m.providers[network].SubscribePendingTransactions(ctx, ch)
		if err != nil {
			return nil, nil, err
		}
		return sub, func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case err := <-sub.Err():
					return err
				case tx := <-ch:
					m.safely(network, "pending", func() { m.handlePending(ctx, network, tx) })
				}
			}
		}, nil
	})
}

type subscribeFunc func(ctx context.Context) (ethereum.Subscription, func() error, error)

func (m *Monitor) watch(ctx context.Context, network, stream string, subscribe subscribeFunc) {
	log := m.log.With(zap.String("network", network), zap.String("stream", stream))
	backoff := m.opts.MinBackoff
	for ctx.Err() == nil {
		sub, consume, err := subscribe(ctx)
		if err != nil {
			log.Warn("Subscribe failed", zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, m.opts.MaxBackoff)
			continue
		}

		m.track(sub)
		backoff = m.opts.MinBackoff
		err = consume()
		m.untrack(sub)

		if ctx.Err() != nil {
			return
		}
		log.Warn("Subscription dropped, resubscribing", zap.Error(err))
		if !sleepCtx(ctx, backoff) {
			return
		}
	}
}

// safely keeps a panicking handler from ending the subscription loop.
func (m *Monitor) safely(network, event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("Event handler panicked",
				zap.String("network", network), zap.String("event", event), zap.Any("panic", r))
		}
	}()
	fn()
}

func (m *Monitor) handleBlock(ctx context.Context, network string, h *types.Header) {
	if h == nil || h.Number == nil {
		return
	}
	now := m.now()
	delay := now.Sub(time.Unix(int64(h.Time), 0))

	ns := m.networks[network]
	ns.mu.Lock()
	if h.Number.Uint64() >= ns.state.BlockNumber {
		ns.state.BlockNumber = h.Number.Uint64()
		if h.BaseFee != nil {
			ns.state.BaseFee = new(big.Int).Set(h.BaseFee)
		}
		ns.state.LastBlockAt = now
	}
	ns.state.UpdatedAt = now
	snap := ns.state.Clone()
	threshold := ns.policy.BlockDelayThreshold
	ns.mu.Unlock()

	monitor.Engine.BlockHeight.WithLabelValues(network).Set(float64(h.Number.Uint64()))

	if threshold > 0 && delay > threshold {
		m.raise(ctx, alert.New(model.AlertBlockDelay, model.SeverityWarning, network,
			"Block observed later than the delay threshold",
			map[string]string{
				"block":     h.Number.String(),
				"delay":     delay.Round(time.Millisecond).String(),
				"threshold": threshold.String(),
			}))
	}

	m.snapshot(ctx, network, snap)
	m.reconcile(ctx, network, h.Number)
}

func (m *Monitor) handlePending(ctx context.Context, network string, tx *types.Transaction) {
	if tx == nil {
		return
	}
	ns := m.networks[network]
	ns.mu.Lock()
	ns.window++
	large := ns.policy.LargeTransactionThreshold
	ns.mu.Unlock()

	if positive(large) && tx.Value().Cmp(large) > 0 {
		payload := map[string]string{
			"tx_hash":   tx.Hash().Hex(),
			"value":     tx.Value().String(),
			"threshold": large.String(),
		}
		if tx.To() != nil {
			payload["to"] = tx.To().Hex()
		}
		m.raise(ctx, alert.New(model.AlertLargeTransaction, model.SeverityWarning, network,
			"Large pending transaction observed", payload))
	}
}

// reconcile updates the status of platform transactions included in the block.
func (m *Monitor) reconcile(ctx context.Context, network string, number *big.Int) {
	if m.deps.Addresses == nil || m.deps.Transactions == nil {
		return
	}
	log := m.log.With(zap.String("network", network), zap.String("block", number.String()))

	addrs, err := m.deps.Addresses.Addresses(ctx, network)
	if err != nil {
		log.Warn("Address book unavailable", zap.Error(err))
		return
	}
	if len(addrs) == 0 {
		return
	}
	own := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		own[strings.ToLower(a)] = struct{}{}
	}

	p := m.providers[network]
	block, err := p.BlockByNumber(ctx, number)
	if err != nil {
		log.Warn("Block fetch failed", zap.Error(err))
		return
	}

	for _, tx := range block.Transactions() {
		if !m.involves(tx, own) {
			continue
		}
		receipt, err := p.TransactionReceipt(ctx, tx.Hash())
		if err != nil {
			log.Warn("Receipt fetch failed", zap.String("tx_hash", tx.Hash().Hex()), zap.Error(err))
			continue
		}
		status := model.TxStatusConfirmed
		if receipt.Status != types.ReceiptStatusSuccessful {
			status = model.TxStatusFailed
		}
		changed, err := m.deps.Transactions.UpdateStatus(ctx, tx.Hash().Hex(), status, number.Uint64())
		if err != nil {
			log.Warn("Transaction status update failed", zap.String("tx_hash", tx.Hash().Hex()), zap.Error(err))
			continue
		}
		if changed {
			log.Info("Platform transaction reconciled", zap.String("tx_hash", tx.Hash().Hex()), zap.String("status", status))
		}
	}
}

func (m *Monitor) involves(tx *types.Transaction, own map[string]struct{}) bool {
	if tx.To() != nil {
		if _, ok := own[strings.ToLower(tx.To().Hex())]; ok {
			return true
		}
	}
	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return false
	}
	_, ok := own[strings.ToLower(from.Hex())]
	return ok
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
