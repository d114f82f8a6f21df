// Package gas prices transactions within per-network policy bounds.
package gas

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"wallet-safety/internal/chain"
	"wallet-safety/internal/model"
	"wallet-safety/pkg/cache"
	"wallet-safety/pkg/errno"
	"wallet-safety/pkg/logger"
	"wallet-safety/pkg/monitor"
)

// Conditions reports live congestion; the network monitor satisfies it.
type Conditions interface {
	GetNetworkCongestion(network string) (model.CongestionLevel, error)
}

type Options struct {
	CacheTTL    time.Duration
	HistorySize int
	HistoryTTL  time.Duration
}

type Estimator struct {
	providers  map[string]chain.Provider
	cache      cache.Cache
	conditions Conditions
	opts       Options
	now        func() time.Time
	log        *zap.Logger

	policyMu sync.RWMutex
	policies map[string]model.GasPolicy

	histMu  sync.Mutex
	history map[string]*history
}

func NewEstimator(providers map[string]chain.Provider, policies map[string]model.NetworkPolicy, c cache.Cache, conditions Conditions, opts Options) *Estimator {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 60 * time.Second
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = 1000
	}
	if opts.HistoryTTL <= 0 {
		opts.HistoryTTL = 24 * time.Hour
	}
	gp := make(map[string]model.GasPolicy, len(policies))
	for name, p := range policies {
		if _, ok := providers[name]; ok {
			gp[name] = p.Gas
		}
	}
	return &Estimator{
		providers:  providers,
		cache:      c,
		conditions: conditions,
		opts:       opts,
		now:        time.Now,
		log:        logger.Named("gas"),
		policies:   gp,
		history:    make(map[string]*history),
	}
}

func (e *Estimator) WithClock(now func() time.Time) *Estimator {
	e.now = now
	return e
}

func (e *Estimator) Policy(network string) (model.GasPolicy, error) {
	e.policyMu.RLock()
	defer e.policyMu.RUnlock()
	p, ok := e.policies[network]
	if !ok {
		return model.GasPolicy{}, fmt.Errorf("%w: %s", errno.ErrNetworkNotSupported, network)
	}
	return p, nil
}

// UpdatePolicy hot-swaps a network's gas policy. Cached estimates are
// re-validated against it on their next read.
func (e *Estimator) UpdatePolicy(network string, p model.GasPolicy) error {
	if p.MinGasLimit > p.MaxGasLimit {
		return fmt.Errorf("min gas limit %d above max %d", p.MinGasLimit, p.MaxGasLimit)
	}
	e.policyMu.Lock()
	defer e.policyMu.Unlock()
	if _, ok := e.policies[network]; !ok {
		return fmt.Errorf("%w: %s", errno.ErrNetworkNotSupported, network)
	}
	e.policies[network] = p
	return nil
}

// cacheKey scopes plain transfers per network; calls carrying data are keyed
// by their target and calldata as well, since their gas limits differ.
func cacheKey(network string, req model.TxRequest) string {
	if len(req.Data) == 0 {
		return "gas:estimate:" + network
	}
	var to []byte
	if req.To != nil {
		to = req.To.Bytes()
	}
	h := crypto.Keccak256Hash(to, req.Data)
	return fmt.Sprintf("gas:estimate:%s:%x", network, h[:8])
}

// EstimateGas returns a congestion-adjusted estimate clamped to the network policy.
func (e *Estimator) EstimateGas(ctx context.Context, network string, req model.TxRequest) (*model.GasEstimate, error) {
	policy, err := e.Policy(network)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	key := cacheKey(network, req)

	var cached model.GasEstimate
	switch err := e.cache.Get(ctx, key, &cached); {
	case err == nil && cached.RawGasPrice != nil:
		cached.GasLimit = clampLimit(cached.GasLimit, policy)
		applyLimits(&cached, policy)
		monitor.Engine.GasEstimateDuration.WithLabelValues(network, "cache").Observe(time.Since(start).Seconds())
		return &cached, nil
	case err != nil && !errors.Is(err, cache.ErrCacheMiss):
		e.log.Warn("Gas cache read failed", zap.String("network", network), zap.Error(err))
	}

	provider := e.providers[network]
	fee, err := provider.FeeData(ctx)
	if err != nil {
		return nil, fmt.Errorf("fee data for %s: %w", network, err)
	}
	if fee.GasPrice == nil {
		return nil, fmt.Errorf("fee data for %s: provider returned no gas price", network)
	}

	limit := e.gasLimit(ctx, network, provider, req, policy)
	level := e.congestion(network)
	num, den := multiplier(level)

	est := &model.GasEstimate{
		Network:     network,
		RawGasPrice: scale(fee.GasPrice, num, den),
		GasLimit:    limit,
		Congestion:  level,
		Timestamp:   e.now(),
	}
	if policy.EIP1559 && fee.MaxFeePerGas != nil {
		est.MaxFeePerGas = scale(fee.MaxFeePerGas, num, den)
		if fee.MaxPriorityFeePerGas != nil {
			est.MaxPriorityFeePerGas = new(big.Int).Set(fee.MaxPriorityFeePerGas)
		}
	}
	applyLimits(est, policy)

	if err := e.cache.Set(ctx, key, est, e.opts.CacheTTL); err != nil {
		e.log.Warn("Gas cache write failed", zap.String("network", network), zap.Error(err))
	}
	e.record(ctx, network, model.GasSample{GasPrice: new(big.Int).Set(est.GasPrice), Timestamp: est.Timestamp})

	if !est.IsWithinLimits {
		e.log.Warn("Raw gas price above network limit",
			zap.String("network", network),
			zap.String("raw_gas_price", est.RawGasPrice.String()),
			zap.String("max_gas_price", policy.MaxGasPrice.String()))
	}
	monitor.Engine.GasEstimateDuration.WithLabelValues(network, "provider").Observe(time.Since(start).Seconds())
	return est, nil
}

// gasLimit never fails the estimate: an estimation error falls back to the default limit.
func (e *Estimator) gasLimit(ctx context.Context, network string, p chain.Provider, req model.TxRequest, policy model.GasPolicy) uint64 {
	limit, err := p.EstimateGas(ctx, ethereum.CallMsg{
		From:  req.From,
		To:    req.To,
		Value: req.Value,
		Data:  req.Data,
	})
	if err != nil {
		e.log.Warn("Gas limit estimation failed, using default",
			zap.String("network", network), zap.Uint64("default", policy.DefaultGasLimit), zap.Error(err))
		limit = policy.DefaultGasLimit
	}
	return bufferAndClamp(limit, policy)
}

func (e *Estimator) congestion(network string) model.CongestionLevel {
	if e.conditions == nil {
		return model.CongestionLow
	}
	level, err := e.conditions.GetNetworkCongestion(network)
	if err != nil {
		e.log.Warn("Congestion unavailable, assuming LOW", zap.String("network", network), zap.Error(err))
		return model.CongestionLow
	}
	return level
}

// multiplier: LOW 1.0, MEDIUM 1.2, HIGH 1.5.
func multiplier(level model.CongestionLevel) (num, den int64) {
	switch level {
	case model.CongestionMedium:
		return 12, 10
	case model.CongestionHigh:
		return 15, 10
	default:
		return 10, 10
	}
}

func scale(v *big.Int, num, den int64) *big.Int {
	out := new(big.Int).Mul(v, big.NewInt(num))
	return out.Div(out, big.NewInt(den))
}

func bufferAndClamp(limit uint64, p model.GasPolicy) uint64 {
	buffered := new(big.Int).SetUint64(limit)
	buffered.Mul(buffered, big.NewInt(100+p.BufferPercent))
	buffered.Div(buffered, big.NewInt(100))
	if !buffered.IsUint64() {
		return clampLimit(^uint64(0), p)
	}
	return clampLimit(buffered.Uint64(), p)
}

func clampLimit(limit uint64, p model.GasPolicy) uint64 {
	if p.MaxGasLimit > 0 && limit > p.MaxGasLimit {
		limit = p.MaxGasLimit
	}
	if limit < p.MinGasLimit {
		limit = p.MinGasLimit
	}
	return limit
}

// applyLimits clamps prices to policy and derives GasPrice, TotalCost and
// IsWithinLimits from the unclamped RawGasPrice.
func applyLimits(est *model.GasEstimate, p model.GasPolicy) {
	est.GasPrice = new(big.Int).Set(est.RawGasPrice)
	est.IsWithinLimits = true
	if p.MaxGasPrice != nil && p.MaxGasPrice.Sign() > 0 {
		est.IsWithinLimits = est.RawGasPrice.Cmp(p.MaxGasPrice) <= 0
		est.GasPrice = minInt(est.GasPrice, p.MaxGasPrice)
		if est.MaxFeePerGas != nil {
			est.MaxFeePerGas = minInt(est.MaxFeePerGas, p.MaxGasPrice)
		}
	}
	if est.MaxPriorityFeePerGas != nil {
		if p.MaxPriorityFee != nil && p.MaxPriorityFee.Sign() > 0 {
			est.MaxPriorityFeePerGas = minInt(est.MaxPriorityFeePerGas, p.MaxPriorityFee)
		}
		if est.MaxFeePerGas != nil {
			est.MaxPriorityFeePerGas = minInt(est.MaxPriorityFeePerGas, est.MaxFeePerGas)
		}
	}
	est.TotalCost = new(big.Int).Mul(est.GasPrice, new(big.Int).SetUint64(est.GasLimit))
}

func minInt(a, b *big.Int) *big.Int {
	if a.Cmp(b) > 0 {
		return new(big.Int).Set(b)
	}
	return new(big.Int).Set(a)
}
