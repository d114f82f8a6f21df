// Package security is the authorization gate for outbound mainnet transactions.
package security

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"wallet-safety/internal/model"
	"wallet-safety/internal/service/alert"
	"wallet-safety/pkg/cache"
	"wallet-safety/pkg/errno"
	"wallet-safety/pkg/logger"
	"wallet-safety/pkg/monitor"
	"wallet-safety/pkg/utils/lock"
)

// Conditions is the live network view; the network monitor satisfies it.
type Conditions interface {
	GetNetworkCongestion(network string) (model.CongestionLevel, error)
	GetRecommendedGasPrice(network string) (*big.Int, error)
}

type GasEstimator interface {
	EstimateGas(ctx context.Context, network string, req model.TxRequest) (*model.GasEstimate, error)
}

// PendingCounter counts a wallet's PENDING transactions.
type PendingCounter interface {
	CountPendingByWallet(ctx context.Context, walletID uint64) (int, error)
}

// Result is a validation verdict. A rejection is a value, never an error.
type Result struct {
	IsValid bool        `json:"is_valid"`
	Reason  string      `json:"reason,omitempty"`
	Err     errno.Errno `json:"-"`
}

func accept() Result {
	return Result{IsValid: true}
}

func reject(e errno.Errno) Result {
	return Result{Reason: e.Message, Err: e}
}

type Deps struct {
	Conditions Conditions
	Gas        GasEstimator
	Pending    PendingCounter
	Cache      cache.Cache
	Locker     lock.Locker
	Alerts     alert.Sink // optional
}

type Options struct {
	HistorySize int
	ApprovalTTL time.Duration
	StateTTL    time.Duration
	// ReadThrough reloads wallet state from the cache on every access. Needed
	// when several instances share wallets behind a distributed lock.
	ReadThrough bool
	// ResidentTTL is how long an idle wallet's state stays in process memory.
	// It must outlast the longest cooldown when no Cache backs the validator.
	ResidentTTL time.Duration
}

type Validator struct {
	deps Deps
	opts Options
	now  func() time.Time
	log  *zap.Logger

	limitsMu sync.RWMutex
	limits   map[string]model.SecurityLimits

	// resident holds *walletState by wallet id; go-cache evicts idle wallets.
	resident *gocache.Cache

	blacklistMu sync.RWMutex
	blacklist   map[string]struct{}
}

func NewValidator(policies map[string]model.NetworkPolicy, deps Deps, opts Options) *Validator {
	if opts.HistorySize <= 0 {
		opts.HistorySize = 100
	}
	if opts.ApprovalTTL <= 0 {
		opts.ApprovalTTL = time.Hour
	}
	if opts.StateTTL <= 0 {
		opts.StateTTL = 7 * 24 * time.Hour
	}
	if opts.ResidentTTL <= 0 {
		opts.ResidentTTL = 24 * time.Hour
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewKeyedMutex()
	}
	limits := make(map[string]model.SecurityLimits, len(policies))
	for name, p := range policies {
		limits[name] = p.Limits
	}
	return &Validator{
		deps:      deps,
		opts:      opts,
		now:       time.Now,
		log:       logger.Named("security"),
		limits:    limits,
		resident:  gocache.New(opts.ResidentTTL, 10*time.Minute),
		blacklist: make(map[string]struct{}),
	}
}

func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

func (v *Validator) Limits(network string) (model.SecurityLimits, error) {
	v.limitsMu.RLock()
	defer v.limitsMu.RUnlock()
	l, ok := v.limits[network]
	if !ok {
		return model.SecurityLimits{}, fmt.Errorf("%w: %s", errno.ErrNetworkNotSupported, network)
	}
	return l, nil
}

// gasCeiling is implemented by estimators that clamp prices to their own policy.
type gasCeiling interface {
	Policy(network string) (model.GasPolicy, error)
	UpdatePolicy(network string, p model.GasPolicy) error
}

// UpdateLimits hot-swaps a network's limits; in-flight validations keep the copy they started with.
// A new MaxGasPrice is pushed to the estimator so both sides clamp to the same ceiling.
func (v *Validator) UpdateLimits(network string, l model.SecurityLimits) error {
	if l.MaxGasPrice == nil || l.MaxTransactionValue == nil {
		return errors.New("max gas price and max transaction value are required")
	}
	v.limitsMu.Lock()
	if _, ok := v.limits[network]; !ok {
		v.limitsMu.Unlock()
		return fmt.Errorf("%w: %s", errno.ErrNetworkNotSupported, network)
	}
	v.limits[network] = l
	v.limitsMu.Unlock()

	if g, ok := v.deps.Gas.(gasCeiling); ok {
		p, err := g.Policy(network)
		if err != nil {
			return err
		}
		p.MaxGasPrice = new(big.Int).Set(l.MaxGasPrice)
		if err := g.UpdatePolicy(network, p); err != nil {
			return err
		}
	}
	v.log.Info("Security limits updated", zap.String("network", network),
		zap.String("max_gas_price", l.MaxGasPrice.String()))
	return nil
}

// validation carries one call through the check pipeline.
type validation struct {
	network  string
	walletID uint64
	cand     model.TransactionCandidate
	txType   model.TxType
	limits   model.SecurityLimits
	state    *walletState
	now      time.Time
}

type check struct {
	name string
	run  func(v *Validator, ctx context.Context, c *validation) *errno.Errno
}

// checks run in this order and stop at the first failure.
var checks = []check{
	{"congestion", (*Validator).checkCongestion},
	{"gas_price", (*Validator).checkGasPrice},
	{"value", (*Validator).checkValue},
	{"cooldown", (*Validator).checkCooldown},
	{"pending", (*Validator).checkPending},
	{"guardians", (*Validator).checkGuardians},
	{"blacklist", (*Validator).checkBlacklist},
	{"pattern", (*Validator).checkPattern},
}

// ValidateMainnetTransaction decides whether cand may be signed. Checks for one
// wallet are serialized, and a passing validation reserves the wallet's
// cooldown slot, so concurrent callers for the same wallet admit at most one.
func (v *Validator) ValidateMainnetTransaction(ctx context.Context, network string, walletID uint64, cand model.TransactionCandidate, txType model.TxType) Result {
	limits, err := v.Limits(network)
	if err != nil {
		return v.finish(network, walletID, "network", reject(errno.ErrNetworkNotSupported))
	}

	unlock, err := v.deps.Locker.Lock(ctx, walletLockKey(walletID))
	if err != nil {
		v.log.Error("Wallet lock unavailable", zap.Uint64("wallet_id", walletID), zap.Error(err))
		return v.finish(network, walletID, "lock", reject(errno.ErrTryAgain))
	}
	defer unlock()

	c := &validation{
		network:  network,
		walletID: walletID,
		cand:     cand,
		txType:   txType,
		limits:   limits,
		now:      v.now(),
	}
	for _, chk := range checks {
		if e := chk.run(v, ctx, c); e != nil {
			return v.finish(network, walletID, chk.name, reject(*e))
		}
	}

	if c.limits.CooldownPeriod > 0 {
		c.state.LastTxAt = c.now
		if err := v.saveState(ctx, walletID, c.state); err != nil {
			v.log.Warn("Cooldown reservation not persisted", zap.Uint64("wallet_id", walletID), zap.Error(err))
		}
	}
	return v.finish(network, walletID, "", accept())
}

func (v *Validator) finish(network string, walletID uint64, stage string, r Result) Result {
	outcome := "valid"
	if !r.IsValid {
		outcome = stage
		v.log.Info("Transaction rejected",
			zap.String("network", network),
			zap.Uint64("wallet_id", walletID),
			zap.String("check", stage),
			zap.String("reason", r.Reason))
	}
	monitor.Engine.ValidationsTotal.WithLabelValues(network, outcome).Inc()
	return r
}

func (v *Validator) checkCongestion(_ context.Context, c *validation) *errno.Errno {
	level, err := v.deps.Conditions.GetNetworkCongestion(c.network)
	if err != nil {
		if errors.Is(err, errno.ErrNetworkNotSupported) {
			return &errno.ErrNetworkNotSupported
		}
		v.log.Warn("Congestion unavailable", zap.String("network", c.network), zap.Error(err))
		return &errno.ErrTryAgain
	}
	if level == model.CongestionHigh {
		return &errno.ErrCongestionTooHigh
	}
	return nil
}

// checkGasPrice resolves the effective price: explicit, then the monitor's
// recommendation, then a fresh estimate.
func (v *Validator) checkGasPrice(ctx context.Context, c *validation) *errno.Errno {
	price := c.cand.GasPrice
	if price == nil {
		if rec, err := v.deps.Conditions.GetRecommendedGasPrice(c.network); err == nil && rec != nil {
			price = rec
		}
	}
	if price == nil && v.deps.Gas != nil {
		est, err := v.deps.Gas.EstimateGas(ctx, c.network, model.TxRequest{
			From:  c.cand.From,
			To:    &c.cand.To,
			Value: c.cand.Value,
			Data:  c.cand.Data,
		})
		if err != nil {
			v.log.Warn("Gas price unavailable", zap.String("network", c.network), zap.Error(err))
			return &errno.ErrTryAgain
		}
		price = est.RawGasPrice
	}
	if price == nil {
		return &errno.ErrTryAgain
	}
	if price.Cmp(c.limits.MaxGasPrice) > 0 {
		return &errno.ErrGasPriceExceedsLimit
	}
	return nil
}

func (v *Validator) checkValue(_ context.Context, c *validation) *errno.Errno {
	if c.cand.ValueOrZero().Cmp(c.limits.MaxTransactionValue) > 0 {
		return &errno.ErrValueExceedsLimit
	}
	return nil
}

func (v *Validator) checkCooldown(ctx context.Context, c *validation) *errno.Errno {
	state, err := v.loadState(ctx, c.walletID)
	if err != nil {
		v.log.Warn("Wallet state unavailable", zap.Uint64("wallet_id", c.walletID), zap.Error(err))
		return &errno.ErrTryAgain
	}
	c.state = state
	if state.LastTxAt.IsZero() || c.limits.CooldownPeriod <= 0 {
		return nil
	}
	if c.now.Before(state.LastTxAt.Add(c.limits.CooldownPeriod)) {
		return &errno.ErrCooldownActive
	}
	return nil
}

func (v *Validator) checkPending(ctx context.Context, c *validation) *errno.Errno {
	if v.deps.Pending == nil || c.limits.MaxPendingTransactions <= 0 {
		return nil
	}
	n, err := v.deps.Pending.CountPendingByWallet(ctx, c.walletID)
	if err != nil {
		v.log.Warn("Pending count unavailable", zap.Uint64("wallet_id", c.walletID), zap.Error(err))
		return &errno.ErrTryAgain
	}
	if n >= c.limits.MaxPendingTransactions {
		return &errno.ErrPendingLimitReached
	}
	return nil
}

func (v *Validator) checkGuardians(ctx context.Context, c *validation) *errno.Errno {
	if c.cand.ValueOrZero().Cmp(c.limits.GuardianThreshold()) <= 0 {
		return nil
	}
	n, err := v.GuardianApprovalCount(ctx, c.walletID, c.cand.IntentHash())
	if err != nil {
		v.log.Warn("Guardian approvals unavailable", zap.Uint64("wallet_id", c.walletID), zap.Error(err))
		return &errno.ErrTryAgain
	}
	if n < c.limits.RequiredGuardians {
		return &errno.ErrInsufficientGuardianApprovals
	}
	return nil
}

func (v *Validator) checkBlacklist(ctx context.Context, c *validation) *errno.Errno {
	listed, err := v.IsBlacklisted(ctx, c.cand.To.Hex())
	if err != nil {
		v.log.Warn("Blacklist unavailable", zap.Error(err))
		return &errno.ErrTryAgain
	}
	if listed {
		v.raise(ctx, c, "Transfer to blacklisted address blocked")
		return &errno.ErrBlacklistedRecipient
	}
	return nil
}

const (
	burstWindow      = time.Hour
	burstLimit       = 10
	baselineWindow   = 24 * time.Hour
	valueSpikeFactor = 3
)

// checkPattern rejects bursts, value spikes against the 24h mean and
// first-time recipients. A wallet without 24h history has no baseline, so
// only the burst rule applies to it.
func (v *Validator) checkPattern(ctx context.Context, c *validation) *errno.Errno {
	if c.state == nil {
		return &errno.ErrSuspiciousPattern
	}
	var (
		lastHour  int
		dayCount  int64
		daySum    = new(big.Int)
		knownDest bool
	)
	for _, r := range c.state.History {
		age := c.now.Sub(r.Timestamp)
		if age < 0 || age > baselineWindow {
			continue
		}
		if age <= burstWindow {
			lastHour++
		}
		dayCount++
		if r.Value != nil {
			daySum.Add(daySum, r.Value)
		}
		if r.To == c.cand.To {
			knownDest = true
		}
	}

	reason := ""
	switch {
	case lastHour > burstLimit:
		reason = "burst"
	case dayCount > 0 && exceedsMeanFactor(c.cand.ValueOrZero(), daySum, dayCount):
		reason = "value_spike"
	case dayCount > 0 && !knownDest:
		reason = "new_recipient"
	}
	if reason == "" {
		return nil
	}
	v.log.Warn("Suspicious transaction pattern",
		zap.Uint64("wallet_id", c.walletID), zap.String("network", c.network), zap.String("rule", reason))
	v.raise(ctx, c, "Suspicious transaction pattern: "+reason)
	return &errno.ErrSuspiciousPattern
}

// exceedsMeanFactor reports value > factor * sum/count without integer truncation.
func exceedsMeanFactor(value, sum *big.Int, count int64) bool {
	lhs := new(big.Int).Mul(value, big.NewInt(count))
	rhs := new(big.Int).Mul(sum, big.NewInt(valueSpikeFactor))
	return lhs.Cmp(rhs) > 0
}

func (v *Validator) raise(ctx context.Context, c *validation, msg string) {
	if v.deps.Alerts == nil {
		return
	}
	alert.Emit(ctx, v.deps.Alerts, alert.New(model.AlertSecurityBreach, model.SeverityHigh, c.network, msg,
		alert.WalletPayload(c.walletID, "to", c.cand.To.Hex(), "value", c.cand.ValueOrZero().String())))
}

func walletLockKey(walletID uint64) string {
	return fmt.Sprintf("security:wallet:%d", walletID)
}
