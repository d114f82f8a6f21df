// Package network tracks live chain conditions for every supported network.
package network

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"go.uber.org/zap"

	"wallet-safety/internal/chain"
	"wallet-safety/internal/model"
	"wallet-safety/internal/service/alert"
	"wallet-safety/pkg/cache"
	"wallet-safety/pkg/errno"
	"wallet-safety/pkg/logger"
	"wallet-safety/pkg/monitor"
	"wallet-safety/pkg/units"
)

// ErrNoData is returned for a supported network whose gas price has not been observed yet.
var ErrNoData = errors.New("network state not observed yet")

// AddressBook lists the platform's own addresses on a network.
type AddressBook interface {
	Addresses(ctx context.Context, network string) ([]string, error)
}

// TxStatusUpdater reconciles the status of platform transactions.
type TxStatusUpdater interface {
	UpdateStatus(ctx context.Context, txHash, status string, blockNumber uint64) (bool, error)
}

type Deps struct {
	Cache        cache.Cache
	Alerts       alert.Sink
	Addresses    AddressBook     // optional
	Transactions TxStatusUpdater // optional
}

type Options struct {
	RefreshInterval time.Duration
	AlertBufferSize int
	SnapshotTTL     time.Duration
	MinBackoff      time.Duration
	MaxBackoff      time.Duration
}

func (o *Options) setDefaults() {
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = 15 * time.Second
	}
	if o.AlertBufferSize <= 0 {
		o.AlertBufferSize = 1000
	}
	if o.SnapshotTTL <= 0 {
		o.SnapshotTTL = time.Hour
	}
	if o.MinBackoff <= 0 {
		o.MinBackoff = time.Second
	}
	if o.MaxBackoff < o.MinBackoff {
		o.MaxBackoff = 30 * o.MinBackoff
	}
}

// Monitor is the single writer of every NetworkState.
type Monitor struct {
	providers map[string]chain.Provider
	networks  map[string]*networkState
	deps      Deps
	opts      Options
	now       func() time.Time
	log       *zap.Logger

	alertsMu sync.Mutex
	alerts   []model.Alert
	alertPos int

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	subsMu sync.Mutex
	subs   map[ethereum.Subscription]struct{}
}

type networkState struct {
	mu     sync.RWMutex
	policy model.MonitorPolicy
	state  model.NetworkState
	window int // pending transactions seen since the last refresh
}

func NewMonitor(providers map[string]chain.Provider, policies map[string]model.NetworkPolicy, deps Deps, opts Options) (*Monitor, error) {
	opts.setDefaults()
	m := &Monitor{
		providers: providers,
		networks:  make(map[string]*networkState, len(providers)),
		deps:      deps,
		opts:      opts,
		now:       time.Now,
		log:       logger.Named("network"),
		alerts:    make([]model.Alert, 0, opts.AlertBufferSize),
		subs:      make(map[ethereum.Subscription]struct{}),
	}
	for name := range providers {
		p, ok := policies[name]
		if !ok {
			return nil, fmt.Errorf("network %s has a provider but no policy", name)
		}
		m.networks[name] = &networkState{
			policy: p.Monitor,
			state:  model.NetworkState{Network: name, Congestion: model.CongestionLow},
		}
	}
	return m, nil
}

// WithClock replaces the time source, for tests.
func (m *Monitor) WithClock(now func() time.Time) *Monitor {
	m.now = now
	return m
}

// Start restores snapshots, performs an initial refresh and begins watching
// every network. It returns once the watchers are running.
func (m *Monitor) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.running = true

	for name := range m.networks {
		m.restore(ctx, name)
		m.refresh(ctx, name)
	}
	for name := range m.networks {
		m.wg.Add(3)
		go m.watchHeads(runCtx, name)
		go m.watchPending(runCtx, name)
		go m.refreshLoop(runCtx, name)
	}
	m.log.Info("Network monitor started", zap.Strings("networks", m.Networks()))
	return nil
}

// Stop cancels the refresh timers, unsubscribes every listener and waits for
// all watcher goroutines to exit.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return
	}
	m.cancel()

	m.subsMu.Lock()
	for sub := range m.subs {
		sub.Unsubscribe()
	}
	m.subsMu.Unlock()

	m.wg.Wait()
	m.running = false
	m.log.Info("Network monitor stopped")
}

func (m *Monitor) Networks() []string {
	out := make([]string, 0, len(m.networks))
	for name := range m.networks {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (m *Monitor) Supports(network string) bool {
	_, ok := m.networks[network]
	return ok
}

func (m *Monitor) lookup(network string) (*networkState, error) {
	ns, ok := m.networks[network]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errno.ErrNetworkNotSupported, network)
	}
	return ns, nil
}

func (m *Monitor) GetNetworkState(network string) (model.NetworkState, error) {
	ns, err := m.lookup(network)
	if err != nil {
		return model.NetworkState{}, err
	}
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return ns.state.Clone(), nil
}

func (m *Monitor) States() []model.NetworkState {
	out := make([]model.NetworkState, 0, len(m.networks))
	for _, name := range m.Networks() {
		s, _ := m.GetNetworkState(name)
		out = append(out, s)
	}
	return out
}

func (m *Monitor) GetNetworkCongestion(network string) (model.CongestionLevel, error) {
	ns, err := m.lookup(network)
	if err != nil {
		return "", err
	}
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return ns.state.Congestion, nil
}

// GetRecommendedGasPrice returns the "propose" tier.
func (m *Monitor) GetRecommendedGasPrice(network string) (*big.Int, error) {
	ns, err := m.lookup(network)
	if err != nil {
		return nil, err
	}
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	if ns.state.ProposeGasPrice == nil {
		return nil, ErrNoData
	}
	return new(big.Int).Set(ns.state.ProposeGasPrice), nil
}

// GetAlerts returns up to limit alerts, newest first. limit <= 0 means all retained.
func (m *Monitor) GetAlerts(limit int) []model.Alert {
	m.alertsMu.Lock()
	defer m.alertsMu.Unlock()

	n := len(m.alerts)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]model.Alert, 0, limit)
	for i := 0; i < limit; i++ {
		// alertPos is the next write slot; walk backwards from it.
		idx := (m.alertPos - 1 - i + n) % n
		out = append(out, m.alerts[idx])
	}
	return out
}

func (m *Monitor) raise(ctx context.Context, a model.Alert) {
	m.alertsMu.Lock()
	if len(m.alerts) < m.opts.AlertBufferSize {
		m.alerts = append(m.alerts, a)
	} else {
		m.alerts[m.alertPos] = a
	}
	m.alertPos = (m.alertPos + 1) % m.opts.AlertBufferSize
	m.alertsMu.Unlock()

	alert.Emit(ctx, m.deps.Alerts, a)
}

func (m *Monitor) snapshotKey(network string) string {
	return "network:state:" + network
}

func (m *Monitor) snapshot(ctx context.Context, network string, s model.NetworkState) {
	if m.deps.Cache == nil {
		return
	}
	if err := m.deps.Cache.Set(ctx, m.snapshotKey(network), s, m.opts.SnapshotTTL); err != nil {
		m.log.Warn("State snapshot failed", zap.String("network", network), zap.Error(err))
	}
}

// restore is best-effort; a missing snapshot is normal on first start.
func (m *Monitor) restore(ctx context.Context, network string) {
	if m.deps.Cache == nil {
		return
	}
	var s model.NetworkState
	err := m.deps.Cache.Get(ctx, m.snapshotKey(network), &s)
	if errors.Is(err, cache.ErrCacheMiss) {
		return
	}
	if err != nil {
		m.log.Warn("State restore failed", zap.String("network", network), zap.Error(err))
		return
	}
	s.Network = network
	if s.Congestion == "" {
		s.Congestion = model.CongestionLow
	}
	ns := m.networks[network]
	ns.mu.Lock()
	ns.state = s
	ns.mu.Unlock()
	m.log.Info("Network state restored", zap.String("network", network), zap.Uint64("block", s.BlockNumber))
}

func (m *Monitor) track(sub ethereum.Subscription) {
	m.subsMu.Lock()
	m.subs[sub] = struct{}{}
	m.subsMu.Unlock()
}

func (m *Monitor) untrack(sub ethereum.Subscription) {
	m.subsMu.Lock()
	delete(m.subs, sub)
	m.subsMu.Unlock()
	sub.Unsubscribe()
}

func (m *Monitor) refreshLoop(ctx context.Context, network string) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.opts.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.refresh(ctx, network)
		}
	}
}

// refresh re-reads gas price and classifies congestion from the pending
// transactions seen since the previous refresh.
func (m *Monitor) refresh(ctx context.Context, network string) {
	ns := m.networks[network]
	fee, feeErr := m.providers[network].FeeData(ctx)
	if feeErr != nil {
		m.log.Warn("Gas price refresh failed", zap.String("network", network), zap.Error(feeErr))
	}

	now := m.now()
	ns.mu.Lock()
	count := ns.window
	ns.window = 0
	prev := ns.state.Congestion
	level := classify(count, ns.policy.PendingTxThreshold)
	ns.state.PendingTxCount = count
	ns.state.Congestion = level
	if fee != nil && fee.GasPrice != nil {
		ns.state.GasPrice = new(big.Int).Set(fee.GasPrice)
		ns.state.SafeGasPrice = percentOf(fee.GasPrice, 90)
		ns.state.ProposeGasPrice = new(big.Int).Set(fee.GasPrice)
		ns.state.FastGasPrice = percentOf(fee.GasPrice, 125)
		if fee.BaseFee != nil {
			ns.state.BaseFee = new(big.Int).Set(fee.BaseFee)
		}
	}
	ns.state.UpdatedAt = now
	snap := ns.state.Clone()
	policy := ns.policy
	ns.mu.Unlock()

	monitor.Engine.PendingTxWindow.WithLabelValues(network).Set(float64(count))
	monitor.Engine.CongestionLevel.WithLabelValues(network).Set(level.Gauge())
	if snap.GasPrice != nil {
		monitor.Engine.GasPriceGwei.WithLabelValues(network).Set(units.WeiToGwei(snap.GasPrice))
	}

	if level == model.CongestionHigh && prev != model.CongestionHigh {
		m.raise(ctx, alert.New(model.AlertHighCongestion, model.SeverityHigh, network,
			"Network congestion is HIGH",
			map[string]string{"pending_tx": fmt.Sprint(count), "threshold": fmt.Sprint(policy.PendingTxThreshold)}))
	}
	if feeErr == nil && fee != nil && fee.GasPrice != nil && positive(policy.GasAlertThreshold) &&
		fee.GasPrice.Cmp(policy.GasAlertThreshold) > 0 {
		m.raise(ctx, alert.New(model.AlertHighGasPrice, model.SeverityWarning, network,
			"Gas price above alert threshold",
			map[string]string{"gas_price": fee.GasPrice.String(), "threshold": policy.GasAlertThreshold.String()}))
	}

	m.snapshot(ctx, network, snap)
}

// classify: HIGH above 1.5x the threshold, MEDIUM above 1x, else LOW.
func classify(pending, threshold int) model.CongestionLevel {
	switch {
	case threshold <= 0:
		return model.CongestionLow
	case pending*2 > threshold*3:
		return model.CongestionHigh
	case pending > threshold:
		return model.CongestionMedium
	default:
		return model.CongestionLow
	}
}

func percentOf(v *big.Int, pct int64) *big.Int {
	out := new(big.Int).Mul(v, big.NewInt(pct))
	return out.Div(out, big.NewInt(100))
}

func positive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}
