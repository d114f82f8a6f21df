package network

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallet-safety/internal/chain"
	"wallet-safety/internal/chain/chaintest"
	"wallet-safety/internal/model"
	"wallet-safety/internal/service/alert"
	"wallet-safety/pkg/cache"
	"wallet-safety/pkg/errno"
)

func gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000))
}

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}

func testPolicy() model.NetworkPolicy {
	return model.NetworkPolicy{
		Name: "polygon",
		Monitor: model.MonitorPolicy{
			PendingTxThreshold:        10,
			BlockDelayThreshold:       10 * time.Second,
			LargeTransactionThreshold: ether(1000),
			GasAlertThreshold:         gwei(500),
		},
	}
}

type fixture struct {
	monitor  *Monitor
	provider *chaintest.Provider
	alerts   *alert.Recorder
	cache    cache.Cache
}

func newFixture(t *testing.T, deps Deps) *fixture {
	t.Helper()
	p := chaintest.New("polygon", gwei(30))
	rec := &alert.Recorder{}
	if deps.Cache == nil {
		deps.Cache = cache.NewMemoryCache(0, time.Minute)
	}
	deps.Alerts = rec
	m, err := NewMonitor(
		map[string]chain.Provider{"polygon": p},
		map[string]model.NetworkPolicy{"polygon": testPolicy()},
		deps,
		Options{RefreshInterval: time.Hour, AlertBufferSize: 5, MinBackoff: 5 * time.Millisecond},
	)
	require.NoError(t, err)
	return &fixture{monitor: m, provider: p, alerts: rec, cache: deps.Cache}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		pending, threshold int
		want               model.CongestionLevel
	}{
		{0, 10, model.CongestionLow},
		{10, 10, model.CongestionLow},
		{11, 10, model.CongestionMedium},
		{15, 10, model.CongestionMedium},
		{16, 10, model.CongestionHigh},
		{100, 0, model.CongestionLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classify(tt.pending, tt.threshold), "pending=%d threshold=%d", tt.pending, tt.threshold)
	}
}

func TestNewMonitorRequiresPolicy(t *testing.T) {
	_, err := NewMonitor(map[string]chain.Provider{"bsc": chaintest.New("bsc", gwei(3))}, nil, Deps{}, Options{})
	assert.Error(t, err)
}

func TestUnsupportedNetwork(t *testing.T) {
	f := newFixture(t, Deps{})
	_, err := f.monitor.GetNetworkCongestion("solana")
	assert.ErrorIs(t, err, errno.ErrNetworkNotSupported)
	_, err = f.monitor.GetNetworkState("solana")
	assert.ErrorIs(t, err, errno.ErrNetworkNotSupported)
	assert.False(t, f.monitor.Supports("solana"))
}

func TestRefreshClassifiesPendingWindow(t *testing.T) {
	f := newFixture(t, Deps{})
	ctx := context.Background()

	for i := 0; i < 16; i++ {
		f.monitor.handlePending(ctx, "polygon", types.NewTx(&types.LegacyTx{Nonce: uint64(i), Value: big.NewInt(1)}))
	}
	f.monitor.refresh(ctx, "polygon")

	level, err := f.monitor.GetNetworkCongestion("polygon")
	require.NoError(t, err)
	assert.Equal(t, model.CongestionHigh, level)
	assert.Len(t, f.alerts.OfType(model.AlertHighCongestion), 1)

	state, _ := f.monitor.GetNetworkState("polygon")
	assert.Equal(t, 16, state.PendingTxCount)

	// the window resets after every refresh
	f.monitor.refresh(ctx, "polygon")
	level, _ = f.monitor.GetNetworkCongestion("polygon")
	assert.Equal(t, model.CongestionLow, level)

	for i := 0; i < 12; i++ {
		f.monitor.handlePending(ctx, "polygon", types.NewTx(&types.LegacyTx{Nonce: uint64(i)}))
	}
	f.monitor.refresh(ctx, "polygon")
	level, _ = f.monitor.GetNetworkCongestion("polygon")
	assert.Equal(t, model.CongestionMedium, level)
}

func TestRefreshGasTiersAndHighGasAlert(t *testing.T) {
	f := newFixture(t, Deps{})
	ctx := context.Background()

	f.monitor.refresh(ctx, "polygon")
	state, _ := f.monitor.GetNetworkState("polygon")
	assert.Equal(t, gwei(27), state.SafeGasPrice)
	assert.Equal(t, gwei(30), state.ProposeGasPrice)
	assert.Equal(t, new(big.Int).Div(new(big.Int).Mul(gwei(30), big.NewInt(125)), big.NewInt(100)), state.FastGasPrice)
	assert.Empty(t, f.alerts.OfType(model.AlertHighGasPrice))

	rec, err := f.monitor.GetRecommendedGasPrice("polygon")
	require.NoError(t, err)
	assert.Equal(t, gwei(30), rec)

	f.provider.SetGasPrice(gwei(600))
	f.monitor.refresh(ctx, "polygon")
	assert.Len(t, f.alerts.OfType(model.AlertHighGasPrice), 1)
}

func TestRecommendedGasPriceBeforeFirstRefresh(t *testing.T) {
	f := newFixture(t, Deps{})
	_, err := f.monitor.GetRecommendedGasPrice("polygon")
	assert.ErrorIs(t, err, ErrNoData)
}

func TestRefreshSurvivesProviderFailure(t *testing.T) {
	f := newFixture(t, Deps{})
	f.provider.SetFeeErr(errors.New("rpc down"))
	assert.NotPanics(t, func() { f.monitor.refresh(context.Background(), "polygon") })
	level, err := f.monitor.GetNetworkCongestion("polygon")
	require.NoError(t, err)
	assert.Equal(t, model.CongestionLow, level)
}

func TestLargePendingTransactionAlert(t *testing.T) {
	f := newFixture(t, Deps{})
	to := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	f.monitor.handlePending(context.Background(), "polygon", types.NewTx(&types.LegacyTx{To: &to, Value: ether(1001)}))
	f.monitor.handlePending(context.Background(), "polygon", types.NewTx(&types.LegacyTx{To: &to, Value: ether(10)}))

	large := f.alerts.OfType(model.AlertLargeTransaction)
	require.Len(t, large, 1)
	assert.Equal(t, to.Hex(), large[0].Payload["to"])
}

func TestBlockDelayAlert(t *testing.T) {
	f := newFixture(t, Deps{})
	now := time.Unix(1_700_000_000, 0)
	f.monitor.WithClock(func() time.Time { return now })

	f.monitor.handleBlock(context.Background(), "polygon", &types.Header{Number: big.NewInt(100), Time: uint64(now.Unix() - 2)})
	assert.Empty(t, f.alerts.OfType(model.AlertBlockDelay))

	f.monitor.handleBlock(context.Background(), "polygon", &types.Header{Number: big.NewInt(101), Time: uint64(now.Unix() - 60), BaseFee: gwei(25)})
	assert.Len(t, f.alerts.OfType(model.AlertBlockDelay), 1)

	state, _ := f.monitor.GetNetworkState("polygon")
	assert.EqualValues(t, 101, state.BlockNumber)
	assert.Equal(t, gwei(25), state.BaseFee)
}

func TestGetAlertsNewestFirstAndBounded(t *testing.T) {
	f := newFixture(t, Deps{})
	for i := 0; i < 7; i++ {
		f.monitor.raise(context.Background(), model.Alert{ID: string(rune('a' + i))})
	}
	all := f.monitor.GetAlerts(0)
	require.Len(t, all, 5)
	assert.Equal(t, "g", all[0].ID)
	assert.Equal(t, "c", all[4].ID)

	two := f.monitor.GetAlerts(2)
	assert.Equal(t, []string{"g", "f"}, []string{two[0].ID, two[1].ID})
}

func TestSnapshotRestore(t *testing.T) {
	shared := cache.NewMemoryCache(0, time.Minute)
	first := newFixture(t, Deps{Cache: shared})
	first.monitor.handleBlock(context.Background(), "polygon", &types.Header{Number: big.NewInt(4242), Time: uint64(time.Now().Unix())})

	second := newFixture(t, Deps{Cache: shared})
	second.provider.SetFeeErr(errors.New("offline"))
	require.NoError(t, second.monitor.Start(context.Background()))
	defer second.monitor.Stop()

	state, err := second.monitor.GetNetworkState("polygon")
	require.NoError(t, err)
	assert.EqualValues(t, 4242, state.BlockNumber)
}

func TestStartStopSubscriptionLifecycle(t *testing.T) {
	f := newFixture(t, Deps{})
	ctx := context.Background()
	require.NoError(t, f.monitor.Start(ctx))

	require.Eventually(t, func() bool {
		h, p := f.provider.Subscribed()
		return h == 1 && p == 1
	}, time.Second, 5*time.Millisecond)

	require.True(t, f.provider.EmitHead(ctx, &types.Header{Number: big.NewInt(7), Time: uint64(time.Now().Unix())}))
	assert.Eventually(t, func() bool {
		s, _ := f.monitor.GetNetworkState("polygon")
		return s.BlockNumber == 7
	}, time.Second, 5*time.Millisecond)

	// a disconnect is followed by a fresh subscription
	f.provider.DropSubscriptions(errors.New("connection reset"))
	assert.Eventually(t, func() bool {
		h, p := f.provider.Subscribed()
		return h == 2 && p == 2
	}, time.Second, 5*time.Millisecond)

	f.monitor.Stop()
	assert.Equal(t, 0, f.provider.ActiveSubscriptions())
	f.monitor.Stop()
}

type statusRecorder struct {
	updates map[string]string
}

func (s *statusRecorder) UpdateStatus(_ context.Context, txHash, status string, _ uint64) (bool, error) {
	s.updates[txHash] = status
	return true, nil
}

type staticBook []string

func (b staticBook) Addresses(context.Context, string) ([]string, error) { return b, nil }

func TestReconcilePlatformTransactions(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	own := crypto.PubkeyToAddress(key.PublicKey)
	stranger := common.HexToAddress("0x00000000000000000000000000000000000000cc")

	signer := types.LatestSignerForChainID(big.NewInt(137))
	ours, err := types.SignTx(types.NewTx(&types.LegacyTx{Nonce: 0, To: &stranger, Value: big.NewInt(1), Gas: 21000, GasPrice: gwei(30)}), signer, key)
	require.NoError(t, err)
	otherKey, _ := crypto.GenerateKey()
	theirs, err := types.SignTx(types.NewTx(&types.LegacyTx{Nonce: 0, To: &stranger, Value: big.NewInt(1), Gas: 21000, GasPrice: gwei(30)}), signer, otherKey)
	require.NoError(t, err)

	updates := &statusRecorder{updates: map[string]string{}}
	f := newFixture(t, Deps{Addresses: staticBook{own.Hex()}, Transactions: updates})

	header := &types.Header{Number: big.NewInt(50), Time: uint64(time.Now().Unix())}
	f.provider.SetBlock(types.NewBlockWithHeader(header).WithBody(types.Body{Transactions: []*types.Transaction{ours, theirs}}))
	f.provider.SetReceipt(&types.Receipt{TxHash: ours.Hash(), Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(50)})

	f.monitor.handleBlock(context.Background(), "polygon", header)

	assert.Equal(t, map[string]string{ours.Hash().Hex(): model.TxStatusFailed}, updates.updates)
}
