package gas

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallet-safety/internal/chain"
	"wallet-safety/internal/chain/chaintest"
	"wallet-safety/internal/model"
	"wallet-safety/pkg/cache"
	"wallet-safety/pkg/errno"
)

func gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000))
}

type fakeConditions struct {
	mu    sync.Mutex
	level model.CongestionLevel
	err   error
}

func (f *fakeConditions) set(l model.CongestionLevel) {
	f.mu.Lock()
	f.level = l
	f.mu.Unlock()
}

func (f *fakeConditions) GetNetworkCongestion(string) (model.CongestionLevel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.level, f.err
}

func polygonPolicy() model.NetworkPolicy {
	return model.NetworkPolicy{
		Name: "polygon",
		Gas: model.GasPolicy{
			EIP1559:         true,
			DefaultGasLimit: 21000,
			MinGasLimit:     21000,
			MaxGasLimit:     1_000_000,
			BufferPercent:   20,
			MaxGasPrice:     gwei(100),
			MaxPriorityFee:  gwei(30),
		},
	}
}

func bscPolicy() model.NetworkPolicy {
	return model.NetworkPolicy{
		Name: "bsc",
		Gas: model.GasPolicy{
			DefaultGasLimit: 21000,
			MinGasLimit:     21000,
			MaxGasLimit:     30000,
			BufferPercent:   15,
			MaxGasPrice:     gwei(20),
		},
	}
}

type fixture struct {
	est        *Estimator
	polygon    *chaintest.Provider
	bsc        *chaintest.Provider
	conditions *fakeConditions
	cache      cache.Cache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	poly := chaintest.New("polygon", gwei(30))
	bsc := chaintest.New("bsc", gwei(3))
	cond := &fakeConditions{level: model.CongestionLow}
	c := cache.NewMemoryCache(0, time.Minute)
	est := NewEstimator(
		map[string]chain.Provider{"polygon": poly, "bsc": bsc},
		map[string]model.NetworkPolicy{"polygon": polygonPolicy(), "bsc": bscPolicy()},
		c, cond, Options{HistorySize: 4},
	)
	return &fixture{est: est, polygon: poly, bsc: bsc, conditions: cond, cache: c}
}

func TestEstimateGasUnsupportedNetwork(t *testing.T) {
	f := newFixture(t)
	_, err := f.est.EstimateGas(context.Background(), "solana", model.TxRequest{})
	assert.ErrorIs(t, err, errno.ErrNetworkNotSupported)
	_, err = f.est.GetGasHistory(context.Background(), "solana", time.Hour)
	assert.ErrorIs(t, err, errno.ErrNetworkNotSupported)
}

func TestCongestionMultiplier(t *testing.T) {
	tests := []struct {
		level model.CongestionLevel
		want  *big.Int
	}{
		{model.CongestionLow, gwei(30)},
		{model.CongestionMedium, gwei(36)},
		{model.CongestionHigh, gwei(45)},
	}
	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			f := newFixture(t)
			f.conditions.set(tt.level)
			est, err := f.est.EstimateGas(context.Background(), "polygon", model.TxRequest{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, est.GasPrice)
			assert.Equal(t, tt.level, est.Congestion)
			assert.True(t, est.IsWithinLimits)
		})
	}
}

func TestGasPriceClampingComparesRawPrice(t *testing.T) {
	limit := gwei(20)
	for _, raw := range []int64{1, 10, 16, 17, 20, 21, 50, 400} {
		for _, level := range []model.CongestionLevel{model.CongestionLow, model.CongestionMedium, model.CongestionHigh} {
			f := newFixture(t)
			f.bsc.SetGasPrice(gwei(raw))
			f.conditions.set(level)

			est, err := f.est.EstimateGas(context.Background(), "bsc", model.TxRequest{})
			require.NoError(t, err)

			num, den := multiplier(level)
			adjusted := scale(gwei(raw), num, den)
			assert.True(t, est.GasPrice.Cmp(limit) <= 0, "raw=%d level=%s", raw, level)
			assert.Equal(t, adjusted.Cmp(limit) <= 0, est.IsWithinLimits, "raw=%d level=%s", raw, level)
			assert.Equal(t, adjusted, est.RawGasPrice)
			assert.Equal(t, new(big.Int).Mul(est.GasPrice, new(big.Int).SetUint64(est.GasLimit)), est.TotalCost)
		}
	}
}

func TestGasLimitBufferAndClamp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	est, err := f.est.EstimateGas(ctx, "polygon", model.TxRequest{})
	require.NoError(t, err)
	assert.EqualValues(t, 25200, est.GasLimit)

	est, err = f.est.EstimateGas(ctx, "bsc", model.TxRequest{})
	require.NoError(t, err)
	assert.EqualValues(t, 24150, est.GasLimit)

	f.bsc.GasLimit = 50000
	est, err = f.est.EstimateGas(ctx, "bsc", model.TxRequest{Data: []byte{0xa9, 0x05}})
	require.NoError(t, err)
	assert.EqualValues(t, 30000, est.GasLimit)
}

func TestGasLimitEstimationFailureFallsBack(t *testing.T) {
	f := newFixture(t)
	f.polygon.EstimateErr = errors.New("execution reverted")

	est, err := f.est.EstimateGas(context.Background(), "polygon", model.TxRequest{})
	require.NoError(t, err)
	assert.EqualValues(t, 25200, est.GasLimit)
}

func TestFeeDataFailureIsAnError(t *testing.T) {
	f := newFixture(t)
	f.polygon.SetFeeErr(errors.New("rpc down"))
	_, err := f.est.EstimateGas(context.Background(), "polygon", model.TxRequest{})
	assert.Error(t, err)
}

func TestEIP1559FeesClamped(t *testing.T) {
	f := newFixture(t)
	f.polygon.Fee = &chain.FeeData{
		GasPrice:             gwei(30),
		BaseFee:              gwei(60),
		MaxFeePerGas:         gwei(90),
		MaxPriorityFeePerGas: gwei(40),
	}
	f.conditions.set(model.CongestionMedium)

	est, err := f.est.EstimateGas(context.Background(), "polygon", model.TxRequest{})
	require.NoError(t, err)
	assert.Equal(t, gwei(100), est.MaxFeePerGas) // 108 clamped
	assert.Equal(t, gwei(30), est.MaxPriorityFeePerGas)
}

func TestCachedEstimateRevalidated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.est.EstimateGas(ctx, "bsc", model.TxRequest{})
	require.NoError(t, err)

	f.bsc.SetGasPrice(gwei(15))
	cached, err := f.est.EstimateGas(ctx, "bsc", model.TxRequest{})
	require.NoError(t, err)
	assert.Equal(t, first.GasPrice, cached.GasPrice)

	p := bscPolicy().Gas
	p.MaxGasPrice = gwei(2)
	require.NoError(t, f.est.UpdatePolicy("bsc", p))

	cached, err = f.est.EstimateGas(ctx, "bsc", model.TxRequest{})
	require.NoError(t, err)
	assert.Equal(t, gwei(2), cached.GasPrice)
	assert.False(t, cached.IsWithinLimits)
}

func TestUpdatePolicyValidation(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.est.UpdatePolicy("solana", model.GasPolicy{}), errno.ErrNetworkNotSupported)
	assert.Error(t, f.est.UpdatePolicy("bsc", model.GasPolicy{MinGasLimit: 2, MaxGasLimit: 1}))
}

func TestGasHistoryStats(t *testing.T) {
	f := newFixture(t)
	now := time.Unix(1_700_000_000, 0)
	f.est.WithClock(func() time.Time { return now })
	ctx := context.Background()

	stats, err := f.est.GetGasHistory(ctx, "polygon", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Samples)
	assert.Equal(t, int64(0), stats.Median.Int64())

	for i, p := range []int64{40, 10, 30, 20} {
		f.est.record(ctx, "polygon", model.GasSample{GasPrice: big.NewInt(p), Timestamp: now.Add(-time.Duration(i) * time.Minute)})
	}
	stats, err = f.est.GetGasHistory(ctx, "polygon", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Samples)
	assert.EqualValues(t, 25, stats.Average.Int64())
	assert.EqualValues(t, 30, stats.Median.Int64()) // sorted[4/2]
	assert.EqualValues(t, 10, stats.Min.Int64())
	assert.EqualValues(t, 40, stats.Max.Int64())

	// only the last two minutes
	stats, err = f.est.GetGasHistory(ctx, "polygon", 90*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Samples)

	// capacity is 4: the oldest sample (40) is evicted
	f.est.record(ctx, "polygon", model.GasSample{GasPrice: big.NewInt(5), Timestamp: now})
	stats, _ = f.est.GetGasHistory(ctx, "polygon", 0)
	assert.Equal(t, 4, stats.Samples)
	assert.EqualValues(t, 30, stats.Max.Int64())
}

func TestGasHistoryRehydratesFromCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.est.EstimateGas(ctx, "polygon", model.TxRequest{})
	require.NoError(t, err)

	restarted := NewEstimator(
		map[string]chain.Provider{"polygon": f.polygon},
		map[string]model.NetworkPolicy{"polygon": polygonPolicy()},
		f.cache, f.conditions, Options{},
	)
	stats, err := restarted.GetGasHistory(ctx, "polygon", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Samples)
	assert.Equal(t, gwei(30), stats.Median)
}

func TestHistoryRingOrder(t *testing.T) {
	h := newHistory(3)
	for i := int64(1); i <= 5; i++ {
		h.add(model.GasSample{GasPrice: big.NewInt(i)})
	}
	var got []int64
	for _, s := range h.list() {
		got = append(got, s.GasPrice.Int64())
	}
	assert.Equal(t, []int64{3, 4, 5}, got)
}
