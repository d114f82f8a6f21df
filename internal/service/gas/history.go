package gas

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"time"

	"go.uber.org/zap"

	"wallet-safety/internal/model"
	"wallet-safety/pkg/cache"
)

// history is a fixed-capacity ring of samples, oldest first when flattened.
type history struct {
	samples []model.GasSample
	start   int
	size    int
}

func newHistory(capacity int) *history {
	return &history{samples: make([]model.GasSample, capacity)}
}

func (h *history) add(s model.GasSample) {
	c := len(h.samples)
	if h.size < c {
		h.samples[(h.start+h.size)%c] = s
		h.size++
		return
	}
	h.samples[h.start] = s
	h.start = (h.start + 1) % c
}

func (h *history) list() []model.GasSample {
	out := make([]model.GasSample, 0, h.size)
	for i := 0; i < h.size; i++ {
		out = append(out, h.samples[(h.start+i)%len(h.samples)])
	}
	return out
}

func historyKey(network string) string {
	return "gas:history:" + network
}

// load returns the network's ring, rehydrating it from cache on first use.
// Callers hold histMu.
func (e *Estimator) load(ctx context.Context, network string) *history {
	if h, ok := e.history[network]; ok {
		return h
	}
	h := newHistory(e.opts.HistorySize)
	var saved []model.GasSample
	err := e.cache.Get(ctx, historyKey(network), &saved)
	switch {
	case err == nil:
		for _, s := range saved {
			if s.GasPrice != nil {
				h.add(s)
			}
		}
	case !errors.Is(err, cache.ErrCacheMiss):
		e.log.Warn("Gas history rehydrate failed", zap.String("network", network), zap.Error(err))
	}
	e.history[network] = h
	return h
}

func (e *Estimator) record(ctx context.Context, network string, s model.GasSample) {
	e.histMu.Lock()
	h := e.load(ctx, network)
	h.add(s)
	snapshot := h.list()
	e.histMu.Unlock()

	if err := e.cache.Set(ctx, historyKey(network), snapshot, e.opts.HistoryTTL); err != nil {
		e.log.Warn("Gas history mirror failed", zap.String("network", network), zap.Error(err))
	}
}

// GetGasHistory summarises samples from the trailing period; period <= 0
// covers the whole retained history.
func (e *Estimator) GetGasHistory(ctx context.Context, network string, period time.Duration) (model.GasStats, error) {
	if _, err := e.Policy(network); err != nil {
		return model.GasStats{}, err
	}

	e.histMu.Lock()
	samples := e.load(ctx, network).list()
	e.histMu.Unlock()

	var prices []*big.Int
	cutoff := e.now().Add(-period)
	for _, s := range samples {
		if period > 0 && s.Timestamp.Before(cutoff) {
			continue
		}
		prices = append(prices, s.GasPrice)
	}
	return summarize(prices), nil
}

// summarize: median is the element at index n/2 of the ascending order.
func summarize(prices []*big.Int) model.GasStats {
	if len(prices) == 0 {
		return model.GasStats{
			Average: new(big.Int),
			Median:  new(big.Int),
			Min:     new(big.Int),
			Max:     new(big.Int),
		}
	}
	sorted := append([]*big.Int(nil), prices...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Cmp(sorted[j]) < 0 })

	sum := new(big.Int)
	for _, p := range sorted {
		sum.Add(sum, p)
	}
	n := len(sorted)
	return model.GasStats{
		Average: sum.Div(sum, big.NewInt(int64(n))),
		Median:  new(big.Int).Set(sorted[n/2]),
		Min:     new(big.Int).Set(sorted[0]),
		Max:     new(big.Int).Set(sorted[n-1]),
		Samples: n,
	}
}
