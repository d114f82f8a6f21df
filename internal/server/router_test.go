package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"wallet-safety/internal/model"
	"wallet-safety/pkg/errno"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNetworks struct {
	states     map[string]model.NetworkState
	alerts     []model.Alert
	alertLimit int
}

func (f *fakeNetworks) States() []model.NetworkState {
	out := make([]model.NetworkState, 0, len(f.states))
	for _, s := range f.states {
		out = append(out, s)
	}
	return out
}

func (f *fakeNetworks) GetNetworkState(network string) (model.NetworkState, error) {
	s, ok := f.states[network]
	if !ok {
		return model.NetworkState{}, fmt.Errorf("%w: %s", errno.ErrNetworkNotSupported, network)
	}
	return s, nil
}

func (f *fakeNetworks) GetAlerts(limit int) []model.Alert {
	f.alertLimit = limit
	if limit < len(f.alerts) {
		return f.alerts[:limit]
	}
	return f.alerts
}

type fakeGas struct {
	period time.Duration
	err    error
}

func (f *fakeGas) GetGasHistory(_ context.Context, network string, period time.Duration) (model.GasStats, error) {
	f.period = period
	if f.err != nil {
		return model.GasStats{}, f.err
	}
	return model.GasStats{Average: big.NewInt(5e9), Samples: 3}, nil
}

type fakeLimits struct{}

func (fakeLimits) Limits(network string) (model.SecurityLimits, error) {
	if network != "bsc" {
		return model.SecurityLimits{}, errno.ErrNetworkNotSupported
	}
	return model.SecurityLimits{MaxGasPrice: big.NewInt(20e9), MaxTransactionValue: big.NewInt(100), RequiredGuardians: 2}, nil
}

type fakeRecovery struct {
	reqs   map[string]*model.RecoveryRequest
	freeze *model.FreezeRecord
}

func (f *fakeRecovery) GetRecoveryStatus(_ context.Context, id string) (*model.RecoveryRequest, error) {
	r, ok := f.reqs[id]
	if !ok {
		return nil, errno.ErrRecoveryNotFound
	}
	return r, nil
}

func (f *fakeRecovery) ListActiveRecoveries(_ context.Context, userID uint64) ([]*model.RecoveryRequest, error) {
	if userID == 99 {
		return nil, errors.New("redis: connection refused")
	}
	var out []*model.RecoveryRequest
	for _, r := range f.reqs {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRecovery) GetFreeze(_ context.Context, walletID uint64) (*model.FreezeRecord, error) {
	if f.freeze != nil && f.freeze.WalletID == walletID {
		return f.freeze, nil
	}
	return nil, nil
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"msg"`
	Data    json.RawMessage `json:"data"`
}

type routerRig struct {
	engine   *gin.Engine
	networks *fakeNetworks
	gas      *fakeGas
}

func newRouterRig(t *testing.T) *routerRig {
	t.Helper()
	gin.SetMode(gin.TestMode)

	networks := &fakeNetworks{
		states: map[string]model.NetworkState{
			"bsc": {Network: "bsc", BlockNumber: 42, Congestion: model.CongestionLow},
		},
		alerts: []model.Alert{
			{ID: "a2", Type: model.AlertHighCongestion, Severity: model.SeverityWarning},
			{ID: "a1", Type: model.AlertBlockDelay, Severity: model.SeverityWarning},
		},
	}
	gas := &fakeGas{}
	rec := &fakeRecovery{
		reqs: map[string]*model.RecoveryRequest{
			"r1": {ID: "r1", UserID: 10, WalletID: 1, Type: model.RecoveryEmergencyFreeze, Status: model.RecoveryPending},
		},
		freeze: &model.FreezeRecord{WalletID: 1, RequestID: "r1"},
	}

	return &routerRig{
		engine:   NewHTTPRouter(Services{Networks: networks, Gas: gas, Limits: fakeLimits{}, Recovery: rec}),
		networks: networks,
		gas:      gas,
	}
}

func (r *routerRig) get(t *testing.T, path string) (int, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.engine.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w.Code, env
}

func TestRouter_HealthAndPing(t *testing.T) {
	rig := newRouterRig(t)

	code, env := rig.get(t, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, errno.OK.Code, env.Code)
	assert.Contains(t, string(env.Data), `"UP"`)

	code, env = rig.get(t, "/api/v1/ping")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"pong":true}`, string(env.Data))
}

func TestRouter_MetricsExposesHTTPCounters(t *testing.T) {
	rig := newRouterRig(t)
	rig.get(t, "/api/v1/ping")

	w := httptest.NewRecorder()
	rig.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `http_requests_total{method="GET",path="/api/v1/ping",status="200"}`)
}

func TestRouter_Networks(t *testing.T) {
	rig := newRouterRig(t)

	_, env := rig.get(t, "/api/v1/networks/bsc")
	require.Equal(t, errno.OK.Code, env.Code)
	var state model.NetworkState
	require.NoError(t, json.Unmarshal(env.Data, &state))
	assert.Equal(t, uint64(42), state.BlockNumber)
	assert.Equal(t, model.CongestionLow, state.Congestion)

	_, env = rig.get(t, "/api/v1/networks/solana")
	assert.Equal(t, errno.ErrNetworkNotSupported.Code, env.Code)
	assert.Equal(t, errno.ErrNetworkNotSupported.Message, env.Message)

	_, env = rig.get(t, "/api/v1/networks")
	var states []model.NetworkState
	require.NoError(t, json.Unmarshal(env.Data, &states))
	assert.Len(t, states, 1)
}

func TestRouter_Limits(t *testing.T) {
	rig := newRouterRig(t)

	_, env := rig.get(t, "/api/v1/networks/bsc/limits")
	require.Equal(t, errno.OK.Code, env.Code)
	var limits model.SecurityLimits
	require.NoError(t, json.Unmarshal(env.Data, &limits))
	assert.Equal(t, 0, limits.MaxGasPrice.Cmp(big.NewInt(20e9)))
	assert.Equal(t, 2, limits.RequiredGuardians)
}

func TestRouter_GasHistoryPeriod(t *testing.T) {
	rig := newRouterRig(t)

	_, env := rig.get(t, "/api/v1/networks/bsc/gas?period=1h")
	require.Equal(t, errno.OK.Code, env.Code)
	assert.Equal(t, time.Hour, rig.gas.period)
	var stats model.GasStats
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, 3, stats.Samples)

	_, env = rig.get(t, "/api/v1/networks/bsc/gas")
	require.Equal(t, errno.OK.Code, env.Code)
	assert.Equal(t, time.Duration(0), rig.gas.period)

	_, env = rig.get(t, "/api/v1/networks/bsc/gas?period=yesterday")
	assert.Equal(t, errno.ErrBind.Code, env.Code)
}

func TestRouter_InfrastructureErrorsAreMasked(t *testing.T) {
	rig := newRouterRig(t)
	rig.gas.err = errors.New("dial tcp 10.0.0.7:8545: i/o timeout")

	_, env := rig.get(t, "/api/v1/networks/bsc/gas")
	assert.Equal(t, errno.ErrTryAgain.Code, env.Code)
	assert.NotContains(t, env.Message, "10.0.0.7")

	_, env = rig.get(t, "/api/v1/users/99/recoveries")
	assert.Equal(t, errno.ErrTryAgain.Code, env.Code)
	assert.NotContains(t, env.Message, "redis")
}

func TestRouter_Alerts(t *testing.T) {
	rig := newRouterRig(t)

	_, env := rig.get(t, "/api/v1/alerts")
	require.Equal(t, errno.OK.Code, env.Code)
	assert.Equal(t, 50, rig.networks.alertLimit)

	_, env = rig.get(t, "/api/v1/alerts?limit=1")
	var alerts []model.Alert
	require.NoError(t, json.Unmarshal(env.Data, &alerts))
	require.Len(t, alerts, 1)
	assert.Equal(t, "a2", alerts[0].ID)

	_, env = rig.get(t, "/api/v1/alerts?limit=-3")
	assert.Equal(t, errno.ErrBind.Code, env.Code)
}

func TestRouter_Recovery(t *testing.T) {
	rig := newRouterRig(t)

	_, env := rig.get(t, "/api/v1/recovery/r1")
	require.Equal(t, errno.OK.Code, env.Code)
	var req model.RecoveryRequest
	require.NoError(t, json.Unmarshal(env.Data, &req))
	assert.Equal(t, model.RecoveryPending, req.Status)

	_, env = rig.get(t, "/api/v1/recovery/missing")
	assert.Equal(t, errno.ErrRecoveryNotFound.Code, env.Code)

	_, env = rig.get(t, "/api/v1/users/10/recoveries")
	var reqs []model.RecoveryRequest
	require.NoError(t, json.Unmarshal(env.Data, &reqs))
	assert.Len(t, reqs, 1)

	_, env = rig.get(t, "/api/v1/users/11/recoveries")
	assert.JSONEq(t, `[]`, string(env.Data))

	_, env = rig.get(t, "/api/v1/users/abc/recoveries")
	assert.Equal(t, errno.ErrBind.Code, env.Code)
}

func TestRouter_Freeze(t *testing.T) {
	rig := newRouterRig(t)

	_, env := rig.get(t, "/api/v1/wallets/1/freeze")
	require.Equal(t, errno.OK.Code, env.Code)
	assert.Contains(t, string(env.Data), `"frozen":true`)

	_, env = rig.get(t, "/api/v1/wallets/2/freeze")
	assert.JSONEq(t, `{"frozen":false,"freeze":null}`, string(env.Data))
}
