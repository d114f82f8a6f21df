package monitor

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics groups the collectors recorded by the safety engine.
type EngineMetrics struct {
	BlockHeight         *prometheus.GaugeVec
	GasPriceGwei        *prometheus.GaugeVec
	PendingTxWindow     *prometheus.GaugeVec
	CongestionLevel     *prometheus.GaugeVec
	AlertsTotal         *prometheus.CounterVec
	RPCFailuresTotal    *prometheus.CounterVec
	ValidationsTotal    *prometheus.CounterVec
	GasEstimateDuration *prometheus.HistogramVec
	RecoveryTransitions *prometheus.CounterVec

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// Engine is always non-nil; Init only registers it with the default registry.
var Engine = newEngineMetrics()

var registerOnce sync.Once

func newEngineMetrics() *EngineMetrics {
	return &EngineMetrics{
		BlockHeight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "safety_network_block_height",
			Help: "Last observed block height per network",
		}, []string{"network"}),
		GasPriceGwei: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "safety_network_gas_price_gwei",
			Help: "Current provider gas price per network",
		}, []string{"network"}),
		PendingTxWindow: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "safety_network_pending_tx_window",
			Help: "Pending transactions seen in the last refresh window",
		}, []string{"network"}),
		CongestionLevel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "safety_network_congestion_level",
			Help: "Congestion classification (0=LOW, 1=MEDIUM, 2=HIGH)",
		}, []string{"network"}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "safety_alerts_total",
			Help: "Alerts raised by type and severity",
		}, []string{"type", "severity"}),
		RPCFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "safety_rpc_failures_total",
			Help: "Failed RPC calls per network and method",
		}, []string{"network", "method"}),
		ValidationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "safety_validations_total",
			Help: "Transaction validations by network and outcome",
		}, []string{"network", "outcome"}),
		GasEstimateDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "safety_gas_estimate_duration_seconds",
			Help:    "Gas estimation latency",
			Buckets: []float64{0.01, 0.05, 0.1, 0.3, 0.5, 1.0, 2.0},
		}, []string{"network", "source"}),
		RecoveryTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "safety_recovery_transitions_total",
			Help: "Recovery request transitions by type and target status",
		}, []string{"type", "status"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency distributions.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.3, 0.5, 1.0, 2.0},
		}, []string{"method", "path"}),
	}
}

// Init registers the engine collectors with the default Prometheus registry.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			Engine.BlockHeight,
			Engine.GasPriceGwei,
			Engine.PendingTxWindow,
			Engine.CongestionLevel,
			Engine.AlertsTotal,
			Engine.RPCFailuresTotal,
			Engine.ValidationsTotal,
			Engine.GasEstimateDuration,
			Engine.RecoveryTransitions,
			Engine.HTTPRequestsTotal,
			Engine.HTTPRequestDuration,
		)
	})
}
