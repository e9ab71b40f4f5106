package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Metrics is the structured-metrics gauge set the reconciliation loop
// emits every period (§4.7 "emit structured metrics: equity, position
// count, drawdown %, per-symbol leverage"), adapted from the teacher's
// HealthLogger gauge-set-plus-registry construction.
type Metrics struct {
	registry      *prometheus.Registry
	equity        prometheus.Gauge
	positionCount prometheus.Gauge
	drawdownPct   prometheus.Gauge
	leverage      *prometheus.GaugeVec
	driftRatio    *prometheus.GaugeVec
	log           *zap.Logger
}

// NewMetrics builds and registers the gauge set against a fresh registry,
// the way the teacher's NewHealthLogger does, swapped from chain metrics
// to execution-core metrics.
func NewMetrics(log *zap.Logger) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "titan", Subsystem: "execution", Name: "equity",
			Help: "Current account equity across all venues.",
		}),
		positionCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "titan", Subsystem: "execution", Name: "open_position_count",
			Help: "Number of open positions across all venues.",
		}),
		drawdownPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "titan", Subsystem: "execution", Name: "drawdown_pct",
			Help: "Current drawdown as a fraction of peak equity.",
		}),
		leverage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "titan", Subsystem: "execution", Name: "leverage",
			Help: "Current leverage per symbol.",
		}, []string{"venue", "account", "symbol"}),
		driftRatio: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "titan", Subsystem: "execution", Name: "position_drift_ratio",
			Help: "Absolute local-vs-remote position size drift ratio per symbol.",
		}, []string{"venue", "account", "symbol"}),
		log: log,
	}
	reg.MustRegister(m.equity, m.positionCount, m.drawdownPct, m.leverage, m.driftRatio)
	return m
}

// Registry exposes the underlying prometheus.Registry for an HTTP
// /metrics handler to serve.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveEquity records current total equity.
func (m *Metrics) ObserveEquity(v float64) {
	m.equity.Set(v)
}

// ObserveDrawdownPct records the current drawdown ratio (0..1+).
func (m *Metrics) ObserveDrawdownPct(v float64) {
	m.drawdownPct.Set(v)
}

// ObservePositionCount records the number of currently open positions.
func (m *Metrics) ObservePositionCount(n int) {
	m.positionCount.Set(float64(n))
}

// ObserveLeverage records the current leverage for one (venue, account,
// symbol) triple.
func (m *Metrics) ObserveLeverage(venueName, account, symbol string, v float64) {
	m.leverage.WithLabelValues(venueName, account, symbol).Set(v)
}

// ObserveDrift records the current drift ratio for one (venue, account,
// symbol) triple.
func (m *Metrics) ObserveDrift(venueName, account, symbol string, ratio float64) {
	m.driftRatio.WithLabelValues(venueName, account, symbol).Set(ratio)
}

// HeartbeatPayload is the body published on titan.sys.heartbeat.v1.execution
// every reconcile period (§4.7 step 3).
type HeartbeatPayload struct {
	LeaderTerm    int64  `json:"leader_term"`
	Arm           string `json:"arm"`
	Halt          string `json:"halt"`
	RiskState     string `json:"risk_state"`
	OpenOrders    int    `json:"open_orders"`
	OpenPositions int    `json:"open_positions"`
	LastSeq       uint64 `json:"last_seq"`
}
