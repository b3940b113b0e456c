package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// FlywheelMetrics records reward accrual, distribution and claim activity.
type FlywheelMetrics struct {
	accruals    *prometheus.CounterVec
	distributed *prometheus.CounterVec
	claims      *prometheus.CounterVec
	claimed     *prometheus.CounterVec
	height      prometheus.Gauge
}

var (
	flywheelOnce     sync.Once
	flywheelRegistry *FlywheelMetrics
)

// Flywheel returns the process-wide metrics registered on the default
// prometheus registry.
func Flywheel() *FlywheelMetrics {
	flywheelOnce.Do(func() {
		flywheelRegistry = NewFlywheelMetrics(prometheus.DefaultRegisterer)
	})
	return flywheelRegistry
}

// NewFlywheelMetrics builds the collectors and registers them on reg.
func NewFlywheelMetrics(reg prometheus.Registerer) *FlywheelMetrics {
	m := &FlywheelMetrics{
		accruals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lendfarm",
			Subsystem: "flywheel",
			Name:      "accruals_total",
			Help:      "Accrual attempts by stream kind, side and outcome.",
		}, []string{"stream", "side", "outcome"}),
		distributed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lendfarm",
			Subsystem: "flywheel",
			Name:      "distributed_units_total",
			Help:      "Reward units credited to pending balances.",
		}, []string{"stream", "side"}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lendfarm",
			Subsystem: "flywheel",
			Name:      "claims_total",
			Help:      "Claim settlements by stream kind and outcome.",
		}, []string{"stream", "outcome"}),
		claimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lendfarm",
			Subsystem: "flywheel",
			Name:      "claimed_units_total",
			Help:      "Reward units paid out by claims.",
		}, []string{"stream"}),
		height: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lendfarm",
			Subsystem: "flywheel",
			Name:      "block_height",
			Help:      "Logical block height of the last committed action.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.accruals, m.distributed, m.claims, m.claimed, m.height)
	}
	return m
}

func (m *FlywheelMetrics) ObserveAccrual(stream, side, outcome string) {
	if m == nil {
		return
	}
	m.accruals.WithLabelValues(stream, side, outcome).Inc()
}

func (m *FlywheelMetrics) ObserveDistributed(stream, side string, amount *big.Int) {
	if m == nil {
		return
	}
	m.distributed.WithLabelValues(stream, side).Add(toFloat(amount))
}

func (m *FlywheelMetrics) ObserveClaim(stream, outcome string, amount *big.Int) {
	if m == nil {
		return
	}
	m.claims.WithLabelValues(stream, outcome).Inc()
	if amount != nil && amount.Sign() > 0 {
		m.claimed.WithLabelValues(stream).Add(toFloat(amount))
	}
}

func (m *FlywheelMetrics) SetHeight(height uint64) {
	if m == nil {
		return
	}
	m.height.Set(float64(height))
}

func toFloat(amount *big.Int) float64 {
	if amount == nil || amount.Sign() <= 0 {
		return 0
	}
	value, _ := new(big.Float).SetInt(amount).Float64()
	return value
}
