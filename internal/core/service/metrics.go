package service

import (
	"math/big"
	"sync"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rl1809/secondhand-shop/internal/core/domain"
)

type Metrics struct {
	operations    *prometheus.CounterVec
	blocked       *prometheus.GaugeVec
	available     *prometheus.GaugeVec
	eventsDropped *prometheus.CounterVec
}

var (
	metricsOnce     sync.Once
	metricsRegistry *Metrics
)

// DefaultMetrics returns the process-wide collectors registered with the
// default prometheus registerer.
func DefaultMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsRegistry = NewMetrics(prometheus.DefaultRegisterer)
	})
	return metricsRegistry
}

// NewMetrics builds collectors and registers them with reg. A nil reg leaves
// them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shop_operations_total",
			Help: "Count of shop operations by name and result.",
		}, []string{"op", "result"}),
		blocked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shop_escrow_blocked",
			Help: "Funds held in custody awaiting receipt confirmation.",
		}, []string{"shop"}),
		available: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shop_escrow_available",
			Help: "Funds the shop owner may withdraw.",
		}, []string{"shop"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shop_events_dropped_total",
			Help: "Notifications that could not be delivered, by sink.",
		}, []string{"sink"}),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.blocked, m.available, m.eventsDropped)
	}
	return m
}

func (m *Metrics) ObserveOperation(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "rejected"
	}
	m.operations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) SetBalances(shop domain.Identity, blocked, available *uint256.Int) {
	if m == nil {
		return
	}
	m.blocked.WithLabelValues(shop.String()).Set(toFloat(blocked))
	m.available.WithLabelValues(shop.String()).Set(toFloat(available))
}

func (m *Metrics) ObserveEventDropped(sink string) {
	if m == nil {
		return
	}
	if sink == "" {
		sink = "unknown"
	}
	m.eventsDropped.WithLabelValues(sink).Inc()
}

func toFloat(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}
