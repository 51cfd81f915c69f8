package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics implements the engine's metrics hooks on a prometheus
// registry.
type EngineMetrics struct {
	OrdersProcessed *prometheus.CounterVec
	OrderLatency    *prometheus.HistogramVec
	TradesExecuted  *prometheus.CounterVec
	BookDepth       *prometheus.GaugeVec
}

func NewEngineMetrics(registry *prometheus.Registry) *EngineMetrics {
	m := &EngineMetrics{
		OrdersProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_orders_processed_total",
				Help: "Orders processed by the matching engine.",
			},
			[]string{"symbol", "side", "kind"},
		),
		OrderLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "engine_order_latency_seconds",
				Help:    "Time from submission to lane exit.",
				Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14),
			},
			[]string{"symbol"},
		),
		TradesExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_trades_executed_total",
				Help: "Trades executed by the matching engine.",
			},
			[]string{"symbol"},
		),
		BookDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "engine_book_depth_orders",
				Help: "Resting orders per book side.",
			},
			[]string{"symbol", "side"},
		),
	}

	registry.MustRegister(m.OrdersProcessed, m.OrderLatency, m.TradesExecuted, m.BookDepth)
	return m
}

func (m *EngineMetrics) ObserveOrder(symbol, side, kind string, duration time.Duration) {
	m.OrdersProcessed.WithLabelValues(symbol, side, kind).Inc()
	m.OrderLatency.WithLabelValues(symbol).Observe(duration.Seconds())
}

func (m *EngineMetrics) ObserveTrades(symbol string, count int) {
	m.TradesExecuted.WithLabelValues(symbol).Add(float64(count))
}

func (m *EngineMetrics) SetBookDepth(symbol, side string, depth float64) {
	m.BookDepth.WithLabelValues(symbol, side).Set(depth)
}
