package rpc

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks per-node request outcomes. A nil *Metrics records nothing.
type Metrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	score    *prometheus.GaugeVec
}

// NewMetrics registers the rpc collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "launch_indexer_rpc_requests_total",
				Help: "JSON-RPC requests by node, method and result",
			},
			[]string{"node", "method", "result"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "launch_indexer_rpc_latency_seconds",
				Help:    "JSON-RPC round trip time",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
			},
			[]string{"node", "method"},
		),
		score: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "launch_indexer_rpc_node_score",
				Help: "Routing score of each node, higher is preferred",
			},
			[]string{"node"},
		),
	}
}

func (m *Metrics) observe(node, method string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	switch {
	case err == nil:
	case IsNodeFault(err):
		result = "error"
	default:
		result = "rejected"
	}
	m.requests.WithLabelValues(node, method, result).Inc()
	m.latency.WithLabelValues(node, method).Observe(d.Seconds())
}

func (m *Metrics) setScore(node string, score int64) {
	if m == nil {
		return
	}
	m.score.WithLabelValues(node).Set(float64(score))
}
