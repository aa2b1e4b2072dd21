package indexer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes refresh cycle health. A nil *Metrics records nothing.
type Metrics struct {
	refreshTotal    *prometheus.CounterVec
	refreshDuration *prometheus.HistogramVec
	entities        *prometheus.GaugeVec
	indexedBlock    *prometheus.GaugeVec
	enrichFailures  *prometheus.CounterVec
}

// NewMetrics registers the indexer collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		refreshTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "launch_indexer_refresh_total",
				Help: "Refresh cycles by mode and result",
			},
			[]string{"feed", "mode", "result"},
		),
		refreshDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "launch_indexer_refresh_duration_seconds",
				Help:    "Wall time of a refresh cycle",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"feed", "mode"},
		),
		entities: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "launch_indexer_entities",
				Help: "Launches held in the cache",
			},
			[]string{"feed"},
		),
		indexedBlock: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "launch_indexer_indexed_block",
				Help: "Last block covered by the checkpoint",
			},
			[]string{"feed"},
		),
		enrichFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "launch_indexer_enrich_failures_total",
				Help: "Launches whose enrichment fell back to previous values",
			},
			[]string{"feed"},
		),
	}
}

func (m *Metrics) observeRefresh(feed string, mode Mode, err error, took time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.refreshTotal.WithLabelValues(feed, mode.String(), result).Inc()
	m.refreshDuration.WithLabelValues(feed, mode.String()).Observe(took.Seconds())
}

func (m *Metrics) setState(feed string, entities int, block uint64) {
	if m == nil {
		return
	}
	m.entities.WithLabelValues(feed).Set(float64(entities))
	m.indexedBlock.WithLabelValues(feed).Set(float64(block))
}

func (m *Metrics) addEnrichFailures(feed string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.enrichFailures.WithLabelValues(feed).Add(float64(n))
}
