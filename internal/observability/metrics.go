package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "aichat"

// Metrics holds the backend's Prometheus collectors.
type Metrics struct {
	RequestsTotal *prometheus.CounterVec

	RequestDurationSeconds *prometheus.HistogramVec

	DeltasTotal *prometheus.CounterVec

	ActiveStreams *prometheus.GaugeVec

	AttachmentsTotal *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "requests_total",
				Help:      "Total chat requests by endpoint and outcome",
			},
			[]string{"endpoint", "status"},
		),

		RequestDurationSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "request_duration_seconds",
				Help:      "Chat request duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"endpoint"},
		),

		DeltasTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "streaming",
				Name:      "deltas_total",
				Help:      "Total completion deltas written by transport",
			},
			[]string{"transport"},
		),

		ActiveStreams: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "streaming",
				Name:      "active_streams",
				Help:      "Number of streams currently being written",
			},
			[]string{"transport"},
		),

		AttachmentsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "attachments_total",
				Help:      "Attachments received by policy decision",
			},
			[]string{"decision"},
		),
	}
}
