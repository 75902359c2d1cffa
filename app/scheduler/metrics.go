package scheduler

import (
	"github.com/amirphl/leadflow/app/connection"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leadflow",
			Subsystem: "dispatch",
			Name:      "outcomes_total",
			Help:      "Dispatch decisions per position, partitioned by resulting status",
		},
		[]string{"status"},
	)

	dispatchTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "leadflow",
			Subsystem: "dispatch",
			Name:      "tick_duration_seconds",
			Help:      "Duration of a full scheduler tick",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60},
		},
	)

	quotaDenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leadflow",
			Subsystem: "quota",
			Name:      "denials_total",
			Help:      "Reservations denied by the quota tracker",
		},
		[]string{"reason"},
	)

	sendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "leadflow",
			Subsystem: "dispatch",
			Name:      "send_duration_seconds",
			Help:      "Latency of a single transport send",
			Buckets:   prometheus.DefBuckets,
		},
	)

	connectionStateGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "leadflow",
			Subsystem: "whatsapp",
			Name:      "connection_state",
			Help:      "1 for the current connection state, 0 for the others",
		},
		[]string{"state"},
	)

	cacheUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "leadflow",
			Subsystem: "cache",
			Name:      "up",
			Help:      "Whether the last redis health check succeeded",
		},
	)
)

// ObserveConnectionState exports s as the current connection state. It is meant to be
// registered as a connection store subscriber.
func ObserveConnectionState(s connection.State) {
	for _, kind := range connection.AllStateKinds {
		v := 0.0
		if kind == s.Kind {
			v = 1
		}
		connectionStateGauge.WithLabelValues(string(kind)).Set(v)
	}
}
