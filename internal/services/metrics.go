package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// deliveriesTotal counts Deliver outcomes by classification. The label
	// set is closed (success, retryable, validation, no_channel, error) so
	// cardinality stays bounded.
	deliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_deliveries_total",
			Help: "Total number of delivery orchestrations by outcome.",
		},
		[]string{"outcome"},
	)

	// attemptsTotal counts channel-level attempts by channel and terminal
	// status for this try (sent, failed).
	attemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_attempts_total",
			Help: "Total number of channel delivery attempts by result.",
		},
		[]string{"channel", "status"},
	)

	// dispatchDuration records the latency of provider dispatch calls.
	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notify_dispatch_duration_seconds",
			Help:    "Duration of channel dispatcher calls in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)
)

func init() {
	prometheus.MustRegister(deliveriesTotal, attemptsTotal, dispatchDuration)
}
