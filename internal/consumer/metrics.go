package consumer

import "github.com/prometheus/client_golang/prometheus"

var (
	// consumerEvents counts processed queue events by verdict and family.
	consumerEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_consumer_events_total",
			Help: "Total number of consumed delivery events by outcome.",
		},
		[]string{"outcome", "family"},
	)

	// consumerRedrives counts tier republishes by destination tier (1-based).
	consumerRedrives = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_consumer_redrives_total",
			Help: "Total number of events republished into delay tiers.",
		},
		[]string{"tier"},
	)
)

func init() {
	prometheus.MustRegister(consumerEvents, consumerRedrives)
}
