package rest

import "github.com/prometheus/client_golang/prometheus"

var (
	ComputeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "policy_compute_duration_seconds",
		Help:    "Wall time of policy compute requests",
		Buckets: prometheus.DefBuckets,
	})

	ComputeTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "policy_compute_total",
		Help: "Total policy compute requests",
	})

	SuggestionTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "policy_suggestion_total",
		Help: "Total per-state suggestion lookups",
	})

	RerollQueryTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reroll_query_total",
		Help: "Total reroll recommendation queries",
	})
)

// InitMetrics registers the collectors with the default registry.
func InitMetrics() {
	prometheus.MustRegister(ComputeDuration, ComputeTotal, SuggestionTotal, RerollQueryTotal)
}
