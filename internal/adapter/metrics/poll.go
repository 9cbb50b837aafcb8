package metrics

import "github.com/prometheus/client_golang/prometheus"

// PollMetrics holds Prometheus metrics for the poll mutation pipeline.
type PollMetrics struct {
	Mutations        *prometheus.CounterVec
	MutationDuration *prometheus.HistogramVec
	SkippedEvents    *prometheus.CounterVec
	ListShared       prometheus.Counter
}

// NewPollMetrics creates and registers poll pipeline metrics on the given registry.
func NewPollMetrics(reg prometheus.Registerer) *PollMetrics {
	m := &PollMetrics{
		Mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "polls",
			Name:      "mutations_total",
			Help:      "Total number of poll mutations, by operation and result.",
		}, []string{"operation", "result"}),
		MutationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "polls",
			Name:      "mutation_duration_seconds",
			Help:      "Duration of a mutation including re-read and broadcast.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}, []string{"operation"}),
		SkippedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "polls",
			Name:      "skipped_events_total",
			Help:      "Committed mutations whose event was not broadcast, by reason.",
		}, []string{"reason"}),
		ListShared: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "polls",
			Name:      "list_shared_total",
			Help:      "List requests answered by an in-flight identical query.",
		}),
	}

	reg.MustRegister(m.Mutations, m.MutationDuration, m.SkippedEvents, m.ListShared)
	return m
}
