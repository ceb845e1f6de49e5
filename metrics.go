package vibesync

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts what the engine reconciles. Register it on the host
// process registry with WithMetrics, or leave the default private registry.
type Metrics struct {
	PushEvents   *prometheus.CounterVec
	Deduplicated prometheus.Counter
	Mutations    *prometheus.CounterVec
	Fallbacks    *prometheus.CounterVec
	StalePages   prometheus.Counter
	Resyncs      prometheus.Counter
}

// NewMetrics creates the engine counters and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PushEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vibesync",
			Name:      "push_events_total",
			Help:      "Push-channel events applied, by event name.",
		}, []string{"event"}),
		Deduplicated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vibesync",
			Name:      "messages_deduplicated_total",
			Help:      "Message arrivals that replaced an existing copy.",
		}),
		Mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vibesync",
			Name:      "mutations_total",
			Help:      "Optimistic mutations settled, by operation and outcome.",
		}, []string{"op", "outcome"}),
		Fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vibesync",
			Name:      "fallback_attempts_total",
			Help:      "Candidate endpoint attempts, by operation and result.",
		}, []string{"op", "result"}),
		StalePages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vibesync",
			Name:      "stale_pages_total",
			Help:      "Feed page responses dropped after a subject reset.",
		}),
		Resyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vibesync",
			Name:      "resyncs_total",
			Help:      "Snapshot refreshes triggered by a reconnect.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.PushEvents, m.Deduplicated, m.Mutations, m.Fallbacks, m.StalePages, m.Resyncs)
	}
	return m
}

const (
	outcomeConfirmed  = "confirmed"
	outcomeRolledBack = "rolled_back"
	outcomeLocalOnly  = "local_only"
)

func (m *Metrics) mutation(op, outcome string) {
	m.Mutations.WithLabelValues(op, outcome).Inc()
}

// observeAttempt is a ChainOptions.OnAttempt hook.
func (m *Metrics) observeAttempt(op string) func(int, string, error) {
	return func(_ int, _ string, err error) {
		result := "success"
		if err != nil {
			result = "failure"
		}
		m.Fallbacks.WithLabelValues(op, result).Inc()
	}
}
