package session

import (
	"github.com/prometheus/client_golang/prometheus"

	"tether/cmd/internal/fault"
)

const metricsNamespace = "tether"

// Metrics exports session activity to Prometheus.
type Metrics struct {
	sessions *prometheus.GaugeVec
	started  prometheus.Counter
	messages *prometheus.CounterVec
	failures *prometheus.CounterVec
}

// NewMetrics registers the session collectors on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "sessions",
			Help:      "Sessions currently in each protocol state.",
		}, []string{"state"}),
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_started_total",
			Help:      "Sessions started since process start.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_total",
			Help:      "Protocol messages by kind and direction.",
		}, []string{"kind", "direction"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "session_failures_total",
			Help:      "Sessions that ended in the failed state, by error kind.",
		}, []string{"kind"}),
	}

	for _, c := range []prometheus.Collector{m.sessions, m.started, m.messages, m.failures} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	// Export every state from the start so dashboards see zeros, not gaps.
	for _, st := range States {
		m.sessions.WithLabelValues(st.String())
	}
	return m, nil
}

func (m *Metrics) SessionStarted(Info) {
	m.started.Inc()
	m.sessions.WithLabelValues(StateStart.String()).Inc()
}

func (m *Metrics) StateChanged(t Transition) {
	m.sessions.WithLabelValues(t.From.String()).Dec()
	m.sessions.WithLabelValues(t.To.String()).Inc()
	if t.To == StateFailed {
		m.failures.WithLabelValues(fault.Kind(t.Err)).Inc()
	}
}

func (m *Metrics) MessageObserved(e MessageEvent) {
	m.messages.WithLabelValues(e.Kind.String(), e.Direction.String()).Inc()
}
