package den

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the engine's Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	fetches       *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	actions       *prometheus.CounterVec
	state         *prometheus.GaugeVec
	connected     prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wolfden_source_fetches_total",
			Help: "Source fetches by source and outcome",
		}, []string{"source", "outcome"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wolfden_source_fetch_duration_seconds",
			Help:    "Source fetch latency in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"source"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wolfden_actions_total",
			Help: "User actions by action and outcome",
		}, []string{"action", "outcome"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wolfden_agent_state",
			Help: "1 for the currently derived agent state, 0 otherwise",
		}, []string{"state"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wolfden_connected",
			Help: "1 while the status source is reachable",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.fetches, m.fetchDuration, m.actions, m.state, m.connected)
	}
	return m
}

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) observeFetch(source Source, err error, took time.Duration) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(string(source), outcomeLabel(err)).Inc()
	m.fetchDuration.WithLabelValues(string(source)).Observe(took.Seconds())
}

func (m *Metrics) observeAction(action string, outcome string) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) observeView(state AgentState, connected bool) {
	if m == nil {
		return
	}
	for _, s := range States {
		value := 0.0
		if s == state {
			value = 1
		}
		m.state.WithLabelValues(string(s)).Set(value)
	}
	if connected {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}
