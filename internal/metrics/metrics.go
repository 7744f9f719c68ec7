package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors
type Metrics struct {
	Transitions     *prometheus.CounterVec
	Notifications   *prometheus.CounterVec
	TriggerDuration prometheus.Histogram
}

// New creates and registers the collectors on the given registerer
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stateflow_transitions_total",
			Help: "Workflow transitions by workflow, trigger and result.",
		}, []string{"workflow", "trigger", "result"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stateflow_notifications_total",
			Help: "Notification deliveries by channel and result.",
		}, []string{"channel", "result"}),
		TriggerDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stateflow_trigger_duration_seconds",
			Help:    "Latency of the synchronous portion of trigger calls.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.Transitions, m.Notifications, m.TriggerDuration)
	return m
}

// ObserveTransition records one transition outcome
func (m *Metrics) ObserveTransition(workflow, trigger string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Transitions.WithLabelValues(workflow, trigger, result).Inc()
}

// ObserveNotification records one delivery outcome
func (m *Metrics) ObserveNotification(channel string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Notifications.WithLabelValues(channel, result).Inc()
}
