package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/LeonardoBeccarini/smartgarden/internal/model"
)

// Metrics counts routed messages by channel and outcome.
type Metrics struct {
	messages *prometheus.CounterVec
	polls    *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "garden",
			Subsystem: "telemetry",
			Name:      "messages_total",
			Help:      "Inbound telemetry messages by channel and routing outcome.",
		}, []string{"channel", "outcome"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "garden",
			Subsystem: "telemetry",
			Name:      "feed_fetches_total",
			Help:      "REST feed fetches by channel and result.",
		}, []string{"channel", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m.messages, m.polls)
	}
	return m
}

func (m *Metrics) observe(out Outcome) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(channelLabel(out.Channel), string(out.Reason)).Inc()
}

func (m *Metrics) fetched(channel string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.polls.WithLabelValues(channelLabel(channel), result).Inc()
}

// channelLabel keeps label cardinality bounded to the known channels.
func channelLabel(channel string) string {
	if model.IsKnownChannel(channel) {
		return channel
	}
	return "other"
}
