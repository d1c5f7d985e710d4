package source

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts what live sources receive before anything reaches the
// dashboard.
type Metrics struct {
	received  *prometheus.CounterVec
	malformed *prometheus.CounterVec
}

// NewMetrics creates the source counters and registers them with reg. A nil
// reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		received: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsdash_source_messages_received_total",
				Help: "Total number of messages received by live sources",
			},
			[]string{"source"},
		),
		malformed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsdash_source_messages_malformed_total",
				Help: "Total number of received messages dropped because they could not be decoded",
			},
			[]string{"source"},
		),
	}
}

// Received records a message from source.
func (m *Metrics) Received(source string) {
	if m == nil {
		return
	}
	m.received.WithLabelValues(source).Inc()
}

// Malformed records a message from source that was dropped.
func (m *Metrics) Malformed(source string) {
	if m == nil {
		return
	}
	m.malformed.WithLabelValues(source).Inc()
}
