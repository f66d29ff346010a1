package push

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts push outcomes per channel and skipped dispatches per reason.
type Metrics struct {
	deliveries *prometheus.CounterVec
	skipped    *prometheus.CounterVec
}

// NewMetrics registers the push counters with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pingy_push_deliveries_total",
			Help: "Push send attempts by channel and outcome.",
		}, []string{"channel", "outcome"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pingy_push_dispatch_skipped_total",
			Help: "Push dispatches skipped before any send, by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.deliveries, m.skipped)
	return m
}

func (m *Metrics) observeDelivery(ch Channel, o Outcome) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(string(ch), o.String()).Inc()
}

func (m *Metrics) observeSkip(reason string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(reason).Inc()
}
