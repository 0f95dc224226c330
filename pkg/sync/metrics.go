package sync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics mirrors Stats as prometheus counters labelled by op and kind.
type Metrics struct {
	Sent       *prometheus.CounterVec
	Applied    *prometheus.CounterVec
	Ignored    *prometheus.CounterVec
	Errors     *prometheus.CounterVec
	Duplicates prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	labels := []string{"op", "kind"}
	return &Metrics{
		Sent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "linkboard",
			Subsystem: "sync",
			Name:      "messages_sent_total",
			Help:      "Operations broadcast to peers.",
		}, labels),
		Applied: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "linkboard",
			Subsystem: "sync",
			Name:      "messages_applied_total",
			Help:      "Remote operations applied to the local store.",
		}, labels),
		Ignored: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "linkboard",
			Subsystem: "sync",
			Name:      "messages_ignored_total",
			Help:      "Remote operations that changed nothing (known add, unknown update).",
		}, labels),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "linkboard",
			Subsystem: "sync",
			Name:      "errors_total",
			Help:      "Send and receive failures.",
		}, []string{"direction"}),
		Duplicates: f.NewCounter(prometheus.CounterOpts{
			Namespace: "linkboard",
			Subsystem: "sync",
			Name:      "duplicates_total",
			Help:      "Messages dropped as already seen.",
		}),
	}
}

func (m *Metrics) sent(op Operation) {
	if m != nil {
		m.Sent.WithLabelValues(string(op.Op()), string(op.Kind())).Inc()
	}
}

func (m *Metrics) applied(op Operation) {
	if m != nil {
		m.Applied.WithLabelValues(string(op.Op()), string(op.Kind())).Inc()
	}
}

func (m *Metrics) ignored(op Operation) {
	if m != nil {
		m.Ignored.WithLabelValues(string(op.Op()), string(op.Kind())).Inc()
	}
}

func (m *Metrics) failed(direction string) {
	if m != nil {
		m.Errors.WithLabelValues(direction).Inc()
	}
}

func (m *Metrics) duplicate() {
	if m != nil {
		m.Duplicates.Inc()
	}
}
