package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the prometheus collectors shared by Hub, Client and MemoryBus.
type Metrics struct {
	FramesIn    *prometheus.CounterVec
	FramesOut   *prometheus.CounterVec
	Dropped     prometheus.Counter
	Connections prometheus.Gauge
	Reconnects  prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which tests rely on to avoid duplicate
// registration panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FramesIn: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "linkboard",
			Subsystem: "transport",
			Name:      "frames_received_total",
			Help:      "Frames received, by frame type.",
		}, []string{"type"}),
		FramesOut: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "linkboard",
			Subsystem: "transport",
			Name:      "frames_sent_total",
			Help:      "Frames sent, by frame type.",
		}, []string{"type"}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "linkboard",
			Subsystem: "transport",
			Name:      "deliveries_dropped_total",
			Help:      "Deliveries dropped because a subscriber was too slow.",
		}),
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "linkboard",
			Subsystem: "transport",
			Name:      "connections",
			Help:      "Open websocket connections.",
		}),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: "linkboard",
			Subsystem: "transport",
			Name:      "reconnects_total",
			Help:      "Client reconnect attempts.",
		}),
	}
}

func (m *Metrics) frameIn(t FrameType) {
	if m != nil {
		m.FramesIn.WithLabelValues(string(t)).Inc()
	}
}

func (m *Metrics) frameOut(t FrameType) {
	if m != nil {
		m.FramesOut.WithLabelValues(string(t)).Inc()
	}
}

func (m *Metrics) drop() {
	if m != nil {
		m.Dropped.Inc()
	}
}

func (m *Metrics) connected(delta float64) {
	if m != nil {
		m.Connections.Add(delta)
	}
}

func (m *Metrics) reconnect() {
	if m != nil {
		m.Reconnects.Inc()
	}
}
