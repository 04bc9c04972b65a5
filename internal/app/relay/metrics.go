package relay

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	frames    *prometheus.CounterVec
	connected prometheus.Gauge
	signals   *prometheus.CounterVec
}

// NewMetrics registers the relay collectors on reg. A nil reg leaves them
// unregistered, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicecall",
			Subsystem: "relay",
			Name:      "frames_total",
			Help:      "Signal frames handled by the relay, by result.",
		}, []string{"result"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "voicecall",
			Subsystem: "relay",
			Name:      "connected_users",
			Help:      "Users with an open signal connection.",
		}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicecall",
			Subsystem: "relay",
			Name:      "signals_total",
			Help:      "Relayed call signals, by signal type.",
		}, []string{"type"}),
	}
	if reg != nil {
		reg.MustRegister(m.frames, m.connected, m.signals)
	}
	return m
}

func (m *Metrics) frame(result string) {
	if m != nil {
		m.frames.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) signal(t string) {
	if m != nil {
		m.signals.WithLabelValues(t).Inc()
	}
}

func (m *Metrics) setConnected(n int) {
	if m != nil {
		m.connected.Set(float64(n))
	}
}
