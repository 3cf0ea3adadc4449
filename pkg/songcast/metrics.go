// ABOUTME: Prometheus metrics for receiver sessions
// ABOUTME: Nil metrics disable collection without call-site checks
package songcast

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus collectors for streaming sessions
type Metrics struct {
	packetsReceived prometheus.Counter
	bytesReceived   prometheus.Counter
	noiseDropped    prometheus.Counter
	messages        *prometheus.CounterVec
	framesPlayed    prometheus.Counter
	framesLost      prometheus.Counter
	framesOverdue   prometheus.Counter
	framesDuplicate prometheus.Counter
	gapsReported    prometheus.Counter
	senderLost      prometheus.Counter
	relayForwards   prometheus.Counter
	relayErrors     prometheus.Counter
	keepalives      prometheus.Counter
	reconfigures    prometheus.Counter
	latency         prometheus.Gauge
	slaves          prometheus.Gauge
	pending         prometheus.Gauge
	state           prometheus.Gauge
}

// NewMetrics creates and registers session metrics. A nil registerer
// returns nil, which disables metrics.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ohreceiver",
			Subsystem: "session",
			Name:      name,
			Help:      help,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ohreceiver",
			Subsystem: "session",
			Name:      name,
			Help:      help,
		})
	}

	m := &Metrics{
		packetsReceived: counter("packets_received_total", "Datagrams received"),
		bytesReceived:   counter("bytes_received_total", "Bytes received"),
		noiseDropped:    counter("noise_dropped_total", "Datagrams dropped as malformed or foreign"),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ohreceiver",
			Subsystem: "session",
			Name:      "messages_total",
			Help:      "Decoded messages by type",
		}, []string{"type"}),
		framesPlayed:    counter("frames_played_total", "Audio frames written to the sink"),
		framesLost:      counter("frames_lost_total", "Audio frames given up on"),
		framesOverdue:   counter("frames_overdue_total", "Audio frames dropped as too late to play"),
		framesDuplicate: counter("frames_duplicate_total", "Duplicate or stale audio frames"),
		gapsReported:    counter("gaps_reported_total", "Missing frames detected"),
		senderLost:      counter("sender_lost_frames_total", "Frames other receivers reported lost"),
		relayForwards:   counter("relay_forwards_total", "Datagrams forwarded to slaves"),
		relayErrors:     counter("relay_errors_total", "Failed forwards to slaves"),
		keepalives:      counter("keepalives_sent_total", "Listen messages sent"),
		reconfigures:    counter("sink_reconfigures_total", "Sink drain and reopen cycles"),
		latency:         gauge("latency_seconds", "Latency declared by the sender"),
		slaves:          gauge("slaves", "Downstream receivers being relayed to"),
		pending:         gauge("pending_frames", "Frames held in the jitter buffer"),
		state:           gauge("state", "Session state (0 joining .. 4 closed)"),
	}

	collectors := []prometheus.Collector{
		m.packetsReceived, m.bytesReceived, m.noiseDropped, m.messages,
		m.framesPlayed, m.framesLost, m.framesOverdue, m.framesDuplicate,
		m.gapsReported, m.senderLost, m.relayForwards, m.relayErrors,
		m.keepalives, m.reconfigures, m.latency, m.slaves, m.pending, m.state,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) packet(n int) {
	if m == nil {
		return
	}
	m.packetsReceived.Inc()
	m.bytesReceived.Add(float64(n))
}

func (m *Metrics) noise() {
	if m != nil {
		m.noiseDropped.Inc()
	}
}

func (m *Metrics) message(typ string) {
	if m != nil {
		m.messages.WithLabelValues(typ).Inc()
	}
}

func (m *Metrics) played() {
	if m != nil {
		m.framesPlayed.Inc()
	}
}

func (m *Metrics) lost(n uint32) {
	if m != nil && n > 0 {
		m.framesLost.Add(float64(n))
	}
}

func (m *Metrics) overdue() {
	if m != nil {
		m.framesOverdue.Inc()
	}
}

func (m *Metrics) duplicate() {
	if m != nil {
		m.framesDuplicate.Inc()
	}
}

func (m *Metrics) gaps(n int) {
	if m != nil && n > 0 {
		m.gapsReported.Add(float64(n))
	}
}

func (m *Metrics) senderLostFrames(n int) {
	if m != nil {
		m.senderLost.Add(float64(n))
	}
}

func (m *Metrics) relay(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.relayErrors.Inc()
		return
	}
	m.relayForwards.Inc()
}

func (m *Metrics) keepalive() {
	if m != nil {
		m.keepalives.Inc()
	}
}

func (m *Metrics) reconfigure() {
	if m != nil {
		m.reconfigures.Inc()
	}
}

func (m *Metrics) setLatency(seconds float64) {
	if m != nil {
		m.latency.Set(seconds)
	}
}

func (m *Metrics) setSlaves(n int) {
	if m != nil {
		m.slaves.Set(float64(n))
	}
}

func (m *Metrics) setPending(n int) {
	if m != nil {
		m.pending.Set(float64(n))
	}
}

func (m *Metrics) setState(s State) {
	if m != nil {
		m.state.Set(float64(s))
	}
}
