package ctcp

import "github.com/prometheus/client_golang/prometheus"

// Metrics wraps a set of Prometheus collectors tracking protocol-engine
// activity: segments sent/received/retransmitted/dropped-as-corrupt, and
// the number of connections currently registered with an Engine. Metrics
// implements prometheus.Collector so it can be registered directly with a
// prometheus.Registry.
type Metrics struct {
	segmentsSent         prometheus.Counter
	segmentsReceived     prometheus.Counter
	segmentsRetransmitted prometheus.Counter
	segmentsCorrupt      prometheus.Counter
	activeConnections    prometheus.GaugeFunc
}

// NewMetrics builds a Metrics instance whose activeConnections gauge reads
// from engine at scrape time.
func NewMetrics(namespace string, engine *Engine) *Metrics {
	m := &Metrics{
		segmentsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "segments_sent_total",
			Help: "Data and FIN segments transmitted, including retransmissions; bare ACKs are not counted.",
		}),
		segmentsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "segments_received_total",
			Help: "Segments successfully decoded from the transport.",
		}),
		segmentsRetransmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "segments_retransmitted_total",
			Help: "Segments resent after their retransmission timer elapsed.",
		}),
		segmentsCorrupt: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "segments_corrupt_total",
			Help: "Segments dropped for failing checksum or structural validation.",
		}),
	}
	if engine != nil {
		m.activeConnections = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connections_active",
			Help: "Connections currently registered with the engine.",
		}, func() float64 { return float64(engine.Len()) })
	}
	return m
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(descs chan<- *prometheus.Desc) {
	m.segmentsSent.Describe(descs)
	m.segmentsReceived.Describe(descs)
	m.segmentsRetransmitted.Describe(descs)
	m.segmentsCorrupt.Describe(descs)
	if m.activeConnections != nil {
		m.activeConnections.Describe(descs)
	}
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(out chan<- prometheus.Metric) {
	m.segmentsSent.Collect(out)
	m.segmentsReceived.Collect(out)
	m.segmentsRetransmitted.Collect(out)
	m.segmentsCorrupt.Collect(out)
	if m.activeConnections != nil {
		m.activeConnections.Collect(out)
	}
}

func (m *Metrics) incSent()          { m.segmentsSent.Inc() }
func (m *Metrics) incReceived()      { m.segmentsReceived.Inc() }
func (m *Metrics) incRetransmitted() { m.segmentsRetransmitted.Inc() }
func (m *Metrics) incCorrupt()       { m.segmentsCorrupt.Inc() }
