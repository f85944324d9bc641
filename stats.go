package rsocket

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StatsCollector is the interface required to collect statistics
type StatsCollector interface {
	AddBytesWritten(int64)
	AddBytesRead(int64)
}

// FrameCollector is optionally implemented by a StatsCollector to count frames.
type FrameCollector interface {
	FrameSent(FrameType)
	FrameReceived(FrameType)
}

// ConnCollector is optionally implemented by a StatsCollector to track
// the number of open connections.
type ConnCollector interface {
	ConnOpened()
	ConnClosed()
}

// Metrics is a StatsCollector exporting Prometheus metrics.
type Metrics struct {
	bytesRead      prometheus.Counter
	bytesWritten   prometheus.Counter
	framesSent     *prometheus.CounterVec
	framesReceived *prometheus.CounterVec
	connsActive    prometheus.Gauge
}

// NewMetrics creates a Metrics and registers it with reg.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		bytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rsocket",
			Name:      "bytes_read_total",
			Help:      "Total bytes read from transports.",
		}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rsocket",
			Name:      "bytes_written_total",
			Help:      "Total bytes written to transports.",
		}),
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rsocket",
			Name:      "frames_sent_total",
			Help:      "Total frames sent by type.",
		}, []string{"type"}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rsocket",
			Name:      "frames_received_total",
			Help:      "Total frames received by type.",
		}, []string{"type"}),
		connsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rsocket",
			Name:      "connections_active",
			Help:      "Number of open connections.",
		}),
	}
	for _, c := range []prometheus.Collector{m.bytesRead, m.bytesWritten, m.framesSent, m.framesReceived, m.connsActive} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) AddBytesRead(n int64)    { m.bytesRead.Add(float64(n)) }
func (m *Metrics) AddBytesWritten(n int64) { m.bytesWritten.Add(float64(n)) }

func (m *Metrics) FrameSent(ft FrameType)     { m.framesSent.WithLabelValues(ft.String()).Inc() }
func (m *Metrics) FrameReceived(ft FrameType) { m.framesReceived.WithLabelValues(ft.String()).Inc() }

func (m *Metrics) ConnOpened() { m.connsActive.Inc() }
func (m *Metrics) ConnClosed() { m.connsActive.Dec() }
