package sink

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	connectionsTotal  prometheus.Counter
	activeConnections prometheus.Gauge
	bytesDrained      prometheus.Counter
	drainErrors       prometheus.Counter
	drainDuration     prometheus.Histogram
}

func newMetricsWithRegistry(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tcpsink_connections_total",
			Help: "Total number of accepted connections",
		}),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tcpsink_active_connections",
			Help: "Number of connections currently being drained",
		}),
		bytesDrained: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tcpsink_bytes_drained_total",
			Help: "Total number of bytes read and discarded",
		}),
		drainErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tcpsink_drain_errors_total",
			Help: "Total number of connections that ended with a read error",
		}),
		drainDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tcpsink_drain_duration_seconds",
			Help:    "Time from accept until the peer closed the connection",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}

	registry.MustRegister(
		m.connectionsTotal,
		m.activeConnections,
		m.bytesDrained,
		m.drainErrors,
		m.drainDuration,
	)

	return m
}

func (m *Metrics) connectionOpened() {
	m.connectionsTotal.Inc()
	m.activeConnections.Inc()
}

func (m *Metrics) connectionClosed() {
	m.activeConnections.Dec()
}

func (m *Metrics) bytesRead(n int) {
	m.bytesDrained.Add(float64(n))
}

func (m *Metrics) drainFinished(d time.Duration, err error) {
	m.drainDuration.Observe(d.Seconds())
	if err != nil {
		m.drainErrors.Inc()
	}
}
