// Package metrics provides Prometheus metrics for the anchor daemon.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "anchor"
)

// Metrics contains all Prometheus metrics for the daemon.
type Metrics struct {
	// Socket metrics
	SocketsOpen prometheus.Gauge

	// Send path metrics
	StreamsSent       prometheus.Counter
	StreamErrors      *prometheus.CounterVec
	ChunksSent        prometheus.Counter
	BytesSent         prometheus.Counter
	StreamSendLatency prometheus.Histogram

	// Receive path metrics
	StreamsReceived  prometheus.Counter
	BytesReceived    prometheus.Counter
	DatagramsDropped prometheus.Counter

	// Daemon metrics
	Commands        *prometheus.CounterVec
	BuffersRefilled prometheus.Counter
	Streaming       prometheus.Gauge
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the default metrics instance.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		SocketsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sockets_open",
			Help:      "Number of currently open data sockets",
		}),

		StreamsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_sent_total",
			Help:      "Total number of streams sent including the terminator",
		}),
		StreamErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_errors_total",
			Help:      "Total aborted streams by reason",
		}, []string{"reason"}),
		ChunksSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_sent_total",
			Help:      "Total data datagrams sent",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Total payload bytes sent",
		}),
		StreamSendLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_send_seconds",
			Help:      "Histogram of time taken to send one stream",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),

		StreamsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_received_total",
			Help:      "Total number of complete streams received",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total payload bytes received",
		}),
		DatagramsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_dropped_total",
			Help:      "Datagrams from a foreign source discarded while receiving a stream",
		}),

		Commands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Total commands received on the command channel, by command word",
		}, []string{"command"}),
		BuffersRefilled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffers_refilled_total",
			Help:      "Total sample buffers acquired from the source",
		}),
		Streaming: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streaming",
			Help:      "1 while the daemon has an active streaming request",
		}),
	}

	return m
}

// RecordSocketOpen records a data socket being bound.
func (m *Metrics) RecordSocketOpen() {
	m.SocketsOpen.Inc()
}

// RecordSocketClose records a data socket being released.
func (m *Metrics) RecordSocketClose() {
	m.SocketsOpen.Dec()
}

// RecordStreamSent records a completed stream.
func (m *Metrics) RecordStreamSent(chunks, bytes int, latencySeconds float64) {
	m.StreamsSent.Inc()
	m.ChunksSent.Add(float64(chunks))
	m.BytesSent.Add(float64(bytes))
	m.StreamSendLatency.Observe(latencySeconds)
}

// RecordStreamError records an aborted stream.
func (m *Metrics) RecordStreamError(reason string) {
	m.StreamErrors.WithLabelValues(reason).Inc()
}

// RecordStreamReceived records a reassembled stream.
func (m *Metrics) RecordStreamReceived(bytes, dropped int) {
	m.StreamsReceived.Inc()
	m.BytesReceived.Add(float64(bytes))
	m.DatagramsDropped.Add(float64(dropped))
}

// RecordCommand records a control command.
func (m *Metrics) RecordCommand(command string) {
	m.Commands.WithLabelValues(command).Inc()
}

// RecordRefill records a sample buffer refill.
func (m *Metrics) RecordRefill() {
	m.BuffersRefilled.Inc()
}

// SetStreaming sets the streaming gauge.
func (m *Metrics) SetStreaming(active bool) {
	if active {
		m.Streaming.Set(1)
	} else {
		m.Streaming.Set(0)
	}
}
