// Package metrics exposes detector and pipeline counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sod"

// Metrics holds the service collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	frames        *prometheus.CounterVec
	onsets        *prometheus.CounterVec
	segments      *prometheus.CounterVec
	latency       prometheus.Histogram
	activeStreams prometheus.Gauge
	wsClients     prometheus.Gauge
	flushes       *prometheus.CounterVec
}

// New builds and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_processed_total",
			Help:      "Audio frames run through a detector.",
		}, []string{"source"}),
		onsets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "onsets_detected_total",
			Help:      "Confirmed speech onsets.",
		}, []string{"source"}),
		segments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_emitted_total",
			Help:      "Speech segments closed after trailing silence.",
		}, []string{"source"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "process_duration_seconds",
			Help:      "Time to run one ingested chunk through its detector.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Streams with a live detector.",
		}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected websocket clients.",
		}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "onset_log_flushes_total",
			Help:      "Onset log batch flushes by outcome.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		m.frames, m.onsets, m.segments, m.latency, m.activeStreams, m.wsClients, m.flushes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Frames counts n processed frames.
func (m *Metrics) Frames(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.frames.WithLabelValues(source).Add(float64(n))
}

// Onset counts one onset.
func (m *Metrics) Onset(source string) {
	if m == nil {
		return
	}
	m.onsets.WithLabelValues(source).Inc()
}

// Segment counts one closed segment.
func (m *Metrics) Segment(source string) {
	if m == nil {
		return
	}
	m.segments.WithLabelValues(source).Inc()
}

// ObserveProcess records how long a chunk took.
func (m *Metrics) ObserveProcess(d time.Duration) {
	if m == nil {
		return
	}
	m.latency.Observe(d.Seconds())
}

// SetActiveStreams sets the live stream gauge.
func (m *Metrics) SetActiveStreams(n int) {
	if m == nil {
		return
	}
	m.activeStreams.Set(float64(n))
}

// ClientConnected and ClientDisconnected track websocket clients.
func (m *Metrics) ClientConnected() {
	if m != nil {
		m.wsClients.Inc()
	}
}

func (m *Metrics) ClientDisconnected() {
	if m != nil {
		m.wsClients.Dec()
	}
}

// Flush counts an onset log flush.
func (m *Metrics) Flush(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.flushes.WithLabelValues(result).Inc()
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
