// Package metrics exposes recorder activity as Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Drop reasons.
const (
	ReasonOverflow  = "overflow"
	ReasonMalformed = "malformed"
	ReasonLate      = "late"
)

// Collector counts sessions, chunks and failures per backend. All methods
// are safe on a nil *Collector.
type Collector struct {
	sessions   *prometheus.CounterVec
	chunks     *prometheus.CounterVec
	chunkBytes *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	errors     *prometheus.CounterVec
	recording  prometheus.Gauge

	collectors []prometheus.Collector
}

// NewCollector creates the collectors and registers them with reg when it
// is non-nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		sessions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "murmur_sessions_total",
				Help: "Recording sessions that reached the recording state",
			},
			[]string{"backend"},
		),
		chunks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "murmur_chunks_total",
				Help: "Encoded chunks delivered to data listeners",
			},
			[]string{"backend"},
		),
		chunkBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "murmur_chunk_bytes_total",
				Help: "PCM bytes carried by delivered chunks",
			},
			[]string{"backend"},
		),
		dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "murmur_dropped_frames_total",
				Help: "Frames or chunks discarded before delivery",
			},
			[]string{"backend", "reason"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "murmur_errors_total",
				Help: "Backend failures by phase",
			},
			[]string{"backend", "kind"},
		),
		recording: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "murmur_recording",
			Help: "1 while a session is recording",
		}),
	}
	c.collectors = []prometheus.Collector{
		c.sessions, c.chunks, c.chunkBytes, c.dropped, c.errors, c.recording,
	}
	if reg != nil {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Describe implements the Collector interface
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range c.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range c.collectors {
		collector.Collect(ch)
	}
}

func (c *Collector) SessionStarted(backend string) {
	if c == nil {
		return
	}
	c.sessions.WithLabelValues(backend).Inc()
	c.recording.Set(1)
}

func (c *Collector) SessionStopped() {
	if c == nil {
		return
	}
	c.recording.Set(0)
}

// Chunk records one delivered chunk of pcmBytes decoded bytes.
func (c *Collector) Chunk(backend string, pcmBytes int) {
	if c == nil {
		return
	}
	c.chunks.WithLabelValues(backend).Inc()
	c.chunkBytes.WithLabelValues(backend).Add(float64(pcmBytes))
}

func (c *Collector) Dropped(backend, reason string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.dropped.WithLabelValues(backend, reason).Add(float64(n))
}

// Error records a failure; kind is "start" or "runtime".
func (c *Collector) Error(backend, kind string) {
	if c == nil {
		return
	}
	c.errors.WithLabelValues(backend, kind).Inc()
}
