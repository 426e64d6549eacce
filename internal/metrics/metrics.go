// Package metrics provides Prometheus metrics for the transcription pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "scribeflow"

// Metrics holds all Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	// Audio
	FramesCaptured prometheus.Counter
	SamplesEvicted prometheus.Counter
	FramesDropped  *prometheus.CounterVec

	// Connection
	ConnectionState   *prometheus.GaugeVec
	ReconnectAttempts prometheus.Counter
	ConnectFailures   *prometheus.CounterVec

	// Transcripts
	Partials      prometheus.Counter
	Finals        prometheus.Counter
	DuplicateDrop prometheus.Counter

	// Persistence
	ChunksEnqueued  prometheus.Counter
	ChunksPersisted prometheus.Counter
	ChunksCached    prometheus.Counter
	PendingChunks   prometheus.Gauge
	FlushTotal      *prometheus.CounterVec
	FlushDuration   prometheus.Histogram

	// Warnings surfaced to the user
	Warnings *prometheus.CounterVec

	// Event publishing
	PublishTotal   *prometheus.CounterVec
	PublishLatency *prometheus.HistogramVec
}

// Default is registered against the default Prometheus registry.
var Default = New(prometheus.DefaultRegisterer)

// New creates collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FramesCaptured: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_captured_total",
			Help:      "Audio frames received from the capture source",
		}),
		SamplesEvicted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_samples_evicted_total",
			Help:      "Samples discarded by frame buffer overflow",
		}),
		FramesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_dropped_total",
			Help:      "Audio payloads dropped instead of blocking",
		}, []string{"reason"}),
		ConnectionState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "1 for the current streaming client state",
		}, []string{"state"}),
		ReconnectAttempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts made by the streaming client",
		}),
		ConnectFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_failures_total",
			Help:      "Failed connection attempts by phase",
		}, []string{"phase"}),
		Partials: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_partial_total",
			Help:      "Partial transcript events reconciled",
		}),
		Finals: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_final_total",
			Help:      "Segments finalized by the reconciler",
		}),
		DuplicateDrop: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_duplicate_final_total",
			Help:      "Duplicate final events ignored",
		}),
		ChunksEnqueued: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_enqueued_total",
			Help:      "Optimistic chunks created",
		}),
		ChunksPersisted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_persisted_total",
			Help:      "Chunks promoted to a durable id",
		}),
		ChunksCached: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_cached_total",
			Help:      "Chunks moved to the local fallback cache",
		}),
		PendingChunks: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chunks_pending",
			Help:      "Chunks waiting for a durable write",
		}),
		FlushTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_attempts_total",
			Help:      "Batch write attempts by result",
		}, []string{"result"}),
		FlushDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Duration of a single batch write attempt",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		Warnings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warnings_total",
			Help:      "User-visible warnings by kind",
		}, []string{"kind"}),
		PublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Pipeline events published to the event bus",
		}, []string{"topic", "status"}),
		PublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "events_publish_latency_seconds",
			Help:      "Event bus publish latency",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"topic"}),
	}
}

func (m *Metrics) RecordFrame() {
	if m == nil {
		return
	}
	m.FramesCaptured.Inc()
}

func (m *Metrics) RecordEviction(samples int) {
	if m == nil || samples <= 0 {
		return
	}
	m.SamplesEvicted.Add(float64(samples))
}

func (m *Metrics) RecordDrop(reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(reason).Inc()
}

// SetConnectionState flips the state gauge so exactly one label is 1.
func (m *Metrics) SetConnectionState(prev, next string) {
	if m == nil {
		return
	}
	if prev != "" {
		m.ConnectionState.WithLabelValues(prev).Set(0)
	}
	m.ConnectionState.WithLabelValues(next).Set(1)
}

func (m *Metrics) RecordReconnectAttempt() {
	if m == nil {
		return
	}
	m.ReconnectAttempts.Inc()
}

func (m *Metrics) RecordConnectFailure(phase string) {
	if m == nil {
		return
	}
	m.ConnectFailures.WithLabelValues(phase).Inc()
}

func (m *Metrics) RecordPartial() {
	if m == nil {
		return
	}
	m.Partials.Inc()
}

func (m *Metrics) RecordFinal() {
	if m == nil {
		return
	}
	m.Finals.Inc()
}

func (m *Metrics) RecordDuplicateFinal() {
	if m == nil {
		return
	}
	m.DuplicateDrop.Inc()
}

func (m *Metrics) RecordEnqueued(pending int) {
	if m == nil {
		return
	}
	m.ChunksEnqueued.Inc()
	m.PendingChunks.Set(float64(pending))
}

func (m *Metrics) SetPending(pending int) {
	if m == nil {
		return
	}
	m.PendingChunks.Set(float64(pending))
}

// RecordFlush records one batch write attempt.
func (m *Metrics) RecordFlush(err error, persisted int, d time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.FlushTotal.WithLabelValues(result).Inc()
	m.FlushDuration.Observe(d.Seconds())
	if persisted > 0 {
		m.ChunksPersisted.Add(float64(persisted))
	}
}

func (m *Metrics) RecordCached(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ChunksCached.Add(float64(n))
}

func (m *Metrics) RecordWarning(kind string) {
	if m == nil {
		return
	}
	m.Warnings.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordPublish(topic string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.PublishTotal.WithLabelValues(topic, status).Inc()
	m.PublishLatency.WithLabelValues(topic).Observe(d.Seconds())
}
