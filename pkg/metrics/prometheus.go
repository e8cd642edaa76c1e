// Package metrics exposes Prometheus instrumentation for the conversation
// engine and tracks per-turn response latency.
//
// Every method is safe to call on a nil *Metrics, so components can take
// an optional metrics handle without guarding each call.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "livetalk"

// Metrics holds all Prometheus collectors.
type Metrics struct {
	// Capture metrics
	FramesCaptured prometheus.Counter
	InputLevel     prometheus.Gauge
	ChunksSent     prometheus.Counter
	ChunksDropped  *prometheus.CounterVec

	// Inbound metrics
	EventsReceived  *prometheus.CounterVec
	MalformedChunks prometheus.Counter

	// Playback metrics
	PlaybackScheduled   prometheus.Counter
	PlaybackCompleted   prometheus.Counter
	PlaybackInterrupted prometheus.Counter
	PlaybackFailed      prometheus.Counter
	PlaybackActive      prometheus.Gauge

	// Session metrics
	SessionState  *prometheus.GaugeVec
	SessionStarts prometheus.Counter
	SessionErrors *prometheus.CounterVec

	// Latency
	TurnLatency prometheus.Histogram
	Turns       *LatencyTracker

	mu        sync.Mutex
	lastState string
}

// New creates all collectors and registers them with reg.
// A nil reg creates unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	m := &Metrics{
		FramesCaptured: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_frames_total",
			Help:      "Total number of microphone frames captured",
		}),
		InputLevel: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "capture_input_level",
			Help:      "RMS level of the most recent microphone frame (0-1)",
		}),
		ChunksSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_chunks_sent_total",
			Help:      "Total number of audio chunks handed to the transport",
		}),
		ChunksDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_chunks_dropped_total",
			Help:      "Total number of outbound audio chunks dropped",
		}, []string{"reason"}),

		EventsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_events_total",
			Help:      "Total number of server events received by kind",
		}, []string{"kind"}),
		MalformedChunks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_malformed_chunks_total",
			Help:      "Total number of inbound audio chunks that failed to decode",
		}),

		PlaybackScheduled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_scheduled_total",
			Help:      "Total number of buffers scheduled for playback",
		}),
		PlaybackCompleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_completed_total",
			Help:      "Total number of buffers that finished playing",
		}),
		PlaybackInterrupted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_interrupted_total",
			Help:      "Total number of buffers force-stopped by interruption",
		}),
		PlaybackFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_failed_total",
			Help:      "Total number of buffers the output device refused to schedule",
		}),
		PlaybackActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playback_active_buffers",
			Help:      "Current number of scheduled buffers not yet finished",
		}),

		SessionState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "1 for the current conversation state, 0 otherwise",
		}, []string{"state"}),
		SessionStarts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_starts_total",
			Help:      "Total number of conversation start requests",
		}),
		SessionErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_errors_total",
			Help:      "Total number of sessions ended by an error",
		}, []string{"reason"}),

		TurnLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_latency_seconds",
			Help:      "Time from the user's final transcript to the first response audio",
			Buckets:   []float64{0.1, 0.25, 0.5, 0.75, 1, 1.5, 2, 3, 5},
		}),
	}
	m.Turns = NewLatencyTracker(m.TurnLatency)
	return m
}

// FrameCaptured records one captured frame and its RMS level.
func (m *Metrics) FrameCaptured(level float64) {
	if m == nil {
		return
	}
	m.FramesCaptured.Inc()
	m.InputLevel.Set(level)
}

// ChunkSent records one chunk accepted by the transport.
func (m *Metrics) ChunkSent() {
	if m == nil {
		return
	}
	m.ChunksSent.Inc()
}

// ChunkDropped records one outbound chunk dropped for reason.
func (m *Metrics) ChunkDropped(reason string) {
	if m == nil {
		return
	}
	m.ChunksDropped.WithLabelValues(reason).Inc()
}

// EventReceived records one inbound server event.
func (m *Metrics) EventReceived(kind string) {
	if m == nil {
		return
	}
	m.EventsReceived.WithLabelValues(kind).Inc()
}

// MalformedChunk records an inbound chunk that failed to decode.
func (m *Metrics) MalformedChunk() {
	if m == nil {
		return
	}
	m.MalformedChunks.Inc()
}

// BufferScheduled records a successful schedule and the new active count.
func (m *Metrics) BufferScheduled(active int) {
	if m == nil {
		return
	}
	m.PlaybackScheduled.Inc()
	m.PlaybackActive.Set(float64(active))
}

// BufferCompleted records a buffer that played to the end.
func (m *Metrics) BufferCompleted(active int) {
	if m == nil {
		return
	}
	m.PlaybackCompleted.Inc()
	m.PlaybackActive.Set(float64(active))
}

// BuffersInterrupted records n buffers force-stopped at once.
func (m *Metrics) BuffersInterrupted(n int) {
	if m == nil {
		return
	}
	m.PlaybackInterrupted.Add(float64(n))
	m.PlaybackActive.Set(0)
}

// BufferFailed records a buffer the output refused.
func (m *Metrics) BufferFailed() {
	if m == nil {
		return
	}
	m.PlaybackFailed.Inc()
}

// SetState marks state as current and clears the previous one.
func (m *Metrics) SetState(state string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastState != "" && m.lastState != state {
		m.SessionState.WithLabelValues(m.lastState).Set(0)
	}
	m.SessionState.WithLabelValues(state).Set(1)
	m.lastState = state
}

// SessionStarted records a start request.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionStarts.Inc()
}

// SessionError records a session ended by an error.
func (m *Metrics) SessionError(reason string) {
	if m == nil {
		return
	}
	m.SessionErrors.WithLabelValues(reason).Inc()
}

// TurnTracker returns the latency tracker, or nil.
func (m *Metrics) TurnTracker() *LatencyTracker {
	if m == nil {
		return nil
	}
	return m.Turns
}
