package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "conversation_engine_active_sessions",
		Help: "Number of active conversation sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conversation_engine_sessions_total",
		Help: "Total number of sessions started",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "conversation_engine_session_duration_seconds",
		Help:    "Duration of conversation sessions in seconds",
		Buckets: []float64{10, 30, 60, 120, 300, 600, 1800, 3600},
	})

	// Audio metrics
	audioBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conversation_engine_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"

	droppedChunks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conversation_engine_dropped_chunks_total",
		Help: "Audio chunks dropped past retention caps or after upload failures",
	}, []string{"reason"})

	bargeIns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conversation_engine_barge_ins_total",
		Help: "Times the host interrupted the AI mid-response",
	})

	// Transcript metrics
	transcriptEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conversation_engine_transcript_entries_total",
		Help: "Finalized transcript entries",
	}, []string{"speaker"})

	// Stream metrics
	streamReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conversation_engine_stream_reconnects_total",
		Help: "Push-event stream reconnections",
	}, []string{"stream"})

	archiveExports = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conversation_engine_archive_exports_total",
		Help: "Conversation archives exported",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conversation_engine_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})
)

// SessionMetrics tracks metrics for a single session
type SessionMetrics struct {
	sessionID string
	startTime time.Time
}

// NewSessionMetrics creates a metrics tracker for a session
func NewSessionMetrics(sessionID string) *SessionMetrics {
	return &SessionMetrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *SessionMetrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session
func (m *SessionMetrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordAudioBytes records audio bytes processed
func (m *SessionMetrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytes.WithLabelValues(direction).Add(float64(bytes))
}

// RecordBargeIn records a host interruption
func (m *SessionMetrics) RecordBargeIn() {
	bargeIns.Inc()
}

// RecordTranscriptEntry records a finalized transcript entry
func (m *SessionMetrics) RecordTranscriptEntry(speaker string) {
	transcriptEntries.WithLabelValues(speaker).Inc()
}

// RecordError records an error
func (m *SessionMetrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordDroppedChunk records a dropped audio chunk
func RecordDroppedChunk(reason string) {
	droppedChunks.WithLabelValues(reason).Inc()
}

// RecordStreamReconnect records a push-stream reconnection
func RecordStreamReconnect(stream string) {
	streamReconnects.WithLabelValues(stream).Inc()
}

// RecordArchiveExport records an archive export
func RecordArchiveExport() {
	archiveExports.Inc()
}
