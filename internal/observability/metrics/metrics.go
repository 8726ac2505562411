// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "whispr"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Stream metrics
	StreamsStarted *prometheus.CounterVec
	StreamsActive  *prometheus.GaugeVec
	StreamsFailed  *prometheus.CounterVec
	StreamDuration *prometheus.HistogramVec

	// Capture metrics
	AudioBuffersReceived *prometheus.CounterVec
	AudioBytesReceived   *prometheus.CounterVec
	AudioLevel           *prometheus.GaugeVec
	LevelUpdatesDropped  *prometheus.CounterVec
	TeardownFailures     *prometheus.CounterVec

	// Transcript metrics
	TranscriptUpdates  *prometheus.CounterVec
	UtterancesDetected *prometheus.CounterVec
	StaleResults       *prometheus.CounterVec

	// STT metrics
	STTErrors         *prometheus.CounterVec
	STTBuffersDropped *prometheus.CounterVec
	STTResultLatency  *prometheus.HistogramVec

	// Note metrics
	NotesCompiled prometheus.Counter
	NoteLength    prometheus.Gauge

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// HTTP metrics
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	LiveClientsGauge prometheus.Gauge
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		// Stream metrics
		StreamsStarted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_started_total",
			Help:      "Total number of capture streams started",
		}, []string{"source"}),
		StreamsActive: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_active",
			Help:      "Number of currently streaming sources",
		}, []string{"source"}),
		StreamsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_failed_total",
			Help:      "Total number of stream starts that failed",
		}, []string{"source", "reason"}),
		StreamDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_duration_seconds",
			Help:      "Duration of capture streams in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 300, 900, 1800, 3600},
		}, []string{"source"}),

		// Capture metrics
		AudioBuffersReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_buffers_received_total",
			Help:      "Total audio buffers delivered by the hardware",
		}, []string{"source"}),
		AudioBytesReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total audio bytes delivered by the hardware",
		}, []string{"source"}),
		AudioLevel: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "audio_level",
			Help:      "Most recent perceptual audio level in [0,1]",
		}, []string{"source", "kind"}),
		LevelUpdatesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "level_updates_dropped_total",
			Help:      "Level updates dropped because a subscriber was not keeping up",
		}, []string{"source"}),
		TeardownFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "teardown_failures_total",
			Help:      "Hardware teardown steps that failed",
		}, []string{"step"}),

		// Transcript metrics
		TranscriptUpdates: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_updates_total",
			Help:      "Total recognizer results applied to a transcript",
		}, []string{"source"}),
		UtterancesDetected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_total",
			Help:      "Total utterances detected",
		}, []string{"source"}),
		StaleResults: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_results_total",
			Help:      "Recognizer results ignored because their session had ended",
		}, []string{"source"}),

		// STT metrics
		STTErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_errors_total",
			Help:      "Total number of STT errors",
		}, []string{"provider", "error_type"}),
		STTBuffersDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_buffers_dropped_total",
			Help:      "Audio buffers dropped because the recognizer queue was full",
		}, []string{"provider"}),
		STTResultLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stt_result_latency_seconds",
			Help:      "Time from recognizer start to each result",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"provider"}),

		// Note metrics
		NotesCompiled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notes_compiled_total",
			Help:      "Total note compilations that changed the note body",
		}),
		NoteLength: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "note_length_runes",
			Help:      "Length of the current note body",
		}),

		// Kafka publish metrics
		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		// HTTP metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by route and status code",
		}, []string{"route", "code"}),
		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		LiveClientsGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_clients",
			Help:      "Connected live feed clients",
		}),
	}
}

// RecordStreamStart records a source starting to stream.
func (m *Metrics) RecordStreamStart(source string) {
	m.StreamsStarted.WithLabelValues(source).Inc()
	m.StreamsActive.WithLabelValues(source).Inc()
}

// RecordStreamEnd records a source stopping.
func (m *Metrics) RecordStreamEnd(source string, durationSeconds float64) {
	m.StreamsActive.WithLabelValues(source).Dec()
	m.StreamDuration.WithLabelValues(source).Observe(durationSeconds)
}

// RecordStreamFailed records a start that did not reach Streaming.
func (m *Metrics) RecordStreamFailed(source, reason string) {
	m.StreamsFailed.WithLabelValues(source, reason).Inc()
}

// RecordAudioReceived records one hardware buffer.
func (m *Metrics) RecordAudioReceived(source string, bytes int) {
	m.AudioBuffersReceived.WithLabelValues(source).Inc()
	m.AudioBytesReceived.WithLabelValues(source).Add(float64(bytes))
}

// RecordLevels records the latest published levels for a source.
func (m *Metrics) RecordLevels(source string, average, peak float64) {
	m.AudioLevel.WithLabelValues(source, "average").Set(average)
	m.AudioLevel.WithLabelValues(source, "peak").Set(peak)
}

// RecordLevelDropped records a level update a subscriber missed.
func (m *Metrics) RecordLevelDropped(source string) {
	m.LevelUpdatesDropped.WithLabelValues(source).Inc()
}

// RecordTeardownFailure records a failed hardware release step.
func (m *Metrics) RecordTeardownFailure(step string) {
	m.TeardownFailures.WithLabelValues(step).Inc()
}

// RecordTranscriptUpdate records a result applied to a transcript.
func (m *Metrics) RecordTranscriptUpdate(source string, newUtterance bool) {
	m.TranscriptUpdates.WithLabelValues(source).Inc()
	if newUtterance {
		m.UtterancesDetected.WithLabelValues(source).Inc()
	}
}

// RecordStaleResult records a late recognizer callback that was ignored.
func (m *Metrics) RecordStaleResult(source string) {
	m.StaleResults.WithLabelValues(source).Inc()
}

// RecordSTTError records an STT error.
func (m *Metrics) RecordSTTError(provider, errorType string) {
	m.STTErrors.WithLabelValues(provider, errorType).Inc()
}

// RecordSTTDropped records an audio buffer the recognizer could not accept.
func (m *Metrics) RecordSTTDropped(provider string) {
	m.STTBuffersDropped.WithLabelValues(provider).Inc()
}

// RecordSTTResult records the latency of a recognizer result.
func (m *Metrics) RecordSTTResult(provider string, latencySeconds float64) {
	m.STTResultLatency.WithLabelValues(provider).Observe(latencySeconds)
}

// RecordNoteCompiled records a note body change.
func (m *Metrics) RecordNoteCompiled(length int) {
	m.NotesCompiled.Inc()
	m.NoteLength.Set(float64(length))
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(route string, code int, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(durationSeconds)
}

// RecordLiveClient tracks live feed connections.
func (m *Metrics) RecordLiveClient(connected bool) {
	if connected {
		m.LiveClientsGauge.Inc()
		return
	}
	m.LiveClientsGauge.Dec()
}
