// Package metrics provides Prometheus metrics for the streaming engine.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the engine.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	registry         prometheus.Registerer

	// Pipeline metrics - events in, rows out
	eventsProcessed   *prometheus.CounterVec
	decodeErrors      *prometheus.CounterVec
	lateEventsDropped *prometheus.CounterVec
	deadLetters       *prometheus.CounterVec

	// Window metrics
	windowsClosed       *prometheus.CounterVec
	windowsForcedClosed *prometheus.CounterVec
	windowsDroppedEmpty *prometheus.CounterVec
	openWindows         *prometheus.GaugeVec
	watermark           *prometheus.GaugeVec

	// Source metrics
	sourceOffset   *prometheus.GaugeVec
	sourceErrors   prometheus.Counter
	partitionHalts *prometheus.CounterVec

	// Sink metrics
	sinkBatches     prometheus.Counter
	sinkRowsWritten prometheus.Counter
	sinkRetries     prometheus.Counter
	sinkFailures    prometheus.Counter
	sinkSpilled     prometheus.Counter
	sinkLatency     prometheus.Histogram

	// Checkpoint metrics
	checkpointSuccesses prometheus.Counter
	checkpointFailures  prometheus.Counter
	checkpointRestores  prometheus.Counter
	checkpointLatency   prometheus.Histogram

	// HTTP observability surface
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// System performance metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "devscout",
		subsystem:        "streaming",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	m.eventsProcessed = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "events_processed_total",
			Help:      "Events successfully decoded and routed, per pipeline",
		},
		[]string{"pipeline"},
	)

	m.decodeErrors = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "decode_errors_total",
			Help:      "Payloads rejected by the decoder, per reason",
		},
		[]string{"reason"},
	)

	m.lateEventsDropped = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "late_events_dropped_total",
			Help:      "Events rejected as too late relative to the watermark, per pipeline",
		},
		[]string{"pipeline"},
	)

	m.deadLetters = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "dead_letters_total",
			Help:      "Entries routed to the dead-letter sink, per reason",
		},
		[]string{"reason"},
	)

	m.windowsClosed = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "windows_closed_total",
			Help:      "Windows closed by watermark advance, per pipeline",
		},
		[]string{"pipeline"},
	)

	m.windowsForcedClosed = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "windows_forced_closed_total",
			Help:      "Windows flushed at shutdown regardless of watermark, per pipeline",
		},
		[]string{"pipeline"},
	)

	m.windowsDroppedEmpty = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "windows_dropped_empty_total",
			Help:      "Closed windows skipped because they held no events",
		},
		[]string{"pipeline"},
	)

	m.openWindows = auto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "open_windows",
			Help:      "Accumulators currently open in the window store, per partition",
		},
		[]string{"partition"},
	)

	m.watermark = auto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "watermark_unix_milliseconds",
			Help:      "Current event-time watermark, per pipeline and partition",
		},
		[]string{"pipeline", "partition"},
	)

	m.sourceOffset = auto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "source_offset",
			Help:      "Last consumed source offset, per partition",
		},
		[]string{"partition"},
	)

	m.sourceErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "source_errors_total",
		Help:      "Source poll failures",
	})

	m.partitionHalts = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "source_partition_halts_total",
			Help:      "Partitions abandoned after exhausting the poll retry budget",
		},
		[]string{"partition"},
	)

	m.sinkBatches = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sink_batches_total",
		Help:      "Batches delivered to the sink",
	})

	m.sinkRowsWritten = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sink_rows_written_total",
		Help:      "Finalized rows delivered to the sink",
	})

	m.sinkRetries = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sink_retries_total",
		Help:      "Sink write retries after transient failures",
	})

	m.sinkFailures = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sink_failures_total",
		Help:      "Sink batches that exhausted their retry budget",
	})

	m.sinkSpilled = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sink_rows_spilled_total",
		Help:      "Rows spilled to the dead-letter store after retry exhaustion",
	})

	m.sinkLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sink_write_latency_milliseconds",
		Help:      "Sink batch write latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.checkpointSuccesses = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "checkpoint_successes_total",
		Help:      "Checkpoints written successfully",
	})

	m.checkpointFailures = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "checkpoint_failures_total",
		Help:      "Checkpoint writes that failed",
	})

	m.checkpointRestores = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "checkpoint_restores_total",
		Help:      "Successful checkpoint restores at startup",
	})

	m.checkpointLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "checkpoint_write_latency_milliseconds",
		Help:      "Checkpoint write latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.httpRequests = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by endpoint and method",
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.httpRequestDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_request_duration_milliseconds",
			Help:      "HTTP request duration in milliseconds",
			Buckets:   m.histogramBuckets,
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.systemMemoryUsage = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_memory_bytes",
		Help:      "Current heap memory usage in bytes",
	})

	m.systemGoroutineCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_goroutines",
		Help:      "Current number of goroutines",
	})

	m.systemGCPauseTime = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_gc_pause_milliseconds",
		Help:      "GC pause time in milliseconds",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
	})
}

// Pipeline metrics functions.

// RecordEventProcessed increments the processed counter for a pipeline.
func RecordEventProcessed(pipeline string) {
	globalManager.eventsProcessed.WithLabelValues(pipeline).Inc()
}

// RecordDecodeError increments the decode error counter for a reason.
func RecordDecodeError(reason string) {
	globalManager.decodeErrors.WithLabelValues(reason).Inc()
}

// RecordLateEventDropped increments the late-drop counter for a pipeline.
func RecordLateEventDropped(pipeline string) {
	globalManager.lateEventsDropped.WithLabelValues(pipeline).Inc()
}

// RecordDeadLetter increments the dead-letter counter for a reason.
func RecordDeadLetter(reason string) {
	globalManager.deadLetters.WithLabelValues(reason).Inc()
}

// Window metrics functions.

// RecordWindowsClosed adds to the closed-window counter for a pipeline.
func RecordWindowsClosed(pipeline string, count int) {
	globalManager.windowsClosed.WithLabelValues(pipeline).Add(float64(count))
}

// RecordWindowsForcedClosed adds to the forced-close counter for a pipeline.
func RecordWindowsForcedClosed(pipeline string, count int) {
	globalManager.windowsForcedClosed.WithLabelValues(pipeline).Add(float64(count))
}

// RecordWindowDroppedEmpty increments the empty-window counter for a pipeline.
func RecordWindowDroppedEmpty(pipeline string) {
	globalManager.windowsDroppedEmpty.WithLabelValues(pipeline).Inc()
}

// UpdateOpenWindows sets the open accumulator gauge for a partition.
func UpdateOpenWindows(partition, count int) {
	globalManager.openWindows.WithLabelValues(strconv.Itoa(partition)).Set(float64(count))
}

// UpdateWatermark sets the watermark gauge for a pipeline/partition pair.
func UpdateWatermark(pipeline string, partition int, unixMilli int64) {
	globalManager.watermark.WithLabelValues(pipeline, strconv.Itoa(partition)).Set(float64(unixMilli))
}

// Source metrics functions.

// UpdateSourceOffset sets the last consumed offset for a partition.
func UpdateSourceOffset(partition int, offset int64) {
	globalManager.sourceOffset.WithLabelValues(strconv.Itoa(partition)).Set(float64(offset))
}

// RecordSourceError increments the source error counter.
func RecordSourceError() {
	globalManager.sourceErrors.Inc()
}

// RecordPartitionHalt increments the halt counter for a partition.
func RecordPartitionHalt(partition int) {
	globalManager.partitionHalts.WithLabelValues(strconv.Itoa(partition)).Inc()
}

// Sink metrics functions.

// RecordSinkBatch records one delivered batch of the given size.
func RecordSinkBatch(rows int) {
	globalManager.sinkBatches.Inc()
	globalManager.sinkRowsWritten.Add(float64(rows))
}

// RecordSinkRetry increments the sink retry counter.
func RecordSinkRetry() {
	globalManager.sinkRetries.Inc()
}

// RecordSinkFailure increments the sink failure counter.
func RecordSinkFailure() {
	globalManager.sinkFailures.Inc()
}

// RecordSinkSpill adds to the spilled-row counter.
func RecordSinkSpill(rows int) {
	globalManager.sinkSpilled.Add(float64(rows))
}

// RecordSinkLatency records sink batch write latency in milliseconds.
func RecordSinkLatency(latencyMs float64) {
	globalManager.sinkLatency.Observe(latencyMs)
}

// Checkpoint metrics functions.

// RecordCheckpointSuccess increments the checkpoint success counter.
func RecordCheckpointSuccess() {
	globalManager.checkpointSuccesses.Inc()
}

// RecordCheckpointFailure increments the checkpoint failure counter.
func RecordCheckpointFailure() {
	globalManager.checkpointFailures.Inc()
}

// RecordCheckpointRestore increments the checkpoint restore counter.
func RecordCheckpointRestore() {
	globalManager.checkpointRestores.Inc()
}

// RecordCheckpointLatency records checkpoint write latency in milliseconds.
func RecordCheckpointLatency(latencyMs float64) {
	globalManager.checkpointLatency.Observe(latencyMs)
}

// HTTP metrics functions.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// System metrics functions.

// UpdateSystemMemoryUsage sets the heap usage gauge.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the goroutine gauge.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records a GC pause in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom registry serving /metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
