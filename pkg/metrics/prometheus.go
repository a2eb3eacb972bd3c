// Package metrics provides Prometheus metrics for the recon deduplication service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Deduplication outcomes
	verdicts          *prometheus.CounterVec
	evaluationLatency prometheus.Histogram
	recordsInserted   prometheus.Counter
	recordsMarked     prometheus.Counter
	recordsMerged     prometheus.Counter
	comparisonCache   *prometheus.CounterVec

	// Reconciliation
	cleanupRuns      *prometheus.CounterVec
	cleanupDuration  *prometheus.HistogramVec
	clustersAnalyzed prometheus.Counter
	cleanupErrors    prometheus.Counter

	// Store
	storeLatency *prometheus.HistogramVec
	storeErrors  *prometheus.CounterVec
	storeRecords *prometheus.GaugeVec

	// Queue
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueued          prometheus.Counter
	queueDequeued          prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	// Workers
	workerCount             prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// Kafka source
	kafkaMessages *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors and runtime
	errorsByComponent    *prometheus.CounterVec
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "recon",
		subsystem:        "dedupe",
		histogramBuckets: prometheus.DefBuckets,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) gauge(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) histogram(name, help string) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
		ConstLabels: m.customLabels, Buckets: m.histogramBuckets,
	}
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)

	m.verdicts = auto.NewCounterVec(m.counter("verdicts_total",
		"Evaluated candidates by classification and resulting action"), []string{"classification", "action"})
	m.evaluationLatency = auto.NewHistogram(m.histogram("evaluation_latency_milliseconds",
		"Latency of one candidate evaluation in milliseconds"))
	m.recordsInserted = auto.NewCounter(m.counter("records_inserted_total",
		"Records inserted as unique originals"))
	m.recordsMarked = auto.NewCounter(m.counter("records_marked_total",
		"Records flagged as duplicates"))
	m.recordsMerged = auto.NewCounter(m.counter("records_merged_total",
		"Duplicates whose fields were merged into their canonical"))
	m.comparisonCache = auto.NewCounterVec(m.counter("comparison_cache_total",
		"Textual comparison cache lookups by result"), []string{"result"})

	m.cleanupRuns = auto.NewCounterVec(m.counter("cleanup_runs_total",
		"Reconciliation runs by mode"), []string{"mode"})
	m.cleanupDuration = auto.NewHistogramVec(m.histogram("cleanup_duration_milliseconds",
		"Reconciliation run duration in milliseconds"), []string{"mode"})
	m.clustersAnalyzed = auto.NewCounter(m.counter("clusters_analyzed_total",
		"Duplicate clusters examined by reconciliation"))
	m.cleanupErrors = auto.NewCounter(m.counter("cleanup_errors_total",
		"Clusters that failed during reconciliation"))

	m.storeLatency = auto.NewHistogramVec(m.histogram("store_operation_latency_milliseconds",
		"Record store operation latency in milliseconds"), []string{"driver", "op"})
	m.storeErrors = auto.NewCounterVec(m.counter("store_errors_total",
		"Record store failures"), []string{"driver", "op"})
	m.storeRecords = auto.NewGaugeVec(m.gauge("store_records",
		"Records held by the store"), []string{"driver"})

	m.queueSize = auto.NewGauge(m.gauge("queue_size", "Current size of the ingestion queue"))
	m.queueCapacity = auto.NewGauge(m.gauge("queue_capacity", "Ingestion queue capacity"))
	m.queueUtilization = auto.NewGauge(m.gauge("queue_utilization_ratio", "Ingestion queue size / capacity"))
	m.queueEnqueued = auto.NewCounter(m.counter("queue_enqueued_total", "Records enqueued for ingestion"))
	m.queueDequeued = auto.NewCounter(m.counter("queue_dequeued_total", "Records dequeued by workers"))
	m.queueEnqueueErrors = auto.NewCounter(m.counter("queue_enqueue_errors_total", "Rejected enqueue attempts"))
	m.queueProcessingLatency = auto.NewHistogram(m.histogram("queue_processing_latency_milliseconds",
		"Enqueue latency in milliseconds"))

	m.workerCount = auto.NewGauge(m.gauge("worker_count", "Running ingestion workers"))
	m.workerProcessingLatency = auto.NewHistogram(m.histogram("worker_processing_latency_milliseconds",
		"Per-record ingestion latency in milliseconds"))
	m.workerErrors = auto.NewCounter(m.counter("worker_errors_total", "Records the workers failed to ingest"))

	m.kafkaMessages = auto.NewCounterVec(m.counter("kafka_messages_total",
		"Kafka messages by outcome"), []string{"status"})

	m.httpRequests = auto.NewCounterVec(m.counter("http_requests_total",
		"HTTP requests by endpoint, method and status"), []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogram("http_request_duration_milliseconds",
		"HTTP request duration in milliseconds"), []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = auto.NewCounterVec(m.counter("errors_total",
		"Errors by component and type"), []string{"component", "type"})
	m.systemMemoryUsage = auto.NewGauge(m.gauge("system_memory_bytes", "Heap bytes allocated"))
	m.systemGoroutineCount = auto.NewGauge(m.gauge("system_goroutines", "Number of goroutines"))
	m.systemGCPauseTime = auto.NewHistogram(m.histogram("system_gc_pause_milliseconds",
		"Average GC pause in milliseconds"))
}

// Deduplication.

// RecordVerdict counts one evaluation outcome.
func RecordVerdict(classification, action string) {
	globalManager.verdicts.WithLabelValues(classification, action).Inc()
}

// RecordEvaluationLatency records how long one evaluation took.
func RecordEvaluationLatency(latencyMs float64) {
	globalManager.evaluationLatency.Observe(latencyMs)
}

// RecordRecordInserted counts a unique insert.
func RecordRecordInserted() { globalManager.recordsInserted.Inc() }

// RecordRecordMarked counts a record flagged as duplicate.
func RecordRecordMarked() { globalManager.recordsMarked.Inc() }

// RecordRecordMerged counts a merge into a canonical.
func RecordRecordMerged() { globalManager.recordsMerged.Inc() }

// RecordComparisonCache counts a cache lookup.
func RecordComparisonCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	globalManager.comparisonCache.WithLabelValues(result).Inc()
}

// Reconciliation.

// RecordCleanupRun counts a run in mode ("dry_run" or "apply").
func RecordCleanupRun(mode string) { globalManager.cleanupRuns.WithLabelValues(mode).Inc() }

// RecordCleanupDuration records a run duration.
func RecordCleanupDuration(mode string, latencyMs float64) {
	globalManager.cleanupDuration.WithLabelValues(mode).Observe(latencyMs)
}

// RecordClustersAnalyzed adds n examined clusters.
func RecordClustersAnalyzed(n int) { globalManager.clustersAnalyzed.Add(float64(n)) }

// RecordCleanupError counts a failed cluster.
func RecordCleanupError() { globalManager.cleanupErrors.Inc() }

// Store.

// RecordStoreOperation records the latency of one store call.
func RecordStoreOperation(driver, op string, latencyMs float64) {
	globalManager.storeLatency.WithLabelValues(driver, op).Observe(latencyMs)
}

// RecordStoreError counts a failed store call.
func RecordStoreError(driver, op string) {
	globalManager.storeErrors.WithLabelValues(driver, op).Inc()
}

// UpdateStoreRecordsTotal sets the number of records held by driver.
func UpdateStoreRecordsTotal(driver string, count int) {
	globalManager.storeRecords.WithLabelValues(driver).Set(float64(count))
}

// Queue.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) { globalManager.queueUtilization.Set(utilization) }

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() { globalManager.queueEnqueued.Inc() }

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() { globalManager.queueDequeued.Inc() }

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() { globalManager.queueEnqueueErrors.Inc() }

// RecordQueueProcessingLatency records enqueue latency.
func RecordQueueProcessingLatency(latencyMs float64) {
	globalManager.queueProcessingLatency.Observe(latencyMs)
}

// Workers.

// UpdateWorkerCount sets the number of running workers.
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// RecordWorkerProcessingLatency records per-record ingestion latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() { globalManager.workerErrors.Inc() }

// Kafka.

// RecordKafkaMessage counts a consumed message by status.
func RecordKafkaMessage(status string) { globalManager.kafkaMessages.WithLabelValues(status).Inc() }

// HTTP.

// RecordHTTPRequest counts an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records an HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Errors and runtime.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the heap allocation in bytes.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) { globalManager.systemGoroutineCount.Set(float64(count)) }

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) { globalManager.systemGCPauseTime.Observe(pauseMs) }

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
