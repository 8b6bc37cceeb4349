package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the SER service
type Metrics struct {
	// Job queue metrics
	JobsEnqueued  prometheus.Counter
	JobsProcessed prometheus.Counter
	JobsFailed    prometheus.Counter
	QueueSize     prometheus.Gauge

	// Inference metrics
	InferenceDuration prometheus.Histogram

	// Session metrics
	SessionsCreated prometheus.Counter
	SessionsPruned  prometheus.Counter
	ActiveUsers     prometheus.Gauge

	// Aggregation metrics
	AggregationPasses   prometheus.Counter
	AggregationFailures prometheus.Counter
	ChunksAggregated    prometheus.Counter
	AggregatedRecords   prometheus.Counter

	// Fusion read path metrics
	PredictQueries *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Job queue metrics
		JobsEnqueued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ser_jobs_enqueued_total",
			Help: "Total number of audio chunks enqueued for processing",
		}),
		JobsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ser_jobs_processed_total",
			Help: "Total number of jobs processed successfully",
		}),
		JobsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ser_jobs_failed_total",
			Help: "Total number of jobs that failed inference and produced an error sentinel",
		}),
		QueueSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ser_queue_size",
			Help: "Current number of jobs waiting in the processing queue",
		}),

		// Inference metrics
		InferenceDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ser_inference_duration_seconds",
			Help:    "Duration of inference pipeline calls",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7 minutes, covers model warmup
		}),

		// Session metrics
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ser_sessions_created_total",
			Help: "Total number of sessions opened by gap detection",
		}),
		SessionsPruned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ser_sessions_pruned_total",
			Help: "Total number of sessions removed after aggregation",
		}),
		ActiveUsers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ser_active_users",
			Help: "Current number of users with retained sessions",
		}),

		// Aggregation metrics
		AggregationPasses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ser_aggregation_passes_total",
			Help: "Total number of completed aggregation passes",
		}),
		AggregationFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ser_aggregation_failures_total",
			Help: "Total number of aggregation passes that failed to write the durable log",
		}),
		ChunksAggregated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ser_chunks_aggregated_total",
			Help: "Total number of chunk results folded into aggregated records",
		}),
		AggregatedRecords: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ser_aggregated_records_total",
			Help: "Total number of aggregated records appended to the durable log",
		}),

		// Fusion read path metrics
		PredictQueries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ser_predict_queries_total",
			Help: "Total number of fusion window queries",
		}, []string{"clear"}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ser_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ser_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ser_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordJobEnqueued increments the enqueued jobs counter
func (m *Metrics) RecordJobEnqueued() {
	m.JobsEnqueued.Inc()
}

// RecordJobProcessed records a completed job and the inference duration
func (m *Metrics) RecordJobProcessed(durationSeconds float64) {
	m.JobsProcessed.Inc()
	m.InferenceDuration.Observe(durationSeconds)
}

// RecordJobFailed records a failed job and the inference duration
func (m *Metrics) RecordJobFailed(durationSeconds float64) {
	m.JobsFailed.Inc()
	m.InferenceDuration.Observe(durationSeconds)
}

// SetQueueSize sets the current queue size
func (m *Metrics) SetQueueSize(size int) {
	m.QueueSize.Set(float64(size))
}

// RecordSessionCreated increments the sessions created counter
func (m *Metrics) RecordSessionCreated() {
	m.SessionsCreated.Inc()
}

// RecordSessionsPruned adds to the pruned sessions counter
func (m *Metrics) RecordSessionsPruned(count int) {
	m.SessionsPruned.Add(float64(count))
}

// SetActiveUsers sets the current number of tracked users
func (m *Metrics) SetActiveUsers(count int) {
	m.ActiveUsers.Set(float64(count))
}

// RecordAggregationPass records a completed aggregation pass
func (m *Metrics) RecordAggregationPass(records, chunks int) {
	m.AggregationPasses.Inc()
	m.AggregatedRecords.Add(float64(records))
	m.ChunksAggregated.Add(float64(chunks))
}

// RecordAggregationFailure increments the aggregation failures counter
func (m *Metrics) RecordAggregationFailure() {
	m.AggregationFailures.Inc()
}

// RecordPredictQuery records a fusion window query
func (m *Metrics) RecordPredictQuery(clear bool) {
	label := "false"
	if clear {
		label = "true"
	}
	m.PredictQueries.WithLabelValues(label).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
