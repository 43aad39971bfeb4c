package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector provides application metrics collection
type Collector struct {
	// API Metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec
	APIErrorsTotal     *prometheus.CounterVec

	// Ingestion Metrics
	IngestionFilesTotal    *prometheus.CounterVec
	IngestionRecordsTotal  prometheus.Counter
	IngestionSkippedTotal  prometheus.Counter
	IngestionDuration      prometheus.Histogram
	IngestionErrorsTotal   *prometheus.CounterVec
	IngestionBatchSize     prometheus.Histogram
	IngestionActiveWorkers prometheus.Gauge

	// Database Metrics
	DBQueryDuration  *prometheus.HistogramVec
	DBConnectionPool *prometheus.GaugeVec
	DBErrorsTotal    *prometheus.CounterVec

	// Statistics Metrics
	StatsRowsWritten         prometheus.Counter
	StatsCalculationDuration prometheus.Histogram

	// Jobs
	JobsTotal *prometheus.CounterVec
}

// NewCollector creates a new metrics collector registered with the default registry
func NewCollector(namespace string) *Collector {
	return NewCollectorWithRegistry(namespace, prometheus.DefaultRegisterer)
}

// NewCollectorForTesting registers on a fresh registry so repeated construction
// inside one test binary does not panic on duplicate registration.
func NewCollectorForTesting() *Collector {
	return NewCollectorWithRegistry("test", prometheus.NewRegistry())
}

// NewCollectorWithRegistry creates a collector whose metrics are registered on reg
func NewCollectorWithRegistry(namespace string, reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		APIRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of API requests by endpoint, method, and status",
			},
			[]string{"endpoint", "method", "status"},
		),

		APIRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1.0, 2.0, 5.0},
			},
			[]string{"endpoint"},
		),

		APIErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_errors_total",
				Help:      "Total number of API errors by type",
			},
			[]string{"error_type", "endpoint"},
		),

		IngestionFilesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingestion_files_total",
				Help:      "Station files processed by outcome",
			},
			[]string{"outcome"}, // "success", "failed"
		),

		IngestionRecordsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingestion_records_inserted_total",
				Help:      "Total number of weather records inserted",
			},
		),

		IngestionSkippedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingestion_records_skipped_total",
				Help:      "Records skipped because their station and date already exist",
			},
		),

		IngestionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ingestion_duration_seconds",
				Help:      "Duration of ingestion runs in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
		),

		IngestionErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingestion_errors_total",
				Help:      "Total number of ingestion errors by type",
			},
			[]string{"error_type"},
		),

		IngestionBatchSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ingestion_batch_size",
				Help:      "Number of records per flushed batch during ingestion",
				Buckets:   []float64{10, 50, 100, 500, 1000, 5000, 10000},
			},
		),

		IngestionActiveWorkers: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ingestion_active_workers",
				Help:      "Number of file workers currently running",
			},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "db_query_duration_seconds",
				Help:      "Database query duration in seconds by query type",
				Buckets:   []float64{0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1, 5},
			},
			[]string{"query_type"},
		),

		DBConnectionPool: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connection_pool",
				Help:      "Database connection pool statistics",
			},
			[]string{"state"}, // "in_use", "idle", "total"
		),

		DBErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_errors_total",
				Help:      "Total number of database errors by type",
			},
			[]string{"error_type"},
		),

		StatsRowsWritten: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stats_rows_written_total",
				Help:      "Yearly statistics rows written by recompute runs",
			},
		),

		StatsCalculationDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stats_calculation_duration_seconds",
				Help:      "Duration of a full statistics recompute in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
		),

		JobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_total",
				Help:      "Background jobs by kind and final status",
			},
			[]string{"kind", "status"},
		),
	}
}

// Timer provides timing functionality for operations
type Timer struct {
	start    time.Time
	observer prometheus.Observer
}

// NewTimer creates a new timer
func (c *Collector) NewTimer(histogram prometheus.Observer) *Timer {
	return &Timer{
		start:    time.Now(),
		observer: histogram,
	}
}

// ObserveDuration records the elapsed time since timer creation
func (t *Timer) ObserveDuration() time.Duration {
	duration := time.Since(t.start)
	if t.observer != nil {
		t.observer.Observe(duration.Seconds())
	}
	return duration
}

// RecordAPIRequest increments API request counter
func (c *Collector) RecordAPIRequest(endpoint, method, status string) {
	c.APIRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

// RecordAPIError increments API error counter
func (c *Collector) RecordAPIError(errorType, endpoint string) {
	c.APIErrorsTotal.WithLabelValues(errorType, endpoint).Inc()
}

// RecordIngestionError increments ingestion error counter
func (c *Collector) RecordIngestionError(errorType string) {
	c.IngestionErrorsTotal.WithLabelValues(errorType).Inc()
}

// RecordFile counts a finished station file
func (c *Collector) RecordFile(failed bool) {
	outcome := "success"
	if failed {
		outcome = "failed"
	}
	c.IngestionFilesTotal.WithLabelValues(outcome).Inc()
}

// RecordDBError increments database error counter
func (c *Collector) RecordDBError(errorType string) {
	c.DBErrorsTotal.WithLabelValues(errorType).Inc()
}

// RecordJob counts a finished background job
func (c *Collector) RecordJob(kind, status string) {
	c.JobsTotal.WithLabelValues(kind, status).Inc()
}

// UpdateDBConnectionPool updates database connection pool metrics
func (c *Collector) UpdateDBConnectionPool(inUse, idle, total int) {
	c.DBConnectionPool.WithLabelValues("in_use").Set(float64(inUse))
	c.DBConnectionPool.WithLabelValues("idle").Set(float64(idle))
	c.DBConnectionPool.WithLabelValues("total").Set(float64(total))
}
