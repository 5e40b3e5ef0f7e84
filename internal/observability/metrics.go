package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	gradeRequestsTotal    *prometheus.CounterVec
	gradeLatencySeconds   *prometheus.HistogramVec
	gradeErrorsTotal      *prometheus.CounterVec
	bulkImportRowsTotal   *prometheus.CounterVec
	bulkDeferredJobsTotal *prometheus.CounterVec
	exportRowsTotal       *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used for grade API observability.
func RegisterMetrics() {
	registerOnce.Do(func() {
		gradeRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gradebook_requests_total",
			Help: "Total number of grade API requests served.",
		}, []string{"method", "route", "status"})

		gradeLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gradebook_latency_seconds",
			Help:    "Latency distribution for grade API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
		}, []string{"method", "route"})

		gradeErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gradebook_errors_total",
			Help: "Total number of error responses returned by grade endpoints.",
		}, []string{"method", "route", "status"})

		bulkImportRowsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gradebook_bulk_import_rows_total",
			Help: "Total number of CSV rows accepted for import processing.",
		}, []string{"kind"})

		bulkDeferredJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gradebook_bulk_deferred_jobs_total",
			Help: "Total number of imports handed to the deferred runner.",
		}, []string{"kind"})

		exportRowsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gradebook_export_rows_total",
			Help: "Total number of CSV rows streamed to export downloads.",
		}, []string{"kind"})

		prometheus.MustRegister(
			gradeRequestsTotal,
			gradeLatencySeconds,
			gradeErrorsTotal,
			bulkImportRowsTotal,
			bulkDeferredJobsTotal,
			exportRowsTotal,
		)
	})
}

// GradeRequests exposes the counter for grade API requests.
func GradeRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return gradeRequestsTotal
}

// GradeLatency exposes the latency histogram for grade API requests.
func GradeLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return gradeLatencySeconds
}

// GradeErrors exposes the counter for grade API error responses.
func GradeErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return gradeErrorsTotal
}

// BulkImportRows exposes the per-kind counter for imported CSV rows.
func BulkImportRows(kind string) prometheus.Counter {
	RegisterMetrics()
	return bulkImportRowsTotal.WithLabelValues(kind)
}

// BulkDeferredJobs exposes the per-kind counter for deferred import jobs.
func BulkDeferredJobs(kind string) prometheus.Counter {
	RegisterMetrics()
	return bulkDeferredJobsTotal.WithLabelValues(kind)
}

// ExportRows exposes the per-kind counter for exported CSV rows.
func ExportRows(kind string) prometheus.Counter {
	RegisterMetrics()
	return exportRowsTotal.WithLabelValues(kind)
}
