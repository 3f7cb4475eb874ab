// Package metrics provides Prometheus metrics for the StackDrive server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackdrive_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stackdrive_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// File lifecycle metrics
	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackdrive_uploads_total",
			Help: "Total number of file uploads",
		},
		[]string{"status"},
	)

	uploadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stackdrive_upload_bytes_total",
			Help: "Total bytes accepted by successful uploads",
		},
	)

	deletesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackdrive_deletes_total",
			Help: "Total number of file deletions",
		},
		[]string{"status"},
	)

	downloadURLsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stackdrive_download_urls_total",
			Help: "Total number of download URLs minted",
		},
	)

	// Access control metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackdrive_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"result"},
	)

	permissionChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackdrive_permission_checks_total",
			Help: "Total permission checks",
		},
		[]string{"result"},
	)

	// Quota metrics
	quotaExceededTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stackdrive_quota_exceeded_total",
			Help: "Total quota exceeded rejections",
		},
	)

	quotaReconciliationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stackdrive_quota_reconciliations_total",
			Help: "Total quota ledger corrections applied by the reconciler",
		},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stackdrive_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stackdrive_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	// Blob store metrics
	blobOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stackdrive_blob_operation_duration_seconds",
			Help:    "Blob store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	blobOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackdrive_blob_operations_total",
			Help: "Total blob store operations",
		},
		[]string{"operation", "status"},
	)

	// SSE metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stackdrive_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackdrive_sse_events_total",
			Help: "Total SSE events published",
		},
		[]string{"type"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordUpload records an upload outcome.
func RecordUpload(bytes int64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	uploadsTotal.WithLabelValues(status).Inc()
	if success {
		uploadBytesTotal.Add(float64(bytes))
	}
}

// RecordDelete records a deletion outcome.
func RecordDelete(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	deletesTotal.WithLabelValues(status).Inc()
}

// RecordDownloadURL records a minted download URL.
func RecordDownloadURL() {
	downloadURLsTotal.Inc()
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordPermissionCheck records a permission check result.
func RecordPermissionCheck(allowed bool) {
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	permissionChecksTotal.WithLabelValues(result).Inc()
}

// RecordQuotaExceeded records a quota exceeded rejection.
func RecordQuotaExceeded() {
	quotaExceededTotal.Inc()
}

// RecordQuotaReconciliation records a ledger correction.
func RecordQuotaReconciliation() {
	quotaReconciliationsTotal.Inc()
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// SetDBConnectionsOpen sets the number of open database connections.
func SetDBConnectionsOpen(count int) {
	dbConnectionsOpen.Set(float64(count))
}

// RecordBlobOperation records a blob store operation.
func RecordBlobOperation(operation string, duration time.Duration, success bool) {
	blobOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	blobOperationsTotal.WithLabelValues(operation, status).Inc()
}

// SetSSEConnectionsActive sets the number of active SSE connections.
func SetSSEConnectionsActive(count int64) {
	sseConnectionsActive.Set(float64(count))
}

// RecordSSEEvent records an SSE event publication.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
