// Package metrics holds the Prometheus collectors shared by the reconciler,
// the worker pool and the dashboard. Collectors register with the default
// registry on import.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Submission results.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Sweep outcomes.
const (
	SweepCompleted = "completed"
	SweepSkipped   = "skipped"
	SweepFailed    = "failed"
)

// Job outcomes.
const (
	JobDone     = "done"
	JobRetry    = "retry"
	JobFailed   = "failed"
	JobDeferred = "deferred"
)

var (
	// Submissions counts queue submissions by job name and result.
	Submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiosync_submissions_total",
			Help: "Jobs submitted to the work queue",
		},
		[]string{"job", "result"},
	)

	// Sweeps counts reconciliation sweeps by outcome.
	Sweeps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiosync_sweeps_total",
			Help: "Full storage reconciliation sweeps",
		},
		[]string{"outcome"},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "audiosync_sweep_duration_seconds",
			Help:    "Duration of completed sweeps",
			Buckets: prometheus.DefBuckets,
		},
	)

	// SweepDrift counts add and delete submissions derived by sweeps.
	SweepDrift = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiosync_sweep_drift_total",
			Help: "Differences between disk and store found by sweeps",
		},
		[]string{"kind"},
	)

	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiosync_jobs_processed_total",
			Help: "Jobs executed by workers by name and outcome",
		},
		[]string{"job", "outcome"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "audiosync_job_duration_seconds",
			Help:    "Job handler duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)

	AdmissionDeferrals = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audiosync_admission_deferrals_total",
			Help: "Processing attempts deferred by the memory admission gate",
		},
	)

	PendingDebounces = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "audiosync_pending_debounces",
			Help: "Create events waiting for their debounce window",
		},
	)

	// FilesByStatus is refreshed by the dashboard poller.
	FilesByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "audiosync_files",
			Help: "File records by status",
		},
		[]string{"status"},
	)

	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiosync_http_requests_total",
			Help: "HTTP requests served by the dashboard",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "audiosync_http_request_duration_seconds",
			Help:    "Dashboard HTTP request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// ObserveSubmission records the result of one submission.
func ObserveSubmission(job string, err error) {
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	Submissions.WithLabelValues(job, result).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and durations.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		path := normalizePath(r.URL.Path)
		httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(rw.status)).Inc()
		httpDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController and websocket.Accept reach the
// underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// normalizePath replaces numeric segments with {id} to bound label cardinality.
func normalizePath(path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p == "" {
			continue
		}
		if _, err := strconv.ParseInt(p, 10, 64); err == nil {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}
