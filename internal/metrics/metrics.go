// Package metrics exposes Prometheus metrics for the job API, external
// stages and pipeline runs.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/robert-malhotra/s1-insar/internal/pipeline"
	"github.com/robert-malhotra/s1-insar/internal/processor"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insar_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "insar_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "insar_stage_duration_seconds",
			Help:    "External stage duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		},
		[]string{"stage", "result"},
	)

	runTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insar_run_transitions_total",
			Help: "Pipeline state transitions by target state.",
		},
		[]string{"state"},
	)

	runFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insar_run_failures_total",
			Help: "Failed pipeline runs by the last state reached.",
		},
		[]string{"state"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpDurationSeconds)
	prometheus.MustRegister(stageDurationSeconds)
	prometheus.MustRegister(runTransitionsTotal)
	prometheus.MustRegister(runFailuresTotal)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		path := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(path, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(path, r.Method).Observe(duration)
	})
}

var knownRoutes = map[string]bool{
	"/":        true,
	"/health":  true,
	"/metrics": true,
	"/jobs":    true,
}

// normalizeRoute collapses job IDs into one label and unknown paths into
// "other".
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	rest, ok := strings.CutPrefix(path, "/jobs/")
	if ok && rest != "" && !strings.Contains(rest, "/") {
		return "/jobs/{jobId}"
	}
	return "other"
}

// InstrumentRunner wraps a runner and records the duration and outcome of
// every stage.
func InstrumentRunner(next processor.Runner) processor.Runner {
	return &instrumentedRunner{next: next}
}

type instrumentedRunner struct {
	next processor.Runner
}

func (r *instrumentedRunner) Run(ctx context.Context, stage processor.Stage) error {
	start := time.Now()
	err := r.next.Run(ctx, stage)
	stageDurationSeconds.WithLabelValues(stageLabel(stage.Name), stageResult(err)).Observe(time.Since(start).Seconds())
	return err
}

// stageLabel keeps the label set bounded when a caller uses an unexpected
// stage name.
func stageLabel(name string) string {
	if name == "" || len(name) > 48 {
		return "other"
	}
	return name
}

func stageResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "failed"
	}
}

// ObserveTransition counts a pipeline transition. Failures are also counted
// by the state the run failed after.
func ObserveTransition(ev pipeline.Event) {
	runTransitionsTotal.WithLabelValues(ev.To.String()).Inc()
	if ev.To == pipeline.Failed {
		runFailuresTotal.WithLabelValues(ev.From.String()).Inc()
	}
}
