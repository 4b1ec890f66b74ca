package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

// Segment evaluation operations.
const (
	OpCount    = "count"
	OpFilter   = "filter"
	OpEvaluate = "evaluate"
	OpPreview  = "preview"
	OpCampaign = "campaign"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	httpDur = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	segmentEvals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "segment_evaluations_total",
			Help: "Segment rule set evaluations by operation",
		},
		[]string{"operation"},
	)
	segmentEvalDur = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "segment_evaluation_duration_seconds",
			Help:    "Time spent evaluating one rule set over the user snapshot",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"operation"},
	)
	segmentMatched = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "segment_matched_records",
			Help:    "Users matched per evaluation",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		},
	)

	aiRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "Language model generations by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
)

// Init registers all collectors with the default registry.
func Init() {
	prometheus.MustRegister(httpReqs, httpDur, segmentEvals, segmentEvalDur, segmentMatched, aiRequests)
}

// ObserveEvaluation records one segment evaluation.
func ObserveEvaluation(operation string, d time.Duration, matched int) {
	segmentEvals.WithLabelValues(operation).Inc()
	segmentEvalDur.WithLabelValues(operation).Observe(d.Seconds())
	segmentMatched.Observe(float64(matched))
}

// ObserveAI records one language model generation. outcome is "ok" or an
// error kind such as "quota_exceeded".
func ObserveAI(kind, outcome string) {
	aiRequests.WithLabelValues(kind, outcome).Inc()
}

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		// the route pattern is only complete once routing has run
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}

		httpReqs.WithLabelValues(route, r.Method, strconv.Itoa(ww.status)).Inc()
		httpDur.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
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
