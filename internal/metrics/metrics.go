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
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fixer_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fixer_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 5, 15, 60},
		},
		[]string{"method", "path"},
	)

	webhookItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fixer_webhook_items_total",
			Help: "Total webhook batch items by outcome",
		},
		[]string{"outcome"},
	)

	diagnosesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fixer_diagnoses_total",
			Help: "Total diagnoses by terminal status and confidence",
		},
		[]string{"status", "confidence"},
	)

	diagnoseDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fixer_diagnose_duration_seconds",
			Help:    "Reasoning-service call plus parse duration",
			Buckets: []float64{.5, 1, 2, 5, 10, 20, 30, 60},
		},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fixer_rate_limit_rejections_total",
			Help: "Webhook requests rejected by rate limiter",
		},
		[]string{"project_id"},
	)

	alertEmailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fixer_alert_emails_total",
			Help: "Failure alert emails by delivery result",
		},
		[]string{"result"},
	)

	sweptRecordsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fixer_swept_records_total",
			Help: "Stale pending records recovered by the sweeper",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordWebhookItem records the outcome of one batch item
func RecordWebhookItem(outcome string) {
	webhookItemsTotal.WithLabelValues(outcome).Inc()
}

// RecordDiagnosis records a completed diagnosis attempt
func RecordDiagnosis(status, confidence string, duration time.Duration) {
	diagnosesTotal.WithLabelValues(status, confidence).Inc()
	diagnoseDuration.Observe(duration.Seconds())
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection(projectID string) {
	rateLimitRejections.WithLabelValues(projectID).Inc()
}

// RecordAlertEmail records an alert email delivery attempt
func RecordAlertEmail(ok bool) {
	result := "sent"
	if !ok {
		result = "failed"
	}
	alertEmailsTotal.WithLabelValues(result).Inc()
}

// RecordSweptRecord records one stale pending record recovered
func RecordSweptRecord() {
	sweptRecordsTotal.Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
