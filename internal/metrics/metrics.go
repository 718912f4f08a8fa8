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
			Name: "notify_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notify_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	notificationsScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_notifications_scheduled_total",
			Help: "Accepted schedule requests by type and backend",
		},
		[]string{"type", "backend"},
	)

	notificationsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_notifications_rejected_total",
			Help: "Rejected schedule requests by reason",
		},
		[]string{"reason"},
	)

	notificationsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_notifications_delivered_total",
			Help: "Delivery outcomes by status and channel",
		},
		[]string{"status", "channel"},
	)

	notificationEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_notification_events_total",
			Help: "Click and dismiss events reported back by clients",
		},
		[]string{"event"},
	)

	quietHoursDeferrals = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_quiet_hours_deferrals_total",
			Help: "Notifications pushed past the quiet-hours window",
		},
	)

	backendFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_backend_fallbacks_total",
			Help: "Schedules that fell back to the foreground timer",
		},
	)

	staleSweeps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_stale_sweeps_total",
			Help: "Queued notifications dropped by the staleness sweep",
		},
	)

	pushSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notify_push_send_duration_seconds",
			Help:    "Vendor push API call latency",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5},
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics.
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordScheduled records an accepted schedule request.
func RecordScheduled(notifType, backend string) {
	notificationsScheduled.WithLabelValues(notifType, backend).Inc()
}

// RecordRejected records a rejected schedule request.
func RecordRejected(reason string) {
	notificationsRejected.WithLabelValues(reason).Inc()
}

// RecordDelivered records a delivery outcome.
func RecordDelivered(status, channel string) {
	notificationsDelivered.WithLabelValues(status, channel).Inc()
}

// RecordEvent records a client-reported click or dismiss.
func RecordEvent(event string) {
	notificationEvents.WithLabelValues(event).Inc()
}

// RecordQuietHoursDeferral records a quiet-hours postponement.
func RecordQuietHoursDeferral() {
	quietHoursDeferrals.Inc()
}

// RecordBackendFallback records a fall-through to the foreground timer.
func RecordBackendFallback() {
	backendFallbacks.Inc()
}

// RecordStaleSweep records a notification dropped by the sweep.
func RecordStaleSweep() {
	staleSweeps.Inc()
}

// ObservePushSend records one vendor push call duration.
func ObservePushSend(d time.Duration) {
	pushSendDuration.Observe(d.Seconds())
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
