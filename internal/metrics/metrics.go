package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "appdrive",
		Name:      "http_requests_total",
		Help:      "HTTP requests by route, method and status.",
	}, []string{"route", "method", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "appdrive",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})

	quotaReservations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "appdrive",
		Name:      "quota_reservations_total",
		Help:      "Quota reservation attempts by outcome.",
	}, []string{"outcome"})

	uploadSessions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "appdrive",
		Name:      "upload_sessions_total",
		Help:      "Upload sessions reaching a terminal or initial state.",
	}, []string{"status"})

	trashPurged = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "appdrive",
		Name:      "trash_purged_nodes_total",
		Help:      "Trash entries permanently removed by purges.",
	})

	shareResolutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "appdrive",
		Name:      "share_resolutions_total",
		Help:      "Public share resolutions by outcome.",
	}, []string{"outcome"})

	bestEffortFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "appdrive",
		Name:      "best_effort_failures_total",
		Help:      "Failed side effects that did not fail the primary operation.",
	}, []string{"operation"})
)

// InitMetrics registers collectors with the default registry. Safe to call repeatedly.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			quotaReservations,
			uploadSessions,
			trashPurged,
			shareResolutions,
			bestEffortFailures,
		)
	})
}

// Register attaches the Prometheus metrics endpoint to the router.
func Register(router *gin.Engine, path string) {
	router.GET(path, gin.WrapH(promhttp.Handler()))
}

// Middleware records request counts and latency per matched route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}

// QuotaReservation counts a reservation attempt; outcome is "ok", "exceeded" or "error".
func QuotaReservation(outcome string) {
	quotaReservations.WithLabelValues(outcome).Inc()
}

// UploadSession counts an upload session entering status.
func UploadSession(status string) {
	uploadSessions.WithLabelValues(status).Inc()
}

// TrashPurged adds n permanently removed trash entries.
func TrashPurged(n int) {
	trashPurged.Add(float64(n))
}

// ShareResolution counts a public share lookup by outcome.
func ShareResolution(outcome string) {
	shareResolutions.WithLabelValues(outcome).Inc()
}

// BestEffortFailure counts a swallowed side-effect failure.
func BestEffortFailure(operation string) {
	bestEffortFailures.WithLabelValues(operation).Inc()
}
