package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	activeRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_active_requests",
			Help: "Number of currently active HTTP requests",
		},
	)

	pendingEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "modqueue_pending_entries",
			Help: "Number of entries awaiting moderator review",
		},
	)

	entriesQueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modqueue_entries_queued_total",
			Help: "Total number of entries diverted into the moderation queue",
		},
		[]string{"type"},
	)

	entriesResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modqueue_entries_resolved_total",
			Help: "Total number of entries approved or rejected",
		},
		[]string{"outcome"},
	)
)

// Metrics returns a gin middleware that collects Prometheus metrics
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip metrics endpoint itself
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		activeRequests.Inc()

		c.Next()

		activeRequests.Dec()
		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		// Route template keeps cardinality bounded
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}

		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
	}
}

// SetPendingEntries updates the pending-queue gauge
func SetPendingEntries(count float64) {
	pendingEntries.Set(count)
}

// CountQueued records one entry entering the queue
func CountQueued(entryType string) {
	entriesQueued.WithLabelValues(entryType).Inc()
}

// CountResolved records one entry leaving the queue
func CountResolved(outcome string) {
	entriesResolved.WithLabelValues(outcome).Inc()
}
