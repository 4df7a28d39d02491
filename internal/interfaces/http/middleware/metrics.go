package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/thegunfirm/Mag-Lock-sub003/internal/infrastructure/telemetry"
)

// httpDurationBuckets covers fast status reads up to a slow synchronous sync
var httpDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

type httpMetrics struct {
	requestTotal    *telemetry.Counter
	requestDuration *telemetry.Histogram
	activeRequests  *telemetry.Gauge
}

func newHTTPMetrics(meter metric.Meter) (*httpMetrics, error) {
	requestTotal, err := telemetry.NewCounter(meter,
		"http_server_request_total", "Total number of HTTP requests", "{request}")
	if err != nil {
		return nil, err
	}
	requestDuration, err := telemetry.NewHistogram(meter,
		"http_server_request_duration_seconds", "HTTP request latency distribution in seconds", "s",
		httpDurationBuckets...)
	if err != nil {
		return nil, err
	}
	activeRequests, err := telemetry.NewGauge(meter,
		"http_server_active_requests", "Number of currently active HTTP requests", "{request}")
	if err != nil {
		return nil, err
	}
	return &httpMetrics{
		requestTotal:    requestTotal,
		requestDuration: requestDuration,
		activeRequests:  activeRequests,
	}, nil
}

// HTTPMetrics returns a middleware recording request count, latency and
// in-flight requests by method, route pattern and status group.
// A nil meter yields a pass-through middleware.
func HTTPMetrics(meter metric.Meter) (gin.HandlerFunc, error) {
	if meter == nil {
		return func(c *gin.Context) { c.Next() }, nil
	}
	m, err := newHTTPMetrics(meter)
	if err != nil {
		return nil, err
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		start := time.Now()
		route := getRoutePattern(c)
		method := attribute.String("method", c.Request.Method)

		defer m.activeRequests.Track(ctx, method)()

		c.Next()

		attrs := []attribute.KeyValue{
			method,
			attribute.String("route", route),
			attribute.String("status_group", HTTPMetricsStatusGroup(c.Writer.Status())),
		}
		m.requestTotal.Inc(ctx, attrs...)
		m.requestDuration.RecordDuration(ctx, time.Since(start), attrs...)
	}, nil
}

// getRoutePattern keeps metric cardinality bounded by using the matched
// route template instead of the raw path
func getRoutePattern(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}

// HTTPMetricsStatusGroup buckets a status code into 2xx/3xx/4xx/5xx
func HTTPMetricsStatusGroup(statusCode int) string {
	switch {
	case statusCode >= 500:
		return "5xx"
	case statusCode >= 400:
		return "4xx"
	case statusCode >= 300:
		return "3xx"
	case statusCode >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
