package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func setupTestMeter(t *testing.T) (*sdkmetric.MeterProvider, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		_ = mp.Shutdown(context.Background())
	})
	return mp, reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

func findMetricByName(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func newMetricsRouter(t *testing.T, mp *sdkmetric.MeterProvider) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mw, err := HTTPMetrics(mp.Meter("http.server"))
	require.NoError(t, err)

	router := gin.New()
	router.Use(mw)
	router.GET("/orders/:id/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "synced"})
	})
	router.POST("/orders/:id/cancel", func(c *gin.Context) {
		c.JSON(http.StatusConflict, gin.H{"error": "cancelled"})
	})
	return router
}

func TestHTTPMetrics_NilMeter(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mw, err := HTTPMetrics(nil)
	require.NoError(t, err)

	router := gin.New()
	router.Use(mw)
	router.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHTTPMetrics_RequestCounterUsesRoutePattern(t *testing.T) {
	mp, reader := setupTestMeter(t)
	router := newMetricsRouter(t, mp)

	for _, id := range []string{"1", "2", "3"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/orders/"+id+"/status", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}

	m := findMetricByName(collectMetrics(t, reader), "http_server_request_total")
	require.NotNil(t, m)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1, "order ids must not create separate series")

	dp := sum.DataPoints[0]
	assert.Equal(t, int64(3), dp.Value)
	route, _ := dp.Attributes.Value(attribute.Key("route"))
	assert.Equal(t, "/orders/:id/status", route.AsString())
	group, _ := dp.Attributes.Value(attribute.Key("status_group"))
	assert.Equal(t, "2xx", group.AsString())
}

func TestHTTPMetrics_StatusGroups(t *testing.T) {
	mp, reader := setupTestMeter(t)
	router := newMetricsRouter(t, mp)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orders/1/status", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/orders/1/cancel", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	m := findMetricByName(collectMetrics(t, reader), "http_server_request_total")
	require.NotNil(t, m)
	sum := m.Data.(metricdata.Sum[int64])

	groups := map[string]string{}
	for _, dp := range sum.DataPoints {
		route, _ := dp.Attributes.Value(attribute.Key("route"))
		group, _ := dp.Attributes.Value(attribute.Key("status_group"))
		groups[route.AsString()] = group.AsString()
	}
	assert.Equal(t, "2xx", groups["/orders/:id/status"])
	assert.Equal(t, "4xx", groups["/orders/:id/cancel"])
	assert.Equal(t, "4xx", groups["unmatched"])
}

func TestHTTPMetrics_RecordsDurationAndActiveRequests(t *testing.T) {
	mp, reader := setupTestMeter(t)
	router := newMetricsRouter(t, mp)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orders/9/status", nil))

	rm := collectMetrics(t, reader)

	duration := findMetricByName(rm, "http_server_request_duration_seconds")
	require.NotNil(t, duration)
	hist, ok := duration.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)

	active := findMetricByName(rm, "http_server_active_requests")
	require.NotNil(t, active)
	gauge := active.Data.(metricdata.Sum[int64])
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(0), gauge.DataPoints[0].Value)
}

func TestHTTPMetricsStatusGroup(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{101, "1xx"},
		{200, "2xx"},
		{201, "2xx"},
		{304, "3xx"},
		{404, "4xx"},
		{409, "4xx"},
		{422, "4xx"},
		{500, "5xx"},
		{503, "5xx"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPMetricsStatusGroup(tt.code), "code %d", tt.code)
	}
}
