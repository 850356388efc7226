package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const unmatchedRoute = "unmatched"

var (
	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "studyhub",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP 请求耗时分布（秒），按状态码类别聚合。",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status_class"},
	)

	requestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "studyhub",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP 请求总数。",
		},
		[]string{"method", "route", "status"},
	)

	requestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "studyhub",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "当前正在处理的 HTTP 请求数量。",
		},
	)

	uploadBodyBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "studyhub",
			Subsystem: "http",
			Name:      "upload_body_bytes",
			Help:      "multipart 上传请求体大小（字节）。",
			Buckets:   prometheus.ExponentialBuckets(64<<10, 4, 6),
		},
		[]string{"route"},
	)
)

func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}

func isMultipart(c *gin.Context) bool {
	return strings.HasPrefix(c.ContentType(), "multipart/form-data")
}

// GinMiddleware 采集 HTTP 请求指标，路由标签使用 gin 的路由模板。
// 未匹配路由统一记为 "unmatched"，避免扫描请求撑爆标签基数。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestsInFlight.Inc()
		defer requestsInFlight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		status := c.Writer.Status()
		method := c.Request.Method

		requestDuration.WithLabelValues(method, route, statusClass(status)).Observe(time.Since(start).Seconds())
		requestTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
		if route != unmatchedRoute && isMultipart(c) && c.Request.ContentLength > 0 {
			uploadBodyBytes.WithLabelValues(route).Observe(float64(c.Request.ContentLength))
		}
	}
}
