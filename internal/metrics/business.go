package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	orderTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "studyhub",
			Subsystem: "orders",
			Name:      "transitions_total",
			Help:      "订单状态流转次数。",
		},
		[]string{"status"},
	)

	sheetReviewsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "studyhub",
			Subsystem: "sheets",
			Name:      "reviews_total",
			Help:      "讲义审核次数。",
		},
		[]string{"status"},
	)

	sheetDownloadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "studyhub",
			Subsystem: "sheets",
			Name:      "downloads_total",
			Help:      "通过权限校验的讲义下载次数。",
		},
	)

	loginRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "studyhub",
			Subsystem: "auth",
			Name:      "login_rejected_total",
			Help:      "被拒绝的登录请求数。",
		},
		[]string{"reason"},
	)

	uploadsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "studyhub",
			Subsystem: "uploads",
			Name:      "rejected_total",
			Help:      "被拒绝的上传文件数。",
		},
		[]string{"reason"},
	)
)

// RecordOrderTransition 记录订单进入新状态（含新建的 PENDING）。
func RecordOrderTransition(status string) { orderTransitionsTotal.WithLabelValues(status).Inc() }

// RecordSheetReview 记录一次讲义审核结果。
func RecordSheetReview(status string) { sheetReviewsTotal.WithLabelValues(status).Inc() }

// RecordDownload 记录一次成功的下载授权。
func RecordDownload() { sheetDownloadsTotal.Inc() }

// RecordLoginRejected 记录登录被拒绝的原因：rate_limited、locked、invalid_credentials。
func RecordLoginRejected(reason string) { loginRejectedTotal.WithLabelValues(reason).Inc() }

// RecordUploadRejected 记录上传被拒绝的原因：too_large、bad_type、infected、scan_failed。
func RecordUploadRejected(reason string) { uploadsRejectedTotal.WithLabelValues(reason).Inc() }
