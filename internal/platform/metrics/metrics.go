package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// once 用来保证指标只注册一次。
	// Prometheus 的 registry 不允许重复注册同名指标，否则会直接 panic。
	once sync.Once

	// HTTPRequestsTotal：累计请求数（Counter）。
	//
	// labels：
	// - method：HTTP 方法，例如 GET/POST
	// - route：路由模板（用 pattern，例如 /api/v1/links/:code；不要用真实 path，否则 label 基数无限）
	// - status：HTTP 状态码字符串，例如 "200"/"401"/"410"
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_request_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDurationSeconds：请求耗时分布（Histogram），用于计算 P95/P99。
	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency distributions.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// HTTPInflightRequests：当前正在处理中的请求数（Gauge）。
	HTTPInflightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests.",
		},
	)

	// HTTPResponseBytes：响应体大小，下载流量主要看这里。
	HTTPResponseBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "HTTP response body sizes.",
			Buckets: prometheus.ExponentialBuckets(256, 4, 10), // 256B ~ 64MiB
		},
		[]string{"method", "route"},
	)

	// CacheOperations：链接缓存命中情况。layer=l1/l2/bloom，result=hit/hit_negative/miss/reject
	CacheOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "link_cache_operations_total",
			Help: "Link cache lookups by layer and result.",
		},
		[]string{"layer", "result"},
	)

	// LinkAccesses：Expiry Enforcer 的判定结果。
	LinkAccesses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "link_access_total",
			Help: "Link access attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// LinksTombstoned：被打墓碑的链接数。reason=views_exhausted/expired/revoked
	LinksTombstoned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "link_tombstoned_total",
			Help: "Links that became permanently inaccessible, by reason.",
		},
		[]string{"reason"},
	)

	// Uploads：上传结果。result=ok/rejected/failed
	Uploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upload_total",
			Help: "Upload attempts by result.",
		},
		[]string{"result"},
	)

	UploadBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "upload_bytes_total",
			Help: "Bytes accepted into the upload store.",
		},
	)

	QRRenders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qr_render_total",
			Help: "QR code renders by frame style.",
		},
		[]string{"frame"},
	)

	AuditEventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_events_dropped_total",
			Help: "Audit events dropped because the collector buffer was full.",
		},
	)
)

// Init 注册指标：只允许注册一次（否则 panic: duplicate metrics collector registration）
func Init() {
	once.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDurationSeconds,
			HTTPInflightRequests,
			HTTPResponseBytes,
			CacheOperations,
			LinkAccesses,
			LinksTombstoned,
			Uploads,
			UploadBytes,
			QRRenders,
			AuditEventsDropped,
		)
	})
}
