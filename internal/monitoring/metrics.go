package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 提交结果标签
const (
	OutcomeSent     = "sent"
	OutcomeFailed   = "failed"
	OutcomeRejected = "rejected"
)

// Metrics 监控指标
//
// 每个实例使用独立的 Registry，测试中可以重复创建。
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 提交流水线指标
	SubmissionsTotal   *prometheus.CounterVec
	DispatchDuration   *prometheus.HistogramVec
	UploadSize         prometheus.Histogram
	LogAppendFailures  prometheus.Counter
	CleanupFailures    prometheus.Counter
	ArchiveFailures    prometheus.Counter
	JanitorRemoved     prometheus.Counter
	RateLimitBlocks    prometheus.Counter
	PanicsTotal        prometheus.Counter
	WebSocketListeners prometheus.GaugeFunc
}

// NewMetrics 创建监控指标
//
// 参数:
//   - listeners: 返回当前管理端 WebSocket 连接数，可为 nil
func NewMetrics(listeners func() int) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contactform_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "contactform_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		SubmissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contactform_submissions_total",
				Help: "Total number of submissions by outcome",
			},
			[]string{"outcome"},
		),

		DispatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "contactform_dispatch_duration_seconds",
				Help:    "Time spent sending the notification mail",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
			},
			[]string{"outcome"},
		),

		UploadSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "contactform_upload_size_bytes",
				Help:    "Size of stored audio uploads in bytes",
				Buckets: prometheus.ExponentialBuckets(16*1024, 4, 8),
			},
		),

		LogAppendFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "contactform_log_append_failures_total",
				Help: "Submissions that could not be written to the submission log",
			},
		),

		CleanupFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "contactform_cleanup_failures_total",
				Help: "Upload files that could not be removed",
			},
		),

		ArchiveFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "contactform_archive_failures_total",
				Help: "Upload files that could not be archived before removal",
			},
		),

		JanitorRemoved: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "contactform_janitor_removed_total",
				Help: "Orphaned upload files removed by the janitor",
			},
		),

		RateLimitBlocks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "contactform_rate_limit_blocks_total",
				Help: "Requests rejected by the per-IP rate limiter",
			},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "contactform_panics_total",
				Help: "Total number of recovered panics",
			},
		),
	}

	if listeners != nil {
		m.WebSocketListeners = factory.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "contactform_websocket_listeners",
				Help: "Connected admin live-feed clients",
			},
			func() float64 { return float64(listeners()) },
		)
	}

	return m
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordSubmission 记录一次提交的最终结果
func (m *Metrics) RecordSubmission(outcome string) {
	m.SubmissionsTotal.WithLabelValues(outcome).Inc()
}

// RecordDispatch 记录一次邮件投递耗时
func (m *Metrics) RecordDispatch(outcome string, duration time.Duration) {
	m.DispatchDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordUpload 记录上传文件大小
func (m *Metrics) RecordUpload(sizeBytes int64) {
	m.UploadSize.Observe(float64(sizeBytes))
}

// RecordLogAppendFailure 记录提交日志写入失败
func (m *Metrics) RecordLogAppendFailure() {
	m.LogAppendFailures.Inc()
}

// RecordCleanupFailure 记录上传文件删除失败
func (m *Metrics) RecordCleanupFailure() {
	m.CleanupFailures.Inc()
}

// RecordArchiveFailure 记录归档失败
func (m *Metrics) RecordArchiveFailure() {
	m.ArchiveFailures.Inc()
}

// RecordJanitorRemoved 记录清理任务删除的文件数
func (m *Metrics) RecordJanitorRemoved(count int) {
	m.JanitorRemoved.Add(float64(count))
}

// RecordRateLimitBlock 记录被限流的请求
func (m *Metrics) RecordRateLimitBlock() {
	m.RateLimitBlocks.Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// Registry 返回指标注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// HTTPHandler 返回 /metrics 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
